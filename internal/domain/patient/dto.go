package patient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/protolab/protolab/internal/domain/billing"
)

// Date accepts either a calendar date ("2006-01-02") or an RFC 3339
// timestamp and always normalises to midnight UTC.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// Ptr returns nil for the zero date.
func (d *Date) Ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := DayStart(d.Time)
	return &t
}

// ParseDate parses a calendar date or RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return DayStart(t), nil
}

type CreateRequest struct {
	ProtocolNo           string   `json:"protocol_no"`
	TissueType           string   `json:"tissue_type"`
	TestName             string   `json:"test_name"`
	RequestingDoctor     string   `json:"requesting_doctor"`
	AdmissionDate        Date     `json:"admission_date"`
	Notes                string   `json:"notes"`
	ProtocolIDs          []string `json:"protocol_ids"`
	InterProtocolGapDays *int     `json:"inter_protocol_gap_days"`
	EntryFrequencyDays   *int     `json:"entry_frequency_days"`
}

// UpdateRequest edits demographics and settings. Nil fields are left alone.
// Schedule state is only changed through actions and status changes.
type UpdateRequest struct {
	ProtocolNo           *string  `json:"protocol_no"`
	TissueType           *string  `json:"tissue_type"`
	TestName             *string  `json:"test_name"`
	RequestingDoctor     *string  `json:"requesting_doctor"`
	AdmissionDate        *Date    `json:"admission_date"`
	Notes                *string  `json:"notes"`
	ProtocolIDs          []string `json:"protocol_ids"`
	InterProtocolGapDays *int     `json:"inter_protocol_gap_days"`
	EntryFrequencyDays   *int     `json:"entry_frequency_days"`
}

type ActionRequest struct {
	Date  Date     `json:"date"`
	Codes []string `json:"codes"`
	Notes string   `json:"notes"`
}

type StatusRequest struct {
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	EffectiveDate Date   `json:"effective_date"`
}

type ProcessRequest struct {
	ProtocolID           string `json:"protocol_id"`
	WorkStartDate        *Date  `json:"work_start_date"`
	DataShareDate        *Date  `json:"data_share_date"`
	PreAnalysisDate      *Date  `json:"pre_analysis_date"`
	ReportDate           *Date  `json:"report_date"`
	IsRepeated           bool   `json:"is_repeated"`
	RepeatWorkDate       *Date  `json:"repeat_work_date"`
	IsRepeatedSecond     bool   `json:"is_repeated_second"`
	RepeatWorkDateSecond *Date  `json:"repeat_work_date_second"`
}

// ActionResult is what RecordAction reports back: the saved patient, the
// ledger entry and which scheduler branch fired.
type ActionResult struct {
	Patient *Patient       `json:"patient"`
	Entry   *billing.Entry `json:"entry"`
	Outcome Outcome        `json:"outcome"`
}
