package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/protolab/protolab/internal/domain/catalog"
)

// Status is the clinical state of a patient. Only active patients have an
// actionable schedule.
type Status string

const (
	StatusActive       Status = "active"
	StatusHospitalized Status = "hospitalized"
	StatusPaused       Status = "paused"
	StatusEx           Status = "ex"
	StatusCompleted    Status = "completed"
	StatusArchived     Status = "archived"
)

func AllStatuses() []Status {
	return []Status{StatusActive, StatusHospitalized, StatusPaused, StatusEx, StatusCompleted, StatusArchived}
}

func (s Status) Valid() bool {
	_, ok := transitionTable[s]
	return ok
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Suspended reports whether the status keeps the schedule dormant but
// resumable.
func (s Status) Suspended() bool {
	return s == StatusHospitalized || s == StatusPaused
}

// ProtocolProcess is per-protocol lab bookkeeping. The scheduler never reads
// or writes it.
type ProtocolProcess struct {
	ProtocolID           string     `json:"protocol_id"`
	ProtocolName         string     `json:"protocol_name"`
	WorkStartDate        *time.Time `json:"work_start_date,omitempty"`
	DataShareDate        *time.Time `json:"data_share_date,omitempty"`
	PreAnalysisDate      *time.Time `json:"pre_analysis_date,omitempty"`
	ReportDate           *time.Time `json:"report_date,omitempty"`
	IsRepeated           bool       `json:"is_repeated"`
	RepeatWorkDate       *time.Time `json:"repeat_work_date,omitempty"`
	IsRepeatedSecond     bool       `json:"is_repeated_second"`
	RepeatWorkDateSecond *time.Time `json:"repeat_work_date_second,omitempty"`
}

// Patient maps to the patients table. Processes is stored as JSONB.
type Patient struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ProtocolNo       string    `db:"protocol_no" json:"protocol_no"`
	TissueType       string    `db:"tissue_type" json:"tissue_type"`
	TestName         string    `db:"test_name" json:"test_name"`
	RequestingDoctor string    `db:"requesting_doctor" json:"requesting_doctor"`
	AdmissionDate    time.Time `db:"admission_date" json:"admission_date"`
	Notes            string    `db:"notes" json:"notes"`

	AssignedProtocolIDs  []string   `db:"assigned_protocol_ids" json:"assigned_protocol_ids"`
	ActiveProtocolID     string     `db:"active_protocol_id" json:"active_protocol_id"`
	CurrentStepIndex     int        `db:"current_step_index" json:"current_step_index"`
	InterProtocolGapDays int        `db:"inter_protocol_gap_days" json:"inter_protocol_gap_days"`
	NextScheduledDate    *time.Time `db:"next_scheduled_date" json:"next_scheduled_date,omitempty"`
	NextScheduledNote    *string    `db:"next_scheduled_note" json:"next_scheduled_note,omitempty"`
	LastEntryDate        *time.Time `db:"last_entry_date" json:"last_entry_date,omitempty"`
	EntryFrequencyDays   int        `db:"entry_frequency_days" json:"entry_frequency_days"`

	Status       Status     `db:"status" json:"status"`
	StatusReason *string    `db:"status_reason" json:"status_reason,omitempty"`
	StatusDate   *time.Time `db:"status_date" json:"status_date,omitempty"`

	Processes []ProtocolProcess `db:"processes" json:"processes"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (p Patient) Clone() Patient {
	out := p
	out.AssignedProtocolIDs = append([]string(nil), p.AssignedProtocolIDs...)
	out.Processes = append([]ProtocolProcess(nil), p.Processes...)
	out.NextScheduledDate = cloneTime(p.NextScheduledDate)
	out.LastEntryDate = cloneTime(p.LastEntryDate)
	out.StatusDate = cloneTime(p.StatusDate)
	out.NextScheduledNote = cloneString(p.NextScheduledNote)
	out.StatusReason = cloneString(p.StatusReason)
	return out
}

func (p Patient) protocolPosition(id string) int {
	for i, pid := range p.AssignedProtocolIDs {
		if pid == id {
			return i
		}
	}
	return -1
}

// ActionRecord is a billing entry that may advance the patient's protocol.
type ActionRecord struct {
	PatientID uuid.UUID             `json:"patient_id"`
	Date      time.Time             `json:"date"`
	Codes     []catalog.BillingCode `json:"codes"`
	Notes     string                `json:"notes"`
}

// Outcome names the scheduler branch an action took.
type Outcome string

const (
	OutcomeLegacy       Outcome = "legacy"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeNoMatch      Outcome = "no_match"
	OutcomeAdvanced     Outcome = "advanced"
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeCompleted    Outcome = "completed"
)

// AuditEvent is emitted by status transitions for the caller to persist.
type AuditEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PhaseKind classifies an assigned protocol relative to the active one.
type PhaseKind string

const (
	PhasePast    PhaseKind = "past"
	PhaseCurrent PhaseKind = "current"
	PhaseFuture  PhaseKind = "future"
)

// StepState classifies a step of the current protocol.
type StepState string

const (
	StepDone      StepState = "done"
	StepPending   StepState = "pending"
	StepProjected StepState = "projected"
)

type StepProjection struct {
	StepNumber   int        `json:"step_number"`
	RequiredCode string     `json:"required_code"`
	Label        string     `json:"label"`
	State        StepState  `json:"state"`
	Date         *time.Time `json:"date,omitempty"`
}

// Phase is one assigned protocol in a timeline. Only the current phase has
// Steps; past and future phases carry a Summary instead.
type Phase struct {
	ProtocolID   string           `json:"protocol_id"`
	ProtocolName string           `json:"protocol_name"`
	Kind         PhaseKind        `json:"kind"`
	Summary      string           `json:"summary,omitempty"`
	Steps        []StepProjection `json:"steps,omitempty"`
}

// DayStart truncates t to midnight UTC. Schedule dates carry no time of day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addDays(t time.Time, n int) *time.Time {
	d := DayStart(t).AddDate(0, 0, n)
	return &d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func strPtr(s string) *string { return &s }
