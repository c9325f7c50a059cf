package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/protolab/protolab/internal/domain/catalog"
)

type EntryType string

const (
	// EntryTypeSUT is a billable action made of billing codes.
	EntryTypeSUT EntryType = "sut"
	// EntryTypeStatusChange is a zero-value marker written when a patient's
	// status changes.
	EntryTypeStatusChange EntryType = "status_change"
)

// Entry maps to the entries table. Codes is a snapshot of the catalog at the
// time of entry, stored as JSONB.
type Entry struct {
	ID          uuid.UUID             `db:"id" json:"id"`
	PatientID   uuid.UUID             `db:"patient_id" json:"patient_id"`
	Date        time.Time             `db:"date" json:"date"`
	Codes       []catalog.BillingCode `db:"codes" json:"codes"`
	TotalPoints float64               `db:"total_points" json:"total_points"`
	TotalPrice  float64               `db:"total_price" json:"total_price"`
	Notes       string                `db:"notes" json:"notes"`
	Type        EntryType             `db:"type" json:"type"`
	CreatedAt   time.Time             `db:"created_at" json:"created_at"`
}

// Recalculate sets the totals from the code snapshot.
func (e *Entry) Recalculate() {
	e.TotalPoints, e.TotalPrice = 0, 0
	for _, c := range e.Codes {
		e.TotalPoints += c.Points
		e.TotalPrice += c.Price
	}
}

// CodeList returns the entry's code identifiers in order.
func (e *Entry) CodeList() []string {
	out := make([]string, 0, len(e.Codes))
	for _, c := range e.Codes {
		out = append(out, c.Code)
	}
	return out
}

type ProtocolQuota struct {
	ProtocolID   string `json:"protocol_id"`
	ProtocolName string `json:"protocol_name"`
	Quota        int    `json:"quota"`
}

// Tender maps to the tenders table. ProtocolQuotas is stored as JSONB.
// CurrentSpent is derived from the tender's invoices.
type Tender struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	StartDate         time.Time       `db:"start_date" json:"start_date"`
	EndDate           time.Time       `db:"end_date" json:"end_date"`
	TotalBudget       float64         `db:"total_budget" json:"total_budget"`
	TotalPatientQuota int             `db:"total_patient_quota" json:"total_patient_quota"`
	ProtocolQuotas    []ProtocolQuota `db:"protocol_quotas" json:"protocol_quotas"`
	CurrentSpent      float64         `db:"current_spent" json:"current_spent"`
	Active            bool            `db:"active" json:"active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

type BilledProtocolItem struct {
	ProtocolID   string `json:"protocol_id"`
	ProtocolName string `json:"protocol_name"`
	Count        int    `json:"count"`
}

// Invoice maps to the invoices table. BilledProtocols is stored as JSONB.
type Invoice struct {
	ID              uuid.UUID            `db:"id" json:"id"`
	TenderID        uuid.UUID            `db:"tender_id" json:"tender_id"`
	Date            time.Time            `db:"date" json:"date"`
	Amount          float64              `db:"amount" json:"amount"`
	Description     string               `db:"description" json:"description"`
	BilledProtocols []BilledProtocolItem `db:"billed_protocols" json:"billed_protocols"`
	CreatedAt       time.Time            `db:"created_at" json:"created_at"`
}

// ProtocolStats aggregates patients by the protocol they currently sit in,
// with the sum of their ledger entries.
type ProtocolStats struct {
	ProtocolID  string  `json:"protocol_id"`
	Patients    int     `json:"patients"`
	TotalPoints float64 `json:"total_points"`
	TotalPrice  float64 `json:"total_price"`
}

type QuotaLine struct {
	ProtocolID   string  `json:"protocol_id"`
	ProtocolName string  `json:"protocol_name"`
	Quota        int     `json:"quota"`
	Realized     int     `json:"realized"`
	TotalPoints  float64 `json:"total_points"`
	TotalPrice   float64 `json:"total_price"`
	Billed       int     `json:"billed"`
	Diff         int     `json:"diff"`
}

type QuotaReport struct {
	TenderID          uuid.UUID   `json:"tender_id"`
	TenderName        string      `json:"tender_name"`
	TotalBudget       float64     `json:"total_budget"`
	CurrentSpent      float64     `json:"current_spent"`
	RemainingBudget   float64     `json:"remaining_budget"`
	PercentUsed       float64     `json:"percent_used"`
	TotalPatientQuota int         `json:"total_patient_quota"`
	Lines             []QuotaLine `json:"lines"`
}

// BuildQuotaReport compares each quota against realized patients and the
// counts already billed on the tender's invoices.
func BuildQuotaReport(t *Tender, stats []ProtocolStats, invoices []*Invoice) QuotaReport {
	byProtocol := make(map[string]ProtocolStats, len(stats))
	for _, s := range stats {
		byProtocol[s.ProtocolID] = s
	}
	billed := make(map[string]int)
	for _, inv := range invoices {
		for _, item := range inv.BilledProtocols {
			billed[item.ProtocolID] += item.Count
		}
	}

	r := QuotaReport{
		TenderID:          t.ID,
		TenderName:        t.Name,
		TotalBudget:       t.TotalBudget,
		CurrentSpent:      t.CurrentSpent,
		RemainingBudget:   t.TotalBudget - t.CurrentSpent,
		TotalPatientQuota: t.TotalPatientQuota,
		Lines:             make([]QuotaLine, 0, len(t.ProtocolQuotas)),
	}
	if t.TotalBudget > 0 {
		r.PercentUsed = t.CurrentSpent / t.TotalBudget * 100
	}
	for _, q := range t.ProtocolQuotas {
		s := byProtocol[q.ProtocolID]
		r.Lines = append(r.Lines, QuotaLine{
			ProtocolID:   q.ProtocolID,
			ProtocolName: q.ProtocolName,
			Quota:        q.Quota,
			Realized:     s.Patients,
			TotalPoints:  s.TotalPoints,
			TotalPrice:   s.TotalPrice,
			Billed:       billed[q.ProtocolID],
			Diff:         s.Patients - billed[q.ProtocolID],
		})
	}
	return r
}
