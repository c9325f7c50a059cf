package catalog

import (
	"strings"
	"time"
)

// BillingCode maps to the billing_codes table. Code is the natural key.
type BillingCode struct {
	Code                 string    `db:"code" json:"code"`
	Description          string    `db:"description" json:"description"`
	Points               float64   `db:"points" json:"points"`
	Price                float64   `db:"price" json:"price"`
	RelatedTestName      *string   `db:"related_test_name" json:"related_test_name,omitempty"`
	LegacyNextActionDays *int      `db:"legacy_next_action_days" json:"legacy_next_action_days,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// ProtocolStep is one stage of a protocol, gated by RequiredCode.
// DaysAfterPrevious counts from the previous step's completion, or from the
// protocol start for the first step.
type ProtocolStep struct {
	StepNumber        int     `json:"step_number"`
	RequiredCode      string  `json:"required_code"`
	DaysAfterPrevious int     `json:"days_after_previous"`
	Note              *string `json:"note,omitempty"`
}

// Label is the step's note, or its required code when it has none.
func (s ProtocolStep) Label() string {
	if s.Note != nil && strings.TrimSpace(*s.Note) != "" {
		return *s.Note
	}
	return s.RequiredCode
}

// Protocol maps to the protocols table; Steps is stored as JSONB.
type Protocol struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Steps     []ProtocolStep `db:"steps" json:"steps"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Step sequences are values. The helpers below always build a fresh slice so
// a list already handed to a caller is never patched in place.

// Renumbered returns a copy of steps numbered 1..n.
func Renumbered(steps []ProtocolStep) []ProtocolStep {
	out := make([]ProtocolStep, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].StepNumber = i + 1
	}
	return out
}

// WithStep returns p's steps with s appended and renumbered.
func (p Protocol) WithStep(s ProtocolStep) []ProtocolStep {
	out := make([]ProtocolStep, 0, len(p.Steps)+1)
	out = append(out, p.Steps...)
	out = append(out, s)
	return Renumbered(out)
}

// WithoutStep returns p's steps minus the step at index i, renumbered. An out
// of range index yields an unchanged copy.
func (p Protocol) WithoutStep(i int) []ProtocolStep {
	if i < 0 || i >= len(p.Steps) {
		return Renumbered(p.Steps)
	}
	out := make([]ProtocolStep, 0, len(p.Steps)-1)
	out = append(out, p.Steps[:i]...)
	out = append(out, p.Steps[i+1:]...)
	return Renumbered(out)
}

// ProtocolLookup is the read-only catalog view the scheduling core consumes.
type ProtocolLookup interface {
	Protocol(id string) (Protocol, bool)
}

// ProtocolSet is an in-memory ProtocolLookup keyed by protocol id.
type ProtocolSet map[string]Protocol

func NewProtocolSet(protocols ...Protocol) ProtocolSet {
	s := make(ProtocolSet, len(protocols))
	for _, p := range protocols {
		s[p.ID] = p
	}
	return s
}

func (s ProtocolSet) Protocol(id string) (Protocol, bool) {
	p, ok := s[id]
	return p, ok
}

// Doctor is a requesting physician offered on patient intake.
type Doctor struct {
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
