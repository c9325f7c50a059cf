package billing

import (
	"context"

	"github.com/google/uuid"
)

type EntryRepository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteByPatient removes every entry of a patient and returns how many.
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*Entry, int, error)
	// ProtocolStats groups patients by their current protocol (falling back
	// to the first assigned one) and sums their sut entries.
	ProtocolStats(ctx context.Context) ([]ProtocolStats, error)
}

type TenderRepository interface {
	Create(ctx context.Context, t *Tender) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tender, error)
	Update(ctx context.Context, t *Tender) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Tender, error)
	// SetSpent stores the derived spent amount.
	SetSpent(ctx context.Context, id uuid.UUID, spent float64) error
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTender(ctx context.Context, tenderID uuid.UUID) ([]*Invoice, error)
}
