package patient

import (
	"context"

	"github.com/google/uuid"
)

// SearchParams filters patient lists. Empty fields match everything.
type SearchParams struct {
	Query            string
	Status           Status
	ProtocolID       string
	RequestingDoctor string
}

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetByProtocolNo matches case-insensitively on the trimmed number.
	GetByProtocolNo(ctx context.Context, protocolNo string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error)
	ListByStatus(ctx context.Context, status Status) ([]*Patient, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
