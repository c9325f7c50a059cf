package catalog

import "context"

type BillingCodeRepository interface {
	// Upsert inserts or replaces c and reports whether it was new.
	Upsert(ctx context.Context, c *BillingCode) (bool, error)
	Get(ctx context.Context, code string) (*BillingCode, error)
	GetMany(ctx context.Context, codes []string) ([]*BillingCode, error)
	List(ctx context.Context) ([]*BillingCode, error)
	Delete(ctx context.Context, code string) error
}

type ProtocolRepository interface {
	Create(ctx context.Context, p *Protocol) error
	GetByID(ctx context.Context, id string) (*Protocol, error)
	Update(ctx context.Context, p *Protocol) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Protocol, error)
}

type DoctorRepository interface {
	List(ctx context.Context) ([]*Doctor, error)
	Add(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}
