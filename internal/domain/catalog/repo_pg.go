package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protolab/protolab/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// -- Billing Code Repository --

type billingCodeRepoPG struct {
	pool *pgxpool.Pool
}

func NewBillingCodeRepo(pool *pgxpool.Pool) BillingCodeRepository {
	return &billingCodeRepoPG{pool: pool}
}

const billingCodeCols = `code, description, points, price, related_test_name, legacy_next_action_days, created_at, updated_at`

func (r *billingCodeRepoPG) Upsert(ctx context.Context, c *BillingCode) (bool, error) {
	var inserted bool
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing_codes (code, description, points, price, related_test_name, legacy_next_action_days)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (code) DO UPDATE SET
			description=EXCLUDED.description, points=EXCLUDED.points, price=EXCLUDED.price,
			related_test_name=EXCLUDED.related_test_name,
			legacy_next_action_days=EXCLUDED.legacy_next_action_days,
			updated_at=NOW()
		RETURNING created_at, updated_at, (xmax = 0)`,
		c.Code, c.Description, c.Points, c.Price, c.RelatedTestName, c.LegacyNextActionDays,
	).Scan(&c.CreatedAt, &c.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert billing code %s: %w", c.Code, err)
	}
	return inserted, nil
}

func (r *billingCodeRepoPG) Get(ctx context.Context, code string) (*BillingCode, error) {
	c, err := scanBillingCode(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+billingCodeCols+` FROM billing_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillingCodeNotFound
	}
	return c, err
}

func (r *billingCodeRepoPG) GetMany(ctx context.Context, codes []string) ([]*BillingCode, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+billingCodeCols+` FROM billing_codes WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, err
	}
	return collectBillingCodes(rows)
}

func (r *billingCodeRepoPG) List(ctx context.Context) ([]*BillingCode, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+billingCodeCols+` FROM billing_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	return collectBillingCodes(rows)
}

func (r *billingCodeRepoPG) Delete(ctx context.Context, code string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM billing_codes WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingCodeNotFound
	}
	return nil
}

func scanBillingCode(row pgx.Row) (*BillingCode, error) {
	var c BillingCode
	if err := row.Scan(&c.Code, &c.Description, &c.Points, &c.Price,
		&c.RelatedTestName, &c.LegacyNextActionDays, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectBillingCodes(rows pgx.Rows) ([]*BillingCode, error) {
	defer rows.Close()
	var out []*BillingCode
	for rows.Next() {
		c, err := scanBillingCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// -- Protocol Repository --

type protocolRepoPG struct {
	pool *pgxpool.Pool
}

func NewProtocolRepo(pool *pgxpool.Pool) ProtocolRepository {
	return &protocolRepoPG{pool: pool}
}

const protocolCols = `id, name, steps, created_at, updated_at`

func (r *protocolRepoPG) Create(ctx context.Context, p *Protocol) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO protocols (id, name, steps) VALUES ($1,$2,$3)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, steps,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrProtocolExists
	}
	return err
}

func (r *protocolRepoPG) GetByID(ctx context.Context, id string) (*Protocol, error) {
	p, err := scanProtocol(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+protocolCols+` FROM protocols WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProtocolNotFound
	}
	return p, err
}

func (r *protocolRepoPG) Update(ctx context.Context, p *Protocol) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE protocols SET name=$2, steps=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, steps,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProtocolNotFound
	}
	return err
}

func (r *protocolRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM protocols WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProtocolNotFound
	}
	return nil
}

func (r *protocolRepoPG) List(ctx context.Context) ([]*Protocol, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+protocolCols+` FROM protocols ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	var steps []byte
	if err := row.Scan(&p.ID, &p.Name, &steps, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of protocol %s: %w", p.ID, err)
	}
	return &p, nil
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) List(ctx context.Context) ([]*Doctor, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT name, created_at FROM doctors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *doctorRepoPG) Add(ctx context.Context, name string) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `INSERT INTO doctors (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

func (r *doctorRepoPG) Delete(ctx context.Context, name string) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM doctors WHERE name = $1`, name)
	return err
}
