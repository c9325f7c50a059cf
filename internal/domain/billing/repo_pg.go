package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
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

// -- Entry Repository --

type entryRepoPG struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) EntryRepository {
	return &entryRepoPG{pool: pool}
}

const entryCols = `id, patient_id, date, codes, total_points, total_price, notes, type, created_at`

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	codes, err := json.Marshal(e.Codes)
	if err != nil {
		return fmt.Errorf("encode entry codes: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO entries (id, patient_id, date, codes, total_points, total_price, notes, type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		e.ID, e.PatientID, e.Date, codes, e.TotalPoints, e.TotalPrice, e.Notes, string(e.Type),
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+entryCols+` FROM entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func (r *entryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *entryRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM entries WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete entries of patient %s: %w", patientID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *entryRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM entries WHERE patient_id = $1 ORDER BY date DESC, created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectEntries(rows)
	return items, total, err
}

func (r *entryRepoPG) ListRecent(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM entries ORDER BY date DESC, created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectEntries(rows)
	return items, total, err
}

func (r *entryRepoPG) ProtocolStats(ctx context.Context) ([]ProtocolStats, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		WITH current AS (
			SELECT id, COALESCE(NULLIF(active_protocol_id, ''), assigned_protocol_ids[1]) AS protocol_id
			FROM patients
		)
		SELECT c.protocol_id, COUNT(DISTINCT c.id),
			COALESCE(SUM(e.total_points), 0), COALESCE(SUM(e.total_price), 0)
		FROM current c
		LEFT JOIN entries e ON e.patient_id = c.id AND e.type = 'sut'
		WHERE c.protocol_id IS NOT NULL
		GROUP BY c.protocol_id
		ORDER BY c.protocol_id`)
	if err != nil {
		return nil, fmt.Errorf("protocol stats: %w", err)
	}
	defer rows.Close()
	var out []ProtocolStats
	for rows.Next() {
		var s ProtocolStats
		if err := rows.Scan(&s.ProtocolID, &s.Patients, &s.TotalPoints, &s.TotalPrice); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var codes []byte
	var typ string
	if err := row.Scan(&e.ID, &e.PatientID, &e.Date, &codes, &e.TotalPoints, &e.TotalPrice, &e.Notes, &typ, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = EntryType(typ)
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &e.Codes); err != nil {
			return nil, fmt.Errorf("decode codes for entry %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// -- Tender Repository --

type tenderRepoPG struct {
	pool *pgxpool.Pool
}

func NewTenderRepo(pool *pgxpool.Pool) TenderRepository {
	return &tenderRepoPG{pool: pool}
}

const tenderCols = `id, name, start_date, end_date, total_budget, total_patient_quota, protocol_quotas,
	current_spent, active, created_at, updated_at`

func (r *tenderRepoPG) Create(ctx context.Context, t *Tender) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	quotas, err := json.Marshal(quotasOrEmpty(t.ProtocolQuotas))
	if err != nil {
		return fmt.Errorf("encode protocol quotas: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tenders (id, name, start_date, end_date, total_budget, total_patient_quota, protocol_quotas, current_spent, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.StartDate, t.EndDate, t.TotalBudget, t.TotalPatientQuota, quotas, t.CurrentSpent, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tender: %w", err)
	}
	return nil
}

func (r *tenderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tender, error) {
	t, err := scanTender(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+tenderCols+` FROM tenders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenderNotFound
	}
	return t, err
}

func (r *tenderRepoPG) Update(ctx context.Context, t *Tender) error {
	quotas, err := json.Marshal(quotasOrEmpty(t.ProtocolQuotas))
	if err != nil {
		return fmt.Errorf("encode protocol quotas: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE tenders SET name=$2, start_date=$3, end_date=$4, total_budget=$5, total_patient_quota=$6,
			protocol_quotas=$7, active=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING current_spent, updated_at`,
		t.ID, t.Name, t.StartDate, t.EndDate, t.TotalBudget, t.TotalPatientQuota, quotas, t.Active,
	).Scan(&t.CurrentSpent, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTenderNotFound
	}
	return err
}

func (r *tenderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM tenders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTenderNotFound
	}
	return nil
}

func (r *tenderRepoPG) List(ctx context.Context) ([]*Tender, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+tenderCols+` FROM tenders ORDER BY active DESC, start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Tender
	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *tenderRepoPG) SetSpent(ctx context.Context, id uuid.UUID, spent float64) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `UPDATE tenders SET current_spent = $2, updated_at = NOW() WHERE id = $1`, id, spent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTenderNotFound
	}
	return nil
}

func scanTender(row pgx.Row) (*Tender, error) {
	var t Tender
	var quotas []byte
	err := row.Scan(&t.ID, &t.Name, &t.StartDate, &t.EndDate, &t.TotalBudget, &t.TotalPatientQuota, &quotas,
		&t.CurrentSpent, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(quotas) > 0 {
		if err := json.Unmarshal(quotas, &t.ProtocolQuotas); err != nil {
			return nil, fmt.Errorf("decode quotas for tender %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func quotasOrEmpty(q []ProtocolQuota) []ProtocolQuota {
	if q == nil {
		return []ProtocolQuota{}
	}
	return q
}

// -- Invoice Repository --

type invoiceRepoPG struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

const invoiceCols = `id, tender_id, date, amount, description, billed_protocols, created_at`

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	items := inv.BilledProtocols
	if items == nil {
		items = []BilledProtocolItem{}
	}
	billed, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode billed protocols: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invoices (id, tender_id, date, amount, description, billed_protocols)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		inv.ID, inv.TenderID, inv.Date, inv.Amount, inv.Description, billed,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *invoiceRepoPG) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]*Invoice, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE tender_id = $1 ORDER BY date DESC, created_at DESC`, tenderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var billed []byte
	if err := row.Scan(&inv.ID, &inv.TenderID, &inv.Date, &inv.Amount, &inv.Description, &billed, &inv.CreatedAt); err != nil {
		return nil, err
	}
	if len(billed) > 0 {
		if err := json.Unmarshal(billed, &inv.BilledProtocols); err != nil {
			return nil, fmt.Errorf("decode billed protocols for invoice %s: %w", inv.ID, err)
		}
	}
	return &inv, nil
}
