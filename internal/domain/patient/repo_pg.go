package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, protocol_no, tissue_type, test_name, requesting_doctor, admission_date, notes,
	assigned_protocol_ids, active_protocol_id, current_step_index, inter_protocol_gap_days,
	next_scheduled_date, next_scheduled_note, last_entry_date, entry_frequency_days,
	status, status_reason, status_date, processes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	procs, err := marshalProcesses(p.Processes)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, protocol_no, tissue_type, test_name, requesting_doctor, admission_date, notes,
			assigned_protocol_ids, active_protocol_id, current_step_index, inter_protocol_gap_days,
			next_scheduled_date, next_scheduled_note, last_entry_date, entry_frequency_days,
			status, status_reason, status_date, processes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		p.ID, p.ProtocolNo, p.TissueType, p.TestName, p.RequestingDoctor, p.AdmissionDate, p.Notes,
		assignedOrEmpty(p.AssignedProtocolIDs), p.ActiveProtocolID, p.CurrentStepIndex, p.InterProtocolGapDays,
		p.NextScheduledDate, p.NextScheduledNote, p.LastEntryDate, p.EntryFrequencyDays,
		string(p.Status), p.StatusReason, p.StatusDate, procs,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateProtocolNo, p.ProtocolNo)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
}

func (r *repoPG) GetByProtocolNo(ctx context.Context, protocolNo string) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE lower(protocol_no) = lower($1)`,
		strings.TrimSpace(protocolNo))
}

func (r *repoPG) getOne(ctx context.Context, sql string, arg interface{}) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	procs, err := marshalProcesses(p.Processes)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			protocol_no=$2, tissue_type=$3, test_name=$4, requesting_doctor=$5, admission_date=$6, notes=$7,
			assigned_protocol_ids=$8, active_protocol_id=$9, current_step_index=$10, inter_protocol_gap_days=$11,
			next_scheduled_date=$12, next_scheduled_note=$13, last_entry_date=$14, entry_frequency_days=$15,
			status=$16, status_reason=$17, status_date=$18, processes=$19, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.ProtocolNo, p.TissueType, p.TestName, p.RequestingDoctor, p.AdmissionDate, p.Notes,
		assignedOrEmpty(p.AssignedProtocolIDs), p.ActiveProtocolID, p.CurrentStepIndex, p.InterProtocolGapDays,
		p.NextScheduledDate, p.NextScheduledNote, p.LastEntryDate, p.EntryFrequencyDays,
		string(p.Status), p.StatusReason, p.StatusDate, procs,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateProtocolNo, p.ProtocolNo)
	}
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.ID, err)
	}
	return nil
}

// isUniqueViolation reports a 23505 from the protocol_no unique index.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.Search(ctx, SearchParams{}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	query := `SELECT ` + patientCols + ` FROM patients WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM patients WHERE 1=1`
	var args []interface{}
	idx := 1

	if params.Query != "" {
		clause := fmt.Sprintf(` AND (protocol_no ILIKE $%d OR test_name ILIKE $%d OR notes ILIKE $%d)`, idx, idx, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+params.Query+"%")
		idx++
	}
	if params.Status != "" {
		clause := fmt.Sprintf(` AND status = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, string(params.Status))
		idx++
	}
	if params.ProtocolID != "" {
		clause := fmt.Sprintf(` AND $%d = ANY(assigned_protocol_ids)`, idx)
		query += clause
		countQuery += clause
		args = append(args, params.ProtocolID)
		idx++
	}
	if params.RequestingDoctor != "" {
		clause := fmt.Sprintf(` AND requesting_doctor = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, params.RequestingDoctor)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY admission_date DESC, protocol_no LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	items, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE status = $1 ORDER BY next_scheduled_date NULLS LAST, protocol_no`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list patients by status: %w", err)
	}
	return collectPatients(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM patients GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count patients by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var status string
	var procs []byte
	err := row.Scan(&p.ID, &p.ProtocolNo, &p.TissueType, &p.TestName, &p.RequestingDoctor, &p.AdmissionDate, &p.Notes,
		&p.AssignedProtocolIDs, &p.ActiveProtocolID, &p.CurrentStepIndex, &p.InterProtocolGapDays,
		&p.NextScheduledDate, &p.NextScheduledNote, &p.LastEntryDate, &p.EntryFrequencyDays,
		&status, &p.StatusReason, &p.StatusDate, &procs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if len(procs) > 0 {
		if err := json.Unmarshal(procs, &p.Processes); err != nil {
			return nil, fmt.Errorf("decode processes for patient %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func marshalProcesses(procs []ProtocolProcess) ([]byte, error) {
	if procs == nil {
		procs = []ProtocolProcess{}
	}
	b, err := json.Marshal(procs)
	if err != nil {
		return nil, fmt.Errorf("encode processes: %w", err)
	}
	return b, nil
}

func assignedOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
