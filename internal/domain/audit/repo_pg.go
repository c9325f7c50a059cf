package audit

import (
	"context"
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

const logCols = `id, timestamp, user_id, action, details`

func (r *repoPG) Insert(ctx context.Context, e *LogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO audit_log (id, timestamp, user_id, action, details) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.Timestamp, e.User, e.Action, e.Details)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*LogEntry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if params.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, params.Action)
		idx++
	}
	if params.User != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, params.User)
		idx++
	}
	if params.Query != "" {
		where = append(where, fmt.Sprintf("details ILIKE $%d", idx))
		args = append(args, "%"+params.Query+"%")
		idx++
	}
	if params.Since != nil {
		where = append(where, fmt.Sprintf("timestamp >= $%d", idx))
		args = append(args, *params.Since)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_log %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		logCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.User, &e.Action, &e.Details); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Prune(ctx context.Context, keep int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM audit_log WHERE id IN (
			SELECT id FROM audit_log ORDER BY timestamp DESC OFFSET $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}
