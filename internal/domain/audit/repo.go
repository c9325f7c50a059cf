package audit

import "context"

type Repository interface {
	Insert(ctx context.Context, e *LogEntry) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*LogEntry, int, error)
	// Prune keeps the newest keep entries and returns how many were removed.
	Prune(ctx context.Context, keep int) (int64, error)
}
