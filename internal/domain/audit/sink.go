package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/platform/auth"
)

type Recorder interface {
	AuditWritten()
}

// Sink persists domain events to the audit log. It never fails the caller:
// write errors are logged and dropped.
type Sink struct {
	repo    Repository
	keep    int
	metrics Recorder
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSink keeps at most keep entries; keep <= 0 disables pruning.
func NewSink(repo Repository, keep int, metrics Recorder, logger zerolog.Logger) *Sink {
	return &Sink{
		repo:    repo,
		keep:    keep,
		metrics: metrics,
		logger:  logger.With().Str("component", "audit").Logger(),
		now:     time.Now,
	}
}

func (s *Sink) RecordEvent(ctx context.Context, kind, message string) {
	user := auth.UserIDFromContext(ctx)
	if user == "" {
		user = SystemUser
	}
	e := &LogEntry{
		Timestamp: s.now().UTC(),
		User:      user,
		Action:    kind,
		Details:   message,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("action", kind).Str("user", user).Msg("audit write failed")
		return
	}
	s.metrics.AuditWritten()

	if s.keep <= 0 {
		return
	}
	if n, err := s.repo.Prune(ctx, s.keep); err != nil {
		s.logger.Warn().Err(err).Msg("audit prune failed")
	} else if n > 0 {
		s.logger.Debug().Int64("removed", n).Msg("audit log pruned")
	}
}

func (s *Sink) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*LogEntry, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
