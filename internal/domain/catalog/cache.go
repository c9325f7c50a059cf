package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/platform/cache"
)

// CacheRecorder counts cache lookups by result ("hit", "miss", "error").
type CacheRecorder interface {
	CacheLookup(result string)
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) CacheLookup(string) {}

// CachedProtocolRepository serves GetByID from a cache.Store and drops the
// cached entry on every write. Cache failures fall through to the backing
// repository; they are logged, never returned.
type CachedProtocolRepository struct {
	ProtocolRepository
	store   cache.Store
	ttl     time.Duration
	metrics CacheRecorder
	logger  zerolog.Logger
}

func NewCachedProtocolRepo(next ProtocolRepository, store cache.Store, ttl time.Duration, metrics CacheRecorder, logger zerolog.Logger) *CachedProtocolRepository {
	if metrics == nil {
		metrics = nopCacheRecorder{}
	}
	return &CachedProtocolRepository{
		ProtocolRepository: next,
		store:              store,
		ttl:                ttl,
		metrics:            metrics,
		logger:             logger.With().Str("component", "protocol_cache").Logger(),
	}
}

func protocolKey(id string) string { return "protocol:" + id }

func (r *CachedProtocolRepository) GetByID(ctx context.Context, id string) (*Protocol, error) {
	b, err := r.store.Get(ctx, protocolKey(id))
	switch {
	case err == nil:
		var p Protocol
		if jerr := json.Unmarshal(b, &p); jerr == nil {
			r.metrics.CacheLookup("hit")
			return &p, nil
		}
		r.metrics.CacheLookup("error")
	case errors.Is(err, cache.ErrMiss):
		r.metrics.CacheLookup("miss")
	default:
		r.metrics.CacheLookup("error")
		r.logger.Warn().Err(err).Str("protocol_id", id).Msg("protocol cache read failed")
	}

	p, err := r.ProtocolRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := r.store.Set(ctx, protocolKey(id), b, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("protocol_id", id).Msg("protocol cache write failed")
		}
	}
	return p, nil
}

func (r *CachedProtocolRepository) Update(ctx context.Context, p *Protocol) error {
	if err := r.ProtocolRepository.Update(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, p.ID)
	return nil
}

func (r *CachedProtocolRepository) Delete(ctx context.Context, id string) error {
	if err := r.ProtocolRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedProtocolRepository) invalidate(ctx context.Context, id string) {
	if err := r.store.Delete(ctx, protocolKey(id)); err != nil {
		r.logger.Warn().Err(err).Str("protocol_id", id).Msg("protocol cache invalidation failed")
	}
}
