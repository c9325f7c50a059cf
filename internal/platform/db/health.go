package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is anything that can report liveness, such as the pool or a cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is an optional dependency reported next to the database. A failing
// check marks the response degraded but keeps it 200; only the database
// decides between healthy and unhealthy.
type Check struct {
	Name   string
	Pinger Pinger
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return healthHandler(pool, func() *PoolStats { return GetPoolStats(pool) }, checks...)
}

func healthHandler(p Pinger, stats func() *PoolStats, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		body := map[string]interface{}{}
		components := make(map[string]string, len(checks))
		degraded := false
		for _, chk := range checks {
			if err := chk.Pinger.Ping(ctx); err != nil {
				components[chk.Name] = err.Error()
				degraded = true
				continue
			}
			components[chk.Name] = "ok"
		}
		if len(checks) > 0 {
			body["components"] = components
		}

		err := p.Ping(ctx)
		st := stats()
		body["pool"] = st
		if err != nil {
			st.Healthy = false
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		body["status"] = "healthy"
		if degraded {
			body["status"] = "degraded"
		}
		return c.JSON(http.StatusOK, body)
	}
}
