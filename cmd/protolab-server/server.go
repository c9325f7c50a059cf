package main

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/config"
	"github.com/protolab/protolab/internal/domain/audit"
	"github.com/protolab/protolab/internal/domain/billing"
	"github.com/protolab/protolab/internal/domain/catalog"
	"github.com/protolab/protolab/internal/domain/patient"
	"github.com/protolab/protolab/internal/platform/analysis"
	"github.com/protolab/protolab/internal/platform/auth"
	"github.com/protolab/protolab/internal/platform/cache"
	"github.com/protolab/protolab/internal/platform/db"
	"github.com/protolab/protolab/internal/platform/metrics"
	"github.com/protolab/protolab/internal/platform/middleware"
)

const version = "0.1.0"

// newServer wires every domain onto a fresh echo instance. store may be nil,
// in which case protocols are read straight from PostgreSQL.
func newServer(cfg *config.Config, pool *pgxpool.Pool, store cache.Store, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	collector := metrics.NewCollector("protolab")

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(collector.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var checks []db.Check
	if p, ok := store.(db.Pinger); ok {
		checks = append(checks, db.Check{Name: "cache", Pinger: p})
	}
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	tx := db.NewTransactor(pool)

	auditSink := audit.NewSink(audit.NewRepo(pool), cfg.AuditRetention, collector, logger)
	audit.NewHandler(auditSink).RegisterRoutes(apiV1)

	var protocolRepo catalog.ProtocolRepository = catalog.NewProtocolRepo(pool)
	if store != nil {
		protocolRepo = catalog.NewCachedProtocolRepo(protocolRepo, store, cfg.CatalogCacheTTL, collector, logger)
	}
	catalogSvc := catalog.NewService(catalog.NewBillingCodeRepo(pool), protocolRepo, catalog.NewDoctorRepo(pool), auditSink, logger)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	analyzer := analysis.NewAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	billingSvc := billing.NewService(
		billing.NewEntryRepo(pool), billing.NewTenderRepo(pool), billing.NewInvoiceRepo(pool), tx,
		catalogSvc, analyzer, auditSink, collector, logger,
	)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	patientSvc := patient.NewService(patient.NewRepo(pool), catalogSvc, billingSvc, tx, auditSink, collector,
		patient.Defaults{
			InterProtocolGapDays: cfg.DefaultGapDays,
			EntryFrequencyDays:   cfg.DefaultEntryFrequencyDays,
		}, logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	return e
}
