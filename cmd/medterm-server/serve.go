package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medterm/medterm/internal/config"
	"github.com/medterm/medterm/internal/domain/terminology"
	"github.com/medterm/medterm/internal/platform/auth"
	"github.com/medterm/medterm/internal/platform/cache"
	"github.com/medterm/medterm/internal/platform/db"
	"github.com/medterm/medterm/internal/platform/mcp"
	"github.com/medterm/medterm/internal/platform/middleware"
	"github.com/medterm/medterm/internal/platform/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

func runServer(cfg *config.Config) error {
	logger := newLogger(os.Stdout, cfg)
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development mode: authentication is disabled and every request is treated as admin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names, err := cfg.Ontologies()
	if err != nil {
		return err
	}
	svc, store, err := newService(ctx, cfg, names, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build terminology service")
		return err
	}
	if store != nil {
		defer store.Close()
		if mem, ok := store.(*cache.Memory); ok {
			mem.StartCleanup(ctx, time.Minute)
		}
	}

	// Database (optional, only for /health/db)
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	mcpServer, err := mcp.NewServer(svc, logger)
	if err != nil {
		return err
	}

	e := newEcho(cfg, logger, svc, mcpServer, pool)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Strs("ontologies", names).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho assembles the middleware chain and routes. pool may be nil.
func newEcho(cfg *config.Config, logger zerolog.Logger, svc *terminology.Service, mcpServer *mcp.Server, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "medterm",
		ServiceVersion: mcp.Version,
		Enabled:        telemetry.BoolPtr(cfg.MetricsEnabled),
		SkipPaths:      []string{"/metrics", "/health"},
	})
	registerTerminologyGauges(metrics, svc)
	if pool != nil {
		metrics.RegisterGauge("medterm_db_pool_connections", "Export database pool connections by state.", func() []telemetry.Sample {
			stats := db.GetPoolStats(pool)
			return []telemetry.Sample{
				{Labels: map[string]string{"state": "idle"}, Value: float64(stats.IdleConns)},
				{Labels: map[string]string{"state": "acquired"}, Value: float64(stats.AcquiredConns)},
			}
		})
	}
	e.Use(metrics.Middleware())

	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, "Mcp-Session-Id"},
	}))
	e.Use(echomw.Secure())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.AuthSigningKey == "" && cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/mcp"))

	// Health
	e.GET("/health", func(c echo.Context) error {
		status := terminology.OverallStatus(svc.GetStatus())
		code := http.StatusOK
		if status == "unavailable" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]string{"status": status})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler())
	}

	// Terminology API
	etagCfg := middleware.DefaultETagConfig()
	etagCfg.ExcludePaths = []string{"/api/v1/status"}
	apiV1 := e.Group("/api/v1", middleware.ETag(etagCfg))
	termHandler := terminology.NewHandler(svc)
	termHandler.RegisterRoutes(apiV1, auth.RequireScope("terminology", "read"))

	// FHIR terminology operations
	termHandler.RegisterFHIRRoutes(e.Group("/fhir"), auth.RequireScope("terminology", "read"))

	// MCP over streamable HTTP
	mcpHandler := echo.WrapHandler(mcpServer.Handler())
	e.Any("/mcp", mcpHandler, auth.RequireScope("terminology", "read"))

	return e
}

func registerTerminologyGauges(p *telemetry.Provider, svc *terminology.Service) {
	perOntology := func(value func(terminology.OntologyStatus) float64) telemetry.GaugeFunc {
		return func() []telemetry.Sample {
			status := svc.GetStatus()
			samples := make([]telemetry.Sample, 0, len(status))
			for _, name := range svc.Ontologies() {
				st, ok := status[name]
				if !ok {
					continue
				}
				samples = append(samples, telemetry.Sample{
					Labels: map[string]string{"ontology": name},
					Value:  value(st),
				})
			}
			return samples
		}
	}

	p.RegisterGauge("medterm_ontology_loaded", "Whether the ontology is loaded (1) or not (0).",
		perOntology(func(st terminology.OntologyStatus) float64 {
			if st.Loaded {
				return 1
			}
			return 0
		}))
	p.RegisterGauge("medterm_ontology_concepts", "Concepts held in memory per ontology.",
		perOntology(func(st terminology.OntologyStatus) float64 { return float64(st.ConceptCount) }))
	p.RegisterGauge("medterm_ontology_skipped_records", "Malformed source records skipped per ontology.",
		perOntology(func(st terminology.OntologyStatus) float64 { return float64(st.SkippedRecords) }))
}
