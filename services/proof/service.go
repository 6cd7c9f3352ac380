// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proof wires the advisory trace service together.
//
// # Description
//
// New assembles the store (memory, BadgerDB, or SQLite), the instability simulator,
// telemetry, the facade, and the gin router. Run serves HTTP until its
// context is cancelled and then shuts down gracefully.
//
// # Usage
//
//	svc, err := proof.New(proof.Config{Port: 12310})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ProofMode/services/proof/audit"
	"github.com/AleutianAI/ProofMode/services/proof/facade"
	"github.com/AleutianAI/ProofMode/services/proof/instability"
	"github.com/AleutianAI/ProofMode/services/proof/middleware"
	"github.com/AleutianAI/ProofMode/services/proof/routes"
	proofbadger "github.com/AleutianAI/ProofMode/services/proof/storage/badger"
	proofsqlite "github.com/AleutianAI/ProofMode/services/proof/storage/sqlite"
	"github.com/AleutianAI/ProofMode/services/proof/store"
	"github.com/AleutianAI/ProofMode/services/proof/telemetry"
)

// Store backend names accepted by Config.StoreBackend.
const (
	StoreMemory      = "memory"
	StoreBadger      = "badger"
	StoreBadgerInMem = "badger-mem"
	StoreSQLite      = "sqlite"
)

// SQLiteFile is the database file name under DataDir for the sqlite backend.
const SQLiteFile = "traces.db"

// DefaultPort is the HTTP port used when Config.Port is zero.
const DefaultPort = 12310

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable trace service.
type Service interface {
	// Run serves HTTP on the configured port until ctx is cancelled, then
	// shuts down gracefully and releases all resources.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener. The listener is closed on return.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine

	// Facade returns the request-level API the router is built on.
	Facade() *facade.Facade

	// UpdateInstability swaps the simulated network settings at runtime.
	UpdateInstability(settings instability.Settings) error

	// Close releases resources without serving. Safe to call after Run.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Empty leaves gin's current mode.
	GinMode string

	// StoreBackend selects persistence: "memory", "badger", "badger-mem",
	// or "sqlite".
	// Default: "memory"
	StoreBackend string

	// DataDir holds the BadgerDB files for "badger" and SQLiteFile for
	// "sqlite".
	// Default: "./data/proof"
	DataDir string

	// Instability configures the simulated network. The zero value disables it.
	Instability instability.Settings

	// RateLimitRPS is the service-wide request rate. Zero disables limiting.
	RateLimitRPS float64

	// RateLimitBurst is the token bucket size. Default: 20
	RateLimitBurst int

	// Telemetry configures tracing and metrics export.
	// Default: telemetry.DefaultConfig()
	Telemetry telemetry.Config

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Logger is the service logger. Default: slog.Default()
	Logger *slog.Logger

	// Auditor records trace mutations. Default: audit events written to
	// Logger under the "audit" group. Events are also published live on
	// GET /v1/audit/stream regardless of Auditor.
	Auditor audit.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreMemory
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(".", "data", "proof")
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.Telemetry == (telemetry.Config{}) {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "proof"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auditor == nil {
		cfg.Auditor = audit.NewSlogLogger(cfg.Logger.With("component", "audit"))
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	logger *slog.Logger

	db        io.Closer
	store     *store.Store
	simulator *instability.Simulator
	facade    *facade.Facade
	auditHub  *audit.Hub
	router    *gin.Engine

	telemetryShutdown func(context.Context) error
	storedTracesReg   metric.Registration
}

// New creates a Service.
//
// # Description
//
// Initializes telemetry first so every later component records through
// the configured providers. On any failure, resources acquired so far are
// released before returning.
//
// # Inputs
//
//   - cfg: Service configuration. Zero fields take defaults.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a component fails to initialize.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	shutdown, err := telemetry.Init(context.Background(), s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	metrics, err := telemetry.DefaultMetrics()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	backend, err := s.openBackend()
	if err != nil {
		s.cleanup()
		return nil, err
	}
	s.store = store.New(backend, store.WithLogger(s.logger.With("component", "store")))

	s.storedTracesReg, err = telemetry.RegisterStoredTraces(otel.Meter(telemetry.MeterName), s.store.Count)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to register store gauge: %w", err)
	}

	s.simulator, err = instability.New(s.config.Instability)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("invalid instability settings: %w", err)
	}

	s.auditHub = audit.NewHub(audit.DefaultSubscriberBuffer)
	s.facade = facade.New(s.store,
		facade.WithDisruptor(s.simulator),
		facade.WithMetrics(metrics),
		facade.WithLogger(s.logger.With("component", "facade")),
		facade.WithAuditor(audit.Tee(s.config.Auditor, s.auditHub)),
	)

	s.initRouter(metrics)

	s.logger.Info("Trace service initialized",
		"store", s.config.StoreBackend,
		"instability", s.config.Instability.Enabled,
		"rate_limit_rps", s.config.RateLimitRPS,
	)
	return s, nil
}

func (s *service) openBackend() (store.Backend, error) {
	switch s.config.StoreBackend {
	case StoreMemory:
		return store.NewMemoryBackend(), nil
	case StoreBadger, StoreBadgerInMem:
		dbCfg := proofbadger.InMemoryConfig()
		if s.config.StoreBackend == StoreBadger {
			dbCfg = proofbadger.DefaultConfig(s.config.DataDir)
		}
		dbCfg.Logger = s.logger.With("component", "badger")

		db, err := proofbadger.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace database: %w", err)
		}
		s.db = db
		return store.NewBadgerBackend(db), nil
	case StoreSQLite:
		db, err := proofsqlite.Open(context.Background(), proofsqlite.Config{
			Path:   filepath.Join(s.config.DataDir, SQLiteFile),
			Logger: s.logger.With("component", "sqlite"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open trace database: %w", err)
		}
		s.db = db
		return store.NewSQLiteBackend(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.config.StoreBackend)
	}
}

func (s *service) initRouter(metrics *telemetry.Metrics) {
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
		middleware.Metrics(metrics),
		middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst),
	)

	var metricsHandler http.Handler
	if s.config.Telemetry.MetricExporter == "prometheus" {
		metricsHandler = telemetry.MetricsHandler()
	}
	routes.SetupRoutes(s.router, s.facade, metricsHandler)
	routes.SetupAuditRoutes(s.router, s.auditHub)
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve implements Service.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting trace server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down trace server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Facade implements Service.
func (s *service) Facade() *facade.Facade {
	return s.facade
}

// UpdateInstability implements Service.
func (s *service) UpdateInstability(settings instability.Settings) error {
	if err := s.simulator.Update(settings); err != nil {
		return err
	}
	s.logger.Info("Instability settings updated",
		"enabled", settings.Enabled,
		"min_delay", settings.MinDelay,
		"max_delay", settings.MaxDelay,
		"failure_rate", settings.FailureRate,
	)
	return nil
}

// Close implements Service.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// cleanup releases everything New acquired. Safe to call more than once.
func (s *service) cleanup() {
	if s.auditHub != nil {
		s.auditHub.Close()
	}
	if s.config.Auditor != nil {
		if err := s.config.Auditor.Flush(context.Background()); err != nil {
			s.logger.Warn("Audit flush error", "error", err)
		}
	}
	if s.storedTracesReg != nil {
		if err := s.storedTracesReg.Unregister(); err != nil {
			s.logger.Warn("Metric callback unregister error", "error", err)
		}
		s.storedTracesReg = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("Trace database close error", "error", err)
		}
		s.db = nil
	}
	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(context.Background()); err != nil {
			s.logger.Warn("Telemetry shutdown error", "error", err)
		}
		s.telemetryShutdown = nil
	}
}
