package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/revittco/mcpmux/internal/api"
	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/config"
	"github.com/revittco/mcpmux/internal/displayrules"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/gateway"
	"github.com/revittco/mcpmux/internal/metrics"
	"github.com/revittco/mcpmux/internal/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

// app bundles the wired components shared by both serving modes.
type app struct {
	db         *sqlite.DB
	registry   *downstream.Registry
	validator  *auth.Validator
	gate       *auth.Gate
	dispatcher *gateway.Dispatcher
	auditBus   *audit.Bus
	promReg    *prometheus.Registry
}

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, args); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	a, err := buildApp(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer scancel()
		slog.Info("stopping backend connections")
		a.registry.Shutdown(sctx)
	}()

	switch cfg.Mode {
	case "http":
		return runHTTP(ctx, cfg, a)
	default:
		logger.Info("starting in stdio mode")
		srv := gateway.NewServer(a.dispatcher, version, gateway.WithDefaultToken(cfg.Token))
		return srv.RunStdio(ctx)
	}
}

func buildApp(ctx context.Context, cfg *Config, db *sqlite.DB) (*app, error) {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	auditBus := audit.NewBus()
	auditor := audit.NewLogger(db, auditBus, m)
	validator := auth.NewValidator(db, db)

	reg := downstream.NewRegistry(db, downstream.NewMCPFactory(version),
		downstream.WithAccessPolicy(validator),
		downstream.WithRecorder(auditor),
		downstream.WithMetrics(m),
	)
	if err := reg.LoadAll(ctx); err != nil {
		return nil, err
	}

	// Load YAML config into the registry if the file exists.
	if cfg.ConfigFile != "" {
		if _, err := os.Stat(cfg.ConfigFile); err == nil {
			fileCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return nil, err
			}
			if err := config.Apply(ctx, reg, db, db, fileCfg); err != nil {
				return nil, err
			}
			slog.Info("loaded config", "file", cfg.ConfigFile)
		}
	}

	opts := []gateway.Option{
		gateway.WithFanoutTimeout(cfg.FanoutTimeout),
		gateway.WithRequireTokenForReads(cfg.RequireTokenForReads),
	}
	if cfg.DisplayRules != "" {
		script, err := displayrules.LoadScript(cfg.DisplayRules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gateway.WithDisplayRules(script))
		slog.Info("loaded display rules", "file", cfg.DisplayRules)
	}

	gate := auth.NewGate(validator, reg)
	return &app{
		db:         db,
		registry:   reg,
		validator:  validator,
		gate:       gate,
		dispatcher: gateway.NewDispatcher(reg, gate, auditor, opts...),
		auditBus:   auditBus,
		promReg:    promReg,
	}, nil
}

func runHTTP(ctx context.Context, cfg *Config, a *app) error {
	router := api.NewRouter(api.RouterDeps{
		Store:     a.db,
		Registry:  a.registry,
		Servers:   config.NewService(a.registry, a.db),
		Validator: a.validator,
		Gate:      a.gate,
		AuditBus:  a.auditBus,
		MCP:       gateway.NewServer(a.dispatcher, version),
		Metrics:   metrics.Handler(a.promReg),
		Version:   version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening",
			"addr", cfg.HTTPAddr, "mcp_endpoint", endpointURL(cfg.HTTPAddr, "/mcp"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}
