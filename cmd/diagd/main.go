package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/auditstream"
	"github.com/diagworks/diagcore/internal/bus"
	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/config"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/override"
	"github.com/diagworks/diagcore/internal/ratelimit"
	"github.com/diagworks/diagcore/internal/repository"
	"github.com/diagworks/diagcore/internal/router"
	"github.com/diagworks/diagcore/internal/service"
	"github.com/diagworks/diagcore/internal/uds"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	ctx := context.Background()

	// Initialize repository
	var repo repository.Repository
	if cfg.Database.InMemory {
		repo = repository.NewInMemoryRepository()
		logger.Info("using in-memory repository")
	} else {
		pg, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			logger.Error("failed to connect to postgres", logging.Error(err))
			os.Exit(1)
		}
		repo = pg
	}
	defer repo.Close()

	// Open the vehicle bus channel
	var channel bus.Channel
	switch cfg.Bus.Driver {
	case "sim":
		channel = bus.NewSimBus().NewChannel(bus.Config{QueueSize: cfg.Bus.QueueSize})
	default:
		channel = bus.NewSocketCAN(bus.Config{
			Interface: cfg.Bus.Interface,
			QueueSize: cfg.Bus.QueueSize,
		})
	}
	if err := channel.Connect(ctx); err != nil {
		logger.Error("failed to open bus channel", logging.Error(err))
		os.Exit(1)
	}

	// Diagnostic request engine and command handlers
	engine := uds.NewEngine(channel, logger)
	handlers := router.NewHandlerRegistry(
		router.NewGenericHandler(engine, cfg.Protocol.RequestTimeout, cfg.Protocol.Retries),
	)

	// Capability templates
	registry := capability.NewRegistry()

	// Forensic recorder and audit trail
	recorder := forensic.NewRecorder(repo, logger)
	trail := audit.NewTrail(audit.NewSigner(cfg.Audit.SigningKey), repo)

	// Optional NATS mirror of the audit trail
	if cfg.NATS.Enabled {
		streamCfg := auditstream.DefaultConfig()
		streamCfg.URL = cfg.NATS.URL
		publisher, err := auditstream.Connect(streamCfg)
		if err != nil {
			logger.Warn("audit stream unavailable", logging.Error(err))
		} else {
			defer publisher.Close()
			trail = trail.WithPublisher(publisher)
		}
	}

	overrides := override.NewManager(logger, trail, recorder)

	// Per-session rate limiter
	var limiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	if cfg.Redis.Enabled {
		rl, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		if err != nil {
			logger.Warn("rate limiter unavailable, commands will not be throttled", logging.Error(err))
		} else {
			limiter = rl
			defer rl.Close()
		}
	}

	rt := router.New(registry, overrides, handlers, recorder, limiter, logger)
	svc := service.New(repo, registry, overrides, recorder, rt, logger)

	count, err := svc.LoadTemplates(ctx)
	if err != nil {
		logger.Error("failed to load capability templates", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("capability templates loaded", "count", count)

	// Metrics listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		logger.Info("metrics listener started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener error", logging.Error(err))
		}
	}()

	logger.Info("diagnostic daemon ready",
		"bus_driver", cfg.Bus.Driver,
		"interface", cfg.Bus.Interface,
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Overrides are revoked before the transport goes away so that no
	// grant outlives the daemon. Open sessions are sealed next; a session
	// left open would be unverifiable.
	svc.RevokeAllOverrides(shutdownCtx)
	if n := recorder.EndOpenSessions(shutdownCtx); n > 0 {
		logger.Info("open forensic sessions sealed", "count", n)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics listener forced to shutdown", logging.Error(err))
	}
	if err := channel.Disconnect(); err != nil {
		logger.Error("bus disconnect failed", logging.Error(err))
	}

	logger.Info("stopped")
}
