package cli

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/bus"
	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/override"
	"github.com/diagworks/diagcore/internal/ratelimit"
	"github.com/diagworks/diagcore/internal/repository"
	"github.com/diagworks/diagcore/internal/router"
	"github.com/diagworks/diagcore/internal/service"
	"github.com/diagworks/diagcore/internal/uds"
)

// runtime is the in-process pipeline the bench tool drives.
type runtime struct {
	repo    repository.Repository
	channel bus.Channel
	svc     *service.DiagnosticService
}

// newRuntime assembles the pipeline from the loaded config. The bus is
// only connected when the command intends to talk to a vehicle; offline
// commands (sessions, seeding, dry runs) skip it.
func newRuntime(ctx context.Context, connectBus bool) (*runtime, error) {
	logger := logging.Default()

	var repo repository.Repository
	if cfg.Database.InMemory {
		repo = repository.NewInMemoryRepository()
	} else {
		pg, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect repository: %w", err)
		}
		repo = pg
	}

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
	if connectBus {
		if err := channel.Connect(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("open bus channel: %w", err)
		}
	}

	engine := uds.NewEngine(channel, logger)
	handlers := router.NewHandlerRegistry(
		router.NewGenericHandler(engine, cfg.Protocol.RequestTimeout, cfg.Protocol.Retries),
	)
	registry := capability.NewRegistry()
	recorder := forensic.NewRecorder(repo, logger)
	trail := audit.NewTrail(audit.NewSigner(cfg.Audit.SigningKey), repo)
	overrides := override.NewManager(logger, trail, recorder)

	rt := router.New(registry, overrides, handlers, recorder, &ratelimit.NoOpRateLimiter{}, logger)
	svc := service.New(repo, registry, overrides, recorder, rt, logger)

	if _, err := svc.LoadTemplates(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	return &runtime{repo: repo, channel: channel, svc: svc}, nil
}

func (r *runtime) close() {
	if r.channel != nil && r.channel.State() == bus.StateConnected {
		r.channel.Disconnect()
	}
	r.repo.Close()
}

// actor builds the acting identity from the persistent flags.
func actor() identity.Identity {
	return identity.Identity{
		UserID:   actorID,
		Username: actorID,
		Role:     identity.Role(actorRole),
	}
}

// printYAML renders any value as YAML on stdout.
func printYAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
