// Package service wires the safety-gated diagnostic pipeline behind one
// facade: routing, overrides, forensic sessions and replay export.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/override"
	"github.com/diagworks/diagcore/internal/repository"
	"github.com/diagworks/diagcore/internal/router"
)

// DiagnosticService is the exposed surface of the core pipeline.
type DiagnosticService struct {
	repo      repository.Repository
	registry  *capability.Registry
	overrides *override.Manager
	recorder  *forensic.Recorder
	router    *router.Router
	logger    *logging.Logger
}

// New assembles the facade from constructed components.
func New(repo repository.Repository, registry *capability.Registry, overrides *override.Manager, recorder *forensic.Recorder, rt *router.Router, logger *logging.Logger) *DiagnosticService {
	if logger == nil {
		logger = logging.Default()
	}
	return &DiagnosticService{
		repo:      repo,
		registry:  registry,
		overrides: overrides,
		recorder:  recorder,
		router:    rt,
		logger:    logger,
	}
}

// LoadTemplates registers every persisted capability template. Called once
// at startup; the registry preserves stored registration order.
func (s *DiagnosticService) LoadTemplates(ctx context.Context) (int, error) {
	templates, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load templates: %w", err)
	}
	for _, t := range templates {
		s.registry.Register(t)
	}
	return len(templates), nil
}

// RouteRequest routes one diagnostic command for a stored vehicle.
func (s *DiagnosticService) RouteRequest(ctx context.Context, ident identity.Identity, vehicleID, module, svc, sessionID string, dryRun bool, params map[string]string) (*router.Result, error) {
	vehicle, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	return s.router.Route(ctx, router.Request{
		Vehicle:   vehicle,
		Module:    module,
		Service:   svc,
		Identity:  ident,
		SessionID: sessionID,
		DryRun:    dryRun,
		Params:    params,
	}), nil
}

// ActivateOverride grants a scoped capability exception; admin only.
func (s *DiagnosticService) ActivateOverride(ctx context.Context, ident identity.Identity, scope override.Scope, module, action, reason string, duration time.Duration, sessionID string) (*override.Override, error) {
	return s.overrides.Activate(ctx, ident, scope, module, action, reason, duration, sessionID)
}

// RevokeOverride removes the override for (admin, session); idempotent.
func (s *DiagnosticService) RevokeOverride(ctx context.Context, adminID, sessionID string) {
	s.overrides.Revoke(ctx, adminID, sessionID)
}

// RevokeAllOverrides is the fail-closed shutdown hook.
func (s *DiagnosticService) RevokeAllOverrides(ctx context.Context) {
	s.overrides.RevokeAll(ctx)
}

// GetActiveOverrides snapshots the currently valid overrides.
func (s *DiagnosticService) GetActiveOverrides() []*override.Override {
	return s.overrides.Active()
}

// StartSession opens a forensic session for an admin on a vehicle.
func (s *DiagnosticService) StartSession(ctx context.Context, adminID, vehicleRef string, sessionType forensic.SessionType, overrideScope, overrideReason string) (*forensic.Session, error) {
	return s.recorder.StartSession(ctx, adminID, vehicleRef, sessionType, overrideScope, overrideReason)
}

// RecordEvent appends a caller-supplied event to an open session.
func (s *DiagnosticService) RecordEvent(ctx context.Context, sessionID string, input forensic.EventInput) (*forensic.Event, error) {
	return s.recorder.RecordEvent(ctx, sessionID, input)
}

// EndSession finalizes a session with its integrity hash.
func (s *DiagnosticService) EndSession(ctx context.Context, sessionID string) (*forensic.Session, error) {
	return s.recorder.EndSession(ctx, sessionID)
}

// VerifySession recomputes the session's hash chain.
func (s *DiagnosticService) VerifySession(ctx context.Context, sessionID string) error {
	return s.recorder.VerifySession(ctx, sessionID)
}

// LoadSession returns a read-only replay of a stored session.
func (s *DiagnosticService) LoadSession(ctx context.Context, sessionID string) (*forensic.Replay, error) {
	return s.recorder.LoadSession(ctx, sessionID)
}

// ListSessions lists stored forensic sessions.
func (s *DiagnosticService) ListSessions(ctx context.Context) ([]*forensic.Session, error) {
	return s.recorder.ListSessions(ctx)
}

// ExportSession renders a stored session in the requested format, with
// raw payloads redacted unless opts ask otherwise.
func (s *DiagnosticService) ExportSession(ctx context.Context, sessionID string, format forensic.Format, opts forensic.ExportOptions) ([]byte, error) {
	replay, err := s.recorder.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return replay.Export(format, opts)
}
