package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/metrics"
)

var (
	// ErrNotAuthorized rejects override activation by non-admin callers.
	ErrNotAuthorized = errors.New("override activation requires admin role")
	// ErrMissingModule rejects MODULE scope without a module.
	ErrMissingModule = errors.New("module scope requires a module")
	// ErrMissingAction rejects ACTION scope without module and action.
	ErrMissingAction = errors.New("action scope requires a module and an action")
	// ErrMissingDuration rejects MODULE scope without a positive duration;
	// a module-wide grant is always time-boxed.
	ErrMissingDuration = errors.New("module scope requires a positive duration")
)

// Scope bounds what an override permits.
type Scope string

const (
	// ScopeAction permits exactly one module+action pair.
	ScopeAction Scope = "ACTION"
	// ScopeModule permits every action on one module, time-boxed.
	ScopeModule Scope = "MODULE"
	// ScopeSession permits any action for the rest of the session.
	ScopeSession Scope = "SESSION"
)

// Override is an admin-granted exception to the capability matrix. It
// lives only in process memory; a restart clears every override.
type Override struct {
	AdminID     string     `json:"admin_id"`
	Scope       Scope      `json:"scope"`
	Module      string     `json:"module,omitempty"`
	Action      string     `json:"action,omitempty"`
	Reason      string     `json:"reason"`
	SessionID   string     `json:"session_id,omitempty"`
	ActivatedAt time.Time  `json:"activated_at"`
	// ExpiresAt is set only for MODULE scope. Nil means session-bound:
	// validity ends on explicit revoke or session end.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (o *Override) expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// covers reports whether the override permits (module, action).
func (o *Override) covers(module, action string) bool {
	switch o.Scope {
	case ScopeSession:
		return true
	case ScopeModule:
		return o.Module == module
	case ScopeAction:
		return o.Module == module && o.Action == action
	default:
		return false
	}
}

// ForensicSink receives override decisions for the session audit chain.
// *forensic.Recorder satisfies it.
type ForensicSink interface {
	RecordEvent(ctx context.Context, sessionID string, input forensic.EventInput) (*forensic.Event, error)
}

type sessionKey struct {
	adminID   string
	sessionID string
}

// Manager owns the process-scoped override state. Activation, revocation
// and consultation are atomic per key. Every decision is reported to the
// forensic recorder and the durable audit trail; failures there are logged
// and never abort the decision itself.
type Manager struct {
	logger *logging.Logger
	trail  *audit.Trail
	sink   ForensicSink

	mu        sync.Mutex
	bySession map[sessionKey]*Override
	byAdmin   map[string]*Override
}

// NewManager creates an override manager. trail and sink may be nil in
// tests; production wiring always sets both.
func NewManager(logger *logging.Logger, trail *audit.Trail, sink ForensicSink) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		logger:    logger,
		trail:     trail,
		sink:      sink,
		bySession: make(map[sessionKey]*Override),
		byAdmin:   make(map[string]*Override),
	}
}

// Activate grants an override. Only admins may call it. MODULE scope gets
// expiry now+duration; ACTION and SESSION scope stay valid until revoke or
// session end. Re-activation for the same key replaces the prior override:
// last write wins, no stacking.
func (m *Manager) Activate(ctx context.Context, ident identity.Identity, scope Scope, module, action, reason string, duration time.Duration, sessionID string) (*Override, error) {
	if !ident.IsAdmin() {
		m.report(ctx, ident.UserID, audit.ActionOverrideActivate, string(scope), sessionID, "denied: not admin",
			forensic.EventInput{Type: forensic.EventOverrideActivated, Module: module, Service: action, Result: "denied: not admin"})
		return nil, ErrNotAuthorized
	}
	switch scope {
	case ScopeModule:
		if module == "" {
			return nil, ErrMissingModule
		}
		if duration <= 0 {
			return nil, ErrMissingDuration
		}
	case ScopeAction:
		if module == "" || action == "" {
			return nil, ErrMissingAction
		}
	case ScopeSession:
	default:
		return nil, fmt.Errorf("unknown override scope %q", scope)
	}

	o := &Override{
		AdminID:     ident.UserID,
		Scope:       scope,
		Module:      module,
		Action:      action,
		Reason:      reason,
		SessionID:   sessionID,
		ActivatedAt: time.Now().UTC(),
	}
	if scope == ScopeModule {
		expiry := o.ActivatedAt.Add(duration)
		o.ExpiresAt = &expiry
	}

	m.mu.Lock()
	if sessionID != "" {
		m.bySession[sessionKey{ident.UserID, sessionID}] = o
	} else {
		m.byAdmin[ident.UserID] = o
	}
	active := len(m.bySession) + len(m.byAdmin)
	m.mu.Unlock()

	metrics.OverridesActive.Set(float64(active))
	metrics.OverrideActivations.WithLabelValues(string(scope)).Inc()

	detail := fmt.Sprintf("scope=%s module=%s action=%s reason=%s", scope, module, action, reason)
	m.report(ctx, ident.UserID, audit.ActionOverrideActivate, detail, sessionID, "activated",
		forensic.EventInput{Type: forensic.EventOverrideActivated, Module: module, Service: action, Result: "override activated: " + reason})

	m.logger.Warn("admin override activated",
		logging.AdminID(ident.UserID),
		logging.Scope(string(scope)),
		logging.Module(module),
		logging.Action(action),
		logging.SessionID(sessionID),
		"reason", reason,
	)
	return o, nil
}

// CanOverride reports whether an active override covers (module, action).
// The session-keyed entry is consulted first; an expired entry is lazily
// revoked before failing over to the admin-only entry.
func (m *Manager) CanOverride(ctx context.Context, adminID, module, action, sessionID string) bool {
	now := time.Now().UTC()

	m.mu.Lock()
	var match *Override
	if sessionID != "" {
		k := sessionKey{adminID, sessionID}
		if o, ok := m.bySession[k]; ok {
			if o.expired(now) {
				delete(m.bySession, k)
			} else if o.covers(module, action) {
				match = o
			}
		}
	}
	if match == nil {
		if o, ok := m.byAdmin[adminID]; ok {
			if o.expired(now) {
				delete(m.byAdmin, adminID)
			} else if o.covers(module, action) {
				match = o
			}
		}
	}
	active := len(m.bySession) + len(m.byAdmin)
	m.mu.Unlock()

	metrics.OverridesActive.Set(float64(active))

	result := "no applicable override"
	if match != nil {
		result = fmt.Sprintf("override applies: scope=%s reason=%s", match.Scope, match.Reason)
	}
	m.report(ctx, adminID, audit.ActionOverrideConsult,
		fmt.Sprintf("module=%s action=%s", module, action), sessionID, result,
		forensic.EventInput{Type: forensic.EventOverrideCheck, Module: module, Service: action, OverrideDecision: result, Result: result})

	return match != nil
}

// Revoke removes the override for (admin, session). It is idempotent.
func (m *Manager) Revoke(ctx context.Context, adminID, sessionID string) {
	m.mu.Lock()
	if sessionID != "" {
		delete(m.bySession, sessionKey{adminID, sessionID})
	} else {
		delete(m.byAdmin, adminID)
	}
	active := len(m.bySession) + len(m.byAdmin)
	m.mu.Unlock()

	metrics.OverridesActive.Set(float64(active))
	m.report(ctx, adminID, audit.ActionOverrideRevoke, "", sessionID, "revoked",
		forensic.EventInput{Type: forensic.EventOverrideRevoked, Result: "override revoked"})
}

// RevokeAll clears every override. This is the fail-closed primitive
// invoked on bus disconnect.
func (m *Manager) RevokeAll(ctx context.Context) {
	m.mu.Lock()
	n := len(m.bySession) + len(m.byAdmin)
	m.bySession = make(map[sessionKey]*Override)
	m.byAdmin = make(map[string]*Override)
	m.mu.Unlock()

	metrics.OverridesActive.Set(0)
	if n > 0 {
		m.report(ctx, "", audit.ActionOverrideRevoke, fmt.Sprintf("revoke_all removed %d overrides", n), "", "revoked",
			forensic.EventInput{Type: forensic.EventOverrideRevoked, Result: fmt.Sprintf("revoke_all removed %d overrides", n)})
		m.logger.Warn("all overrides revoked", "count", n)
	}
}

// Active returns a snapshot of the currently valid overrides.
func (m *Manager) Active() []*Override {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Override
	for k, o := range m.bySession {
		if o.expired(now) {
			delete(m.bySession, k)
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	for k, o := range m.byAdmin {
		if o.expired(now) {
			delete(m.byAdmin, k)
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// report forwards a decision to the durable trail and the forensic
// recorder. Audit loss is logged, never silent, and never aborts the
// underlying decision.
func (m *Manager) report(ctx context.Context, actor, action, detail, sessionID, result string, input forensic.EventInput) {
	if m.trail != nil {
		if _, err := m.trail.Record(ctx, actor, action, detail, sessionID, result); err != nil {
			m.logger.Error("audit trail write failed", logging.Error(err), logging.AdminID(actor))
		}
	}
	if m.sink != nil && sessionID != "" {
		if _, err := m.sink.RecordEvent(ctx, sessionID, input); err != nil &&
			!errors.Is(err, forensic.ErrSessionUnknown) && !errors.Is(err, forensic.ErrSessionEnded) {
			m.logger.Error("forensic record failed", logging.Error(err), logging.SessionID(sessionID))
		}
	}
}
