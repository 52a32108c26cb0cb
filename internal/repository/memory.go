package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/models"
)

// InMemoryRepository keeps everything in process memory. It backs tests
// and the CLI's offline mode and enforces the same append-only rules as
// the postgres implementation.
type InMemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]*identity.Identity
	vehicles  map[string]*models.Vehicle
	templates []*capability.Template
	sessions  map[string]*forensic.Session
	events    map[string][]*forensic.Event
	auditLog  []*audit.Entry
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:    make(map[string]*identity.Identity),
		vehicles: make(map[string]*models.Vehicle),
		sessions: make(map[string]*forensic.Session),
		events:   make(map[string][]*forensic.Event),
	}
}

func (r *InMemoryRepository) CreateUser(ctx context.Context, user *identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
	return nil
}

func (r *InMemoryRepository) GetUser(ctx context.Context, id string) (*identity.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (r *InMemoryRepository) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.vehicles[vehicle.ID]; exists {
		return ErrVehicleExists
	}
	r.vehicles[vehicle.ID] = vehicle
	return nil
}

func (r *InMemoryRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vehicle, ok := r.vehicles[id]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	return vehicle, nil
}

func (r *InMemoryRepository) ListVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) CreateTemplate(ctx context.Context, template *capability.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, template)
	return nil
}

func (r *InMemoryRepository) ListTemplates(ctx context.Context) ([]*capability.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*capability.Template(nil), r.templates...), nil
}

func (r *InMemoryRepository) CreateSession(ctx context.Context, session *forensic.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *InMemoryRepository) AppendEvent(ctx context.Context, event *forensic.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[event.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Ended() {
		return ErrSessionFinalized
	}
	cp := *event
	r.events[event.SessionID] = append(r.events[event.SessionID], &cp)
	session.EventCount = len(r.events[event.SessionID])
	return nil
}

func (r *InMemoryRepository) FinalizeSession(ctx context.Context, session *forensic.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.Ended() {
		return ErrSessionFinalized
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetSession(ctx context.Context, sessionID string) (*forensic.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *InMemoryRepository) ListSessions(ctx context.Context) ([]*forensic.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*forensic.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *InMemoryRepository) ListEvents(ctx context.Context, sessionID string) ([]*forensic.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	events := r.events[sessionID]
	out := make([]*forensic.Event, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *InMemoryRepository) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.auditLog = append(r.auditLog, &cp)
	return nil
}

func (r *InMemoryRepository) ListAudit(ctx context.Context) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*audit.Entry, len(r.auditLog))
	for i, e := range r.auditLog {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *InMemoryRepository) Close() {}
