package forensic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagworks/diagcore/internal/logging"
	"github.com/diagworks/diagcore/internal/metrics"
)

var (
	ErrSessionEnded    = errors.New("session already ended")
	ErrSessionUnknown  = errors.New("session not found")
	ErrSessionNotEnded = errors.New("session not ended yet")
)

// Store is the persistence the recorder appends to. Implementations must
// expose only create/read/append semantics; audit rows are never updated
// or deleted.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	AppendEvent(ctx context.Context, event *Event) error
	FinalizeSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	ListEvents(ctx context.Context, sessionID string) ([]*Event, error)
}

// EventInput carries the caller-supplied fields of a forensic event. The
// recorder assigns identity, sequence, timestamp and hash.
type EventInput struct {
	Type               EventType
	Module             string
	Service            string
	CapabilityDecision string
	OverrideDecision   string
	Mode               ExecutionMode
	WouldExecute       bool
	RawCommand         string
	RawResponse        string
	Result             string
}

// Recorder owns active sessions and assigns gap-free sequence numbers.
// Event append is atomic per session; cross-session calls do not contend
// beyond the bookkeeping map.
type Recorder struct {
	store  Store
	logger *logging.Logger

	mu     sync.Mutex
	active map[string]*activeSession
}

type activeSession struct {
	mu      sync.Mutex
	session *Session
	events  []*Event
}

// NewRecorder creates a recorder writing through the given store.
func NewRecorder(store Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		active: make(map[string]*activeSession),
	}
}

// StartSession creates the session row, emits the SESSION_START event and
// returns the session with its externally visible content-derived hash.
func (r *Recorder) StartSession(ctx context.Context, adminID, vehicleRef string, sessionType SessionType, overrideScope, overrideReason string) (*Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	session := &Session{
		ID:             id,
		SessionHash:    SessionHash(id, adminID, now),
		AdminID:        adminID,
		VehicleRef:     vehicleRef,
		OverrideScope:  overrideScope,
		OverrideReason: overrideReason,
		StartTime:      now,
		Type:           sessionType,
	}

	if err := r.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[id] = &activeSession{session: session}
	r.mu.Unlock()

	if _, err := r.RecordEvent(ctx, id, EventInput{Type: EventSessionStart, Result: "session started"}); err != nil {
		return nil, err
	}
	return session, nil
}

// RecordEvent assigns the next gap-free sequence number, hashes the event
// and appends it to the store.
func (r *Recorder) RecordEvent(ctx context.Context, sessionID string, input EventInput) (*Event, error) {
	r.mu.Lock()
	as, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionUnknown
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if as.session.Ended() {
		return nil, ErrSessionEnded
	}

	event := &Event{
		ID:                 uuid.New().String(),
		SessionID:          sessionID,
		Sequence:           len(as.events) + 1,
		Type:               input.Type,
		Timestamp:          time.Now().UTC(),
		Module:             input.Module,
		Service:            input.Service,
		CapabilityDecision: input.CapabilityDecision,
		OverrideDecision:   input.OverrideDecision,
		Mode:               input.Mode,
		WouldExecute:       input.WouldExecute,
		RawCommand:         input.RawCommand,
		RawResponse:        input.RawResponse,
		Result:             input.Result,
	}
	event.EventHash = EventHash(event)

	if err := r.store.AppendEvent(ctx, event); err != nil {
		metrics.ForensicWriteErrors.Inc()
		r.logger.Error("forensic event append failed",
			logging.SessionID(sessionID),
			logging.Sequence(event.Sequence),
			logging.Error(err),
		)
		return nil, err
	}

	as.events = append(as.events, event)
	as.session.EventCount = len(as.events)
	metrics.ForensicEvents.Inc()
	return event, nil
}

// EndSession emits SESSION_END, computes the integrity hash over all
// recorded events and finalizes the session. No event may be appended
// afterwards.
func (r *Recorder) EndSession(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := r.RecordEvent(ctx, sessionID, EventInput{Type: EventSessionEnd, Result: "session ended"}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	as, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionUnknown
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	now := time.Now().UTC()
	as.session.EndTime = &now
	as.session.EventCount = len(as.events)
	as.session.IntegrityHash = IntegrityHash(as.session, as.events)

	if err := r.store.FinalizeSession(ctx, as.session); err != nil {
		metrics.ForensicWriteErrors.Inc()
		return nil, err
	}

	r.logger.Info("forensic session ended",
		logging.SessionID(sessionID),
		"events", as.session.EventCount,
	)
	return as.session, nil
}

// EndOpenSessions finalizes every still-open session. Shutdown hook: a
// session left open would be unverifiable, so the daemon seals them before
// exiting. Returns the number of sessions ended.
func (r *Recorder) EndOpenSessions(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	ended := 0
	for _, id := range ids {
		if _, err := r.EndSession(ctx, id); err != nil {
			r.logger.Error("failed to end session on shutdown", logging.SessionID(id), logging.Error(err))
			continue
		}
		ended++
	}
	return ended
}

// VerifySession loads a completed session and checks its hash chain.
func (r *Recorder) VerifySession(ctx context.Context, sessionID string) error {
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	events, err := r.store.ListEvents(ctx, sessionID)
	if err != nil {
		return err
	}
	return Verify(session, events)
}

// LoadSession returns a read-only replay over a stored session.
func (r *Recorder) LoadSession(ctx context.Context, sessionID string) (*Replay, error) {
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := r.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return NewReplay(session, events), nil
}

// ListSessions returns all stored sessions.
func (r *Recorder) ListSessions(ctx context.Context) ([]*Session, error) {
	return r.store.ListSessions(ctx)
}
