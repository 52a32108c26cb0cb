package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded on the durable override audit trail.
const (
	ActionOverrideActivate = "override.activate"
	ActionOverrideRevoke   = "override.revoke"
	ActionOverrideConsult  = "override.consult"
)

// Entry is one durable, append-only audit row. Entries are signed at
// creation and never updated.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	SessionID string    `json:"session_id,omitempty"`
	Result    string    `json:"result"`
	Signature string    `json:"signature"`
}

// Store persists audit entries. Append-only: implementations expose no
// update or delete path.
type Store interface {
	AppendAudit(ctx context.Context, entry *Entry) error
	ListAudit(ctx context.Context) ([]*Entry, error)
}

// Publisher mirrors appended entries to an external stream. Publish
// failures never fail the append; the store is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, entry *Entry) error
}

// Trail writes signed entries through a store. A nil Trail is a no-op so
// callers do not have to branch.
type Trail struct {
	signer    *Signer
	store     Store
	publisher Publisher
}

// NewTrail creates a trail writing signed entries to the store.
func NewTrail(signer *Signer, store Store) *Trail {
	return &Trail{signer: signer, store: store}
}

// WithPublisher returns a copy of the trail that mirrors entries to p.
func (t *Trail) WithPublisher(p Publisher) *Trail {
	if t == nil {
		return nil
	}
	return &Trail{signer: t.signer, store: t.store, publisher: p}
}

// Record creates, signs and appends an entry.
func (t *Trail) Record(ctx context.Context, actor, action, detail, sessionID, result string) (*Entry, error) {
	if t == nil {
		return nil, nil
	}
	entry := &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		SessionID: sessionID,
		Result:    result,
	}
	entry.Signature = t.signer.Sign(entry.ID, entry.Timestamp, entry.Actor, entry.Action, entry.Detail)
	if err := t.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	if t.publisher != nil {
		// Best effort: the durable store already has the entry.
		_ = t.publisher.Publish(ctx, entry)
	}
	return entry, nil
}

// VerifyEntry checks a stored entry's signature.
func (t *Trail) VerifyEntry(entry *Entry) bool {
	return t.signer.Verify(entry.ID, entry.Timestamp, entry.Actor, entry.Action, entry.Detail, entry.Signature)
}
