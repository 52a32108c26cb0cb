package forensic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The hash chain is a pure fold over ordered events, independent of
// storage, so tampering detection is unit-testable without a live session.

// SessionHash derives the externally visible session identifier.
func SessionHash(sessionID, adminID string, start time.Time) string {
	return digest(sessionID, adminID, start.UTC().Format(time.RFC3339Nano))
}

// EventHash covers the fields that make an event unique and meaningful:
// session, sequence, type, timestamp, module, service, mode, result.
// Changing any of them changes the hash.
func EventHash(e *Event) string {
	return digest(
		e.SessionID,
		strconv.Itoa(e.Sequence),
		string(e.Type),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Module,
		e.Service,
		string(e.Mode),
		e.Result,
	)
}

// IntegrityHash folds the session metadata with the ordered concatenation
// of all child event hashes. Any reordering, deletion or edit of an event
// produces a different result.
func IntegrityHash(s *Session, events []*Event) string {
	parts := make([]string, 0, len(events)+4)
	parts = append(parts,
		s.ID,
		s.AdminID,
		s.VehicleRef,
		s.StartTime.UTC().Format(time.RFC3339Nano),
	)
	for _, e := range events {
		parts = append(parts, e.EventHash)
	}
	return digest(parts...)
}

// IntegrityError reports a forensic hash mismatch on verification.
type IntegrityError struct {
	SessionID string
	Detail    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for session %s: %s", e.SessionID, e.Detail)
}

// Verify recomputes every event hash and the session integrity hash and
// compares them with the stored values.
func Verify(s *Session, events []*Event) error {
	if !s.Ended() {
		return &IntegrityError{SessionID: s.ID, Detail: "session not ended"}
	}
	if len(events) != s.EventCount {
		return &IntegrityError{
			SessionID: s.ID,
			Detail:    fmt.Sprintf("event count mismatch: stored %d, found %d", s.EventCount, len(events)),
		}
	}
	for i, e := range events {
		if e.Sequence != i+1 {
			return &IntegrityError{
				SessionID: s.ID,
				Detail:    fmt.Sprintf("sequence gap at position %d: got %d", i, e.Sequence),
			}
		}
		if EventHash(e) != e.EventHash {
			return &IntegrityError{
				SessionID: s.ID,
				Detail:    fmt.Sprintf("event %d hash mismatch", e.Sequence),
			}
		}
	}
	if IntegrityHash(s, events) != s.IntegrityHash {
		return &IntegrityError{SessionID: s.ID, Detail: "integrity hash mismatch"}
	}
	return nil
}

func digest(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
