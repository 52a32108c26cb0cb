package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Signer produces tamper-evident signatures over durable audit entries.
// The secret stays server-side; a matching Verify detects edits after the
// fact.
type Signer struct {
	secretKey []byte
}

// NewSigner creates a signer with the given secret key.
func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Sign computes the HMAC-SHA256 signature of an entry's identifying fields.
func (s *Signer) Sign(entryID string, timestamp time.Time, actor, action, detail string) string {
	payload := entryID + timestamp.UTC().Format(time.RFC3339Nano) + actor + action + detail
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks an entry signature in constant time.
func (s *Signer) Verify(entryID string, timestamp time.Time, actor, action, detail, signature string) bool {
	expected := s.Sign(entryID, timestamp, actor, action, detail)
	return hmac.Equal([]byte(expected), []byte(signature))
}
