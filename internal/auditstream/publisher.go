// Package auditstream publishes audit entries to NATS subjects so external
// compliance consumers can mirror the trail without touching the store.
package auditstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/diagworks/diagcore/internal/audit"
)

// SubjectAuditEntries is the subject durable audit entries are mirrored to.
const SubjectAuditEntries = "diagcore.audit.entries"

// Publisher mirrors audit entries onto a NATS subject. A nil Publisher is
// a no-op, so the stream stays optional.
type Publisher struct {
	conn *nats.Conn
}

// Config holds connection settings for the audit stream.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns sensible connection defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "diagcore-audit",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect establishes the NATS connection.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		cfg = DefaultConfig()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect audit stream: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish mirrors one entry. Errors are returned for the caller to log;
// a failed mirror never blocks the underlying diagnostic action.
func (p *Publisher) Publish(ctx context.Context, entry *audit.Entry) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(SubjectAuditEntries, data)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}
