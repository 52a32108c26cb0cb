package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagworks/diagcore/internal/audit"
	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/forensic"
	"github.com/diagworks/diagcore/internal/identity"
	"github.com/diagworks/diagcore/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL. Audit and
// forensic rows get INSERT and SELECT statements only; the single UPDATE
// finalizes an open session and is guarded by end_time IS NULL, so ended
// rows can never be rewritten.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a pooled PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// initSchema creates the tables if they do not exist yet. Idempotent, so
// every daemon start can run it.
func (r *PostgresRepository) initSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			role TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			vin TEXT NOT NULL,
			attributes JSONB NOT NULL,
			modules JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS capability_templates (
			name TEXT PRIMARY KEY,
			match JSONB NOT NULL,
			modules JSONB NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS forensic_sessions (
			id TEXT PRIMARY KEY,
			session_hash TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			vehicle_ref TEXT NOT NULL,
			override_scope TEXT NOT NULL DEFAULT '',
			override_reason TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			session_type TEXT NOT NULL,
			event_count INT NOT NULL,
			integrity_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS forensic_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES forensic_sessions(id),
			sequence INT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			module TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL DEFAULT '',
			capability_decision TEXT NOT NULL DEFAULT '',
			override_decision TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			would_execute BOOLEAN NOT NULL DEFAULT FALSE,
			raw_command TEXT NOT NULL DEFAULT '',
			raw_response TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			event_hash TEXT NOT NULL,
			UNIQUE (session_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *identity.Identity) error {
	query := `
		INSERT INTO users (id, username, role)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, query, user.UserID, user.Username, user.Role); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*identity.Identity, error) {
	query := `SELECT id, username, role FROM users WHERE id = $1`

	user := &identity.Identity{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&user.UserID, &user.Username, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	attrs, err := json.Marshal(vehicle.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal vehicle attributes: %w", err)
	}
	modules, err := json.Marshal(vehicle.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal vehicle modules: %w", err)
	}

	query := `
		INSERT INTO vehicles (id, vin, attributes, modules)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, vehicle.ID, vehicle.VIN, attrs, modules); err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT id, vin, attributes, modules FROM vehicles WHERE id = $1`

	var attrs, modules []byte
	vehicle := &models.Vehicle{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&vehicle.ID, &vehicle.VIN, &attrs, &modules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	if err := json.Unmarshal(attrs, &vehicle.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vehicle attributes: %w", err)
	}
	if err := json.Unmarshal(modules, &vehicle.Modules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vehicle modules: %w", err)
	}
	return vehicle, nil
}

func (r *PostgresRepository) ListVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	query := `SELECT id, vin, attributes, modules FROM vehicles ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		var attrs, modules []byte
		vehicle := &models.Vehicle{}
		if err := rows.Scan(&vehicle.ID, &vehicle.VIN, &attrs, &modules); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		if err := json.Unmarshal(attrs, &vehicle.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vehicle attributes: %w", err)
		}
		if err := json.Unmarshal(modules, &vehicle.Modules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vehicle modules: %w", err)
		}
		vehicles = append(vehicles, vehicle)
	}
	return vehicles, rows.Err()
}

func (r *PostgresRepository) CreateTemplate(ctx context.Context, template *capability.Template) error {
	match, err := json.Marshal(template.Match)
	if err != nil {
		return fmt.Errorf("failed to marshal template matcher: %w", err)
	}
	mods, err := json.Marshal(template.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal template modules: %w", err)
	}

	query := `
		INSERT INTO capability_templates (name, match, modules, registered_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, template.Name, match, mods, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListTemplates(ctx context.Context) ([]*capability.Template, error) {
	// registered_at preserves registration order: lookup tie-breaking
	// depends on it.
	query := `SELECT name, match, modules FROM capability_templates ORDER BY registered_at, name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*capability.Template
	for rows.Next() {
		var match, mods []byte
		template := &capability.Template{}
		if err := rows.Scan(&template.Name, &match, &mods); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		if err := json.Unmarshal(match, &template.Match); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template matcher: %w", err)
		}
		if err := json.Unmarshal(mods, &template.Modules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template modules: %w", err)
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *forensic.Session) error {
	query := `
		INSERT INTO forensic_sessions (id, session_hash, admin_id, vehicle_ref, override_scope, override_reason, start_time, session_type, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID, session.SessionHash, session.AdminID, session.VehicleRef,
		session.OverrideScope, session.OverrideReason, session.StartTime,
		session.Type, session.EventCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, event *forensic.Event) error {
	query := `
		INSERT INTO forensic_events (id, session_id, sequence, event_type, timestamp, module, service, capability_decision, override_decision, mode, would_execute, raw_command, raw_response, result, event_hash)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		WHERE EXISTS (
			SELECT 1 FROM forensic_sessions WHERE id = $2 AND end_time IS NULL
		)
	`
	tag, err := r.pool.Exec(ctx, query,
		event.ID, event.SessionID, event.Sequence, event.Type, event.Timestamp,
		event.Module, event.Service, event.CapabilityDecision, event.OverrideDecision,
		event.Mode, event.WouldExecute, event.RawCommand, event.RawResponse,
		event.Result, event.EventHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionFinalized
	}
	return nil
}

// FinalizeSession sets end time, final event count and integrity hash once.
// The end_time IS NULL guard is what makes ended sessions immutable.
func (r *PostgresRepository) FinalizeSession(ctx context.Context, session *forensic.Session) error {
	query := `
		UPDATE forensic_sessions
		SET end_time = $2, event_count = $3, integrity_hash = $4
		WHERE id = $1 AND end_time IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, session.ID, session.EndTime, session.EventCount, session.IntegrityHash)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionFinalized
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*forensic.Session, error) {
	query := `
		SELECT id, session_hash, admin_id, vehicle_ref, override_scope, override_reason, start_time, end_time, session_type, event_count, COALESCE(integrity_hash, '')
		FROM forensic_sessions WHERE id = $1
	`
	session := &forensic.Session{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID, &session.SessionHash, &session.AdminID, &session.VehicleRef,
		&session.OverrideScope, &session.OverrideReason, &session.StartTime,
		&session.EndTime, &session.Type, &session.EventCount, &session.IntegrityHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context) ([]*forensic.Session, error) {
	query := `
		SELECT id, session_hash, admin_id, vehicle_ref, override_scope, override_reason, start_time, end_time, session_type, event_count, COALESCE(integrity_hash, '')
		FROM forensic_sessions ORDER BY start_time
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*forensic.Session
	for rows.Next() {
		session := &forensic.Session{}
		if err := rows.Scan(
			&session.ID, &session.SessionHash, &session.AdminID, &session.VehicleRef,
			&session.OverrideScope, &session.OverrideReason, &session.StartTime,
			&session.EndTime, &session.Type, &session.EventCount, &session.IntegrityHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *PostgresRepository) ListEvents(ctx context.Context, sessionID string) ([]*forensic.Event, error) {
	query := `
		SELECT id, session_id, sequence, event_type, timestamp, module, service, capability_decision, override_decision, mode, would_execute, raw_command, raw_response, result, event_hash
		FROM forensic_events WHERE session_id = $1 ORDER BY sequence
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*forensic.Event
	for rows.Next() {
		event := &forensic.Event{}
		if err := rows.Scan(
			&event.ID, &event.SessionID, &event.Sequence, &event.Type, &event.Timestamp,
			&event.Module, &event.Service, &event.CapabilityDecision, &event.OverrideDecision,
			&event.Mode, &event.WouldExecute, &event.RawCommand, &event.RawResponse,
			&event.Result, &event.EventHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	query := `
		INSERT INTO audit_log (id, timestamp, actor, action, detail, session_id, result, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action,
		entry.Detail, entry.SessionID, entry.Result, entry.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAudit(ctx context.Context) ([]*audit.Entry, error) {
	query := `
		SELECT id, timestamp, actor, action, detail, session_id, result, signature
		FROM audit_log ORDER BY timestamp
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry := &audit.Entry{}
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.Actor, &entry.Action,
			&entry.Detail, &entry.SessionID, &entry.Result, &entry.Signature,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}
