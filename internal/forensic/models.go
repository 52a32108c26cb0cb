package forensic

import "time"

// SessionType classifies what kind of work a forensic session wraps.
type SessionType string

const (
	SessionDiagnostic SessionType = "diagnostic"
	SessionTuning     SessionType = "tuning"
	SessionReview     SessionType = "review"
)

// EventType classifies a recorded event.
type EventType string

const (
	EventSessionStart      EventType = "SESSION_START"
	EventSessionEnd        EventType = "SESSION_END"
	EventCapabilityCheck   EventType = "CAPABILITY_CHECK"
	EventOverrideCheck     EventType = "OVERRIDE_CHECK"
	EventOverrideActivated EventType = "OVERRIDE_ACTIVATED"
	EventOverrideRevoked   EventType = "OVERRIDE_REVOKED"
	EventCommandExecuted   EventType = "COMMAND_EXECUTED"
	EventCommandBlocked    EventType = "COMMAND_BLOCKED"
	EventError             EventType = "ERROR"
)

// ExecutionMode records how a routed request was handled.
type ExecutionMode string

const (
	ModeLive    ExecutionMode = "LIVE"
	ModeDryRun  ExecutionMode = "DRY_RUN"
	ModeBlocked ExecutionMode = "BLOCKED"
)

// Session is the append-only audit record of one diagnostic session. It is
// immutable once ended; IntegrityHash folds over every child event hash.
type Session struct {
	ID             string      `json:"id" yaml:"id"`
	SessionHash    string      `json:"session_hash" yaml:"session_hash"`
	AdminID        string      `json:"admin_id" yaml:"admin_id"`
	VehicleRef     string      `json:"vehicle_ref" yaml:"vehicle_ref"`
	OverrideScope  string      `json:"override_scope,omitempty" yaml:"override_scope,omitempty"`
	OverrideReason string      `json:"override_reason,omitempty" yaml:"override_reason,omitempty"`
	StartTime      time.Time   `json:"start_time" yaml:"start_time"`
	EndTime        *time.Time  `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Type           SessionType `json:"type" yaml:"type"`
	EventCount     int         `json:"event_count" yaml:"event_count"`
	IntegrityHash  string      `json:"integrity_hash,omitempty" yaml:"integrity_hash,omitempty"`
}

// Ended reports whether the session has been finalized.
func (s *Session) Ended() bool {
	return s.EndTime != nil
}

// Event is one immutable audit record, exclusively owned by its session.
// Sequence numbers are gap-free per session, starting at 1.
type Event struct {
	ID                 string        `json:"id" yaml:"id"`
	SessionID          string        `json:"session_id" yaml:"session_id"`
	Sequence           int           `json:"sequence" yaml:"sequence"`
	Type               EventType     `json:"type" yaml:"type"`
	Timestamp          time.Time     `json:"timestamp" yaml:"timestamp"`
	Module             string        `json:"module,omitempty" yaml:"module,omitempty"`
	Service            string        `json:"service,omitempty" yaml:"service,omitempty"`
	CapabilityDecision string        `json:"capability_decision,omitempty" yaml:"capability_decision,omitempty"`
	OverrideDecision   string        `json:"override_decision,omitempty" yaml:"override_decision,omitempty"`
	Mode               ExecutionMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	WouldExecute       bool          `json:"would_execute" yaml:"would_execute"`
	RawCommand         string        `json:"raw_command,omitempty" yaml:"raw_command,omitempty"`
	RawResponse        string        `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
	Result             string        `json:"result,omitempty" yaml:"result,omitempty"`
	EventHash          string        `json:"event_hash" yaml:"event_hash"`
}
