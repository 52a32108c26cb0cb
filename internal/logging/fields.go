package logging

import "log/slog"

// Common field names for consistent logging across binaries.
const (
	FieldService   = "service"
	FieldAdminID   = "admin_id"
	FieldSessionID = "session_id"
	FieldVehicle   = "vehicle"
	FieldModule    = "module"
	FieldAction    = "action"
	FieldAddress   = "address"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldScope     = "scope"
	FieldSequence  = "sequence"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// AdminID returns a slog attribute for the acting administrator.
func AdminID(id string) slog.Attr {
	return slog.String(FieldAdminID, id)
}

// SessionID returns a slog attribute for the diagnostic session ID.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// Vehicle returns a slog attribute for the vehicle reference.
func Vehicle(ref string) slog.Attr {
	return slog.String(FieldVehicle, ref)
}

// Module returns a slog attribute for the diagnostic module name.
func Module(name string) slog.Attr {
	return slog.String(FieldModule, name)
}

// Action returns a slog attribute for the diagnostic action name.
func Action(name string) slog.Attr {
	return slog.String(FieldAction, name)
}

// Address returns a slog attribute for a bus arbitration address.
func Address(addr uint32) slog.Attr {
	return slog.Int64(FieldAddress, int64(addr))
}

// Status returns a slog attribute for a result status.
func Status(status string) slog.Attr {
	return slog.String(FieldStatus, status)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Scope returns a slog attribute for an override scope.
func Scope(scope string) slog.Attr {
	return slog.String(FieldScope, scope)
}

// Sequence returns a slog attribute for a forensic event sequence number.
func Sequence(seq int) slog.Attr {
	return slog.Int(FieldSequence, seq)
}
