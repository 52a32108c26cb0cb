package identity

// Role is the resolved authorization role of a caller. Session issuance and
// token validation happen upstream; the core only consumes the result.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleViewer     Role = "viewer"
)

// Identity is a resolved caller identity attached to every privileged call.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity may activate capability overrides.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanExecute reports whether the identity may trigger live bus traffic.
// Viewers are restricted to dry-run and replay surfaces.
func (i Identity) CanExecute() bool {
	return i.Role == RoleAdmin || i.Role == RoleTechnician
}
