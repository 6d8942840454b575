package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleInstaller provisions devices in the field: issues tokens, pairs
	// devices, views batches.
	RoleInstaller Role = "installer"

	// RoleOperator runs the fleet day to day: views devices and state,
	// sends commands.
	RoleOperator Role = "operator"

	// RoleAdmin has full control, including registration and batch
	// creation.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleInstaller, RoleOperator, RoleAdmin}

// IsValidRole returns true if the role is recognised.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Identity is the verified caller identity handed to the provisioning
// workflow and API handlers. The core trusts it; token verification
// happened at the boundary.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Can reports whether the identity's role meets the required tier. Admin
// covers everything; installer and operator cover only themselves.
func (id Identity) Can(required Role) bool {
	if id.Role == RoleAdmin {
		return true
	}
	return id.Role == required
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
