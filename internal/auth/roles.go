package auth

import (
	"fmt"
	"strings"
)

// Role is a rung in the platform's ordered hierarchy. Higher values satisfy
// every requirement a lower value does; there are no sideways permissions.
type Role int

const (
	RoleUser Role = iota + 1
	RoleProjectManager
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleUser:           "USER",
	RoleProjectManager: "PROJECT_MANAGER",
	RoleAdmin:          "ADMIN",
	RoleSuperAdmin:     "SUPER_ADMIN",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ROLE(%d)", int(r))
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Satisfies reports whether r meets the required minimum role.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r >= required
}

// Require returns ErrInsufficientRole when r does not meet the required
// minimum. The error form feeds the boundary's status mapping.
func (r Role) Require(required Role) error {
	if !r.Satisfies(required) {
		return ErrInsufficientRole
	}
	return nil
}

// SatisfiesAny reports whether r meets at least one of the required roles.
func (r Role) SatisfiesAny(required ...Role) bool {
	for _, req := range required {
		if r.Satisfies(req) {
			return true
		}
	}
	return false
}

// ParseRole maps a stored or transported role name onto a Role.
func ParseRole(s string) (Role, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for role, name := range roleNames {
		if name == normalized {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}
