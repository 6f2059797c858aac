package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer can read state, attributes and history.
	RoleViewer Role = "viewer"

	// RoleOperator can also write attributes and request refreshes.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRole converts a string to a Role. An empty string yields RoleViewer.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleViewer, nil
	}
	r := Role(s)
	if !IsValidRole(r) {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrEmptySecret  = errors.New("signing secret is empty")
	ErrEmptySubject = errors.New("token subject is empty")
)
