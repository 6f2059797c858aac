package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermStateRead      Permission = "state:read"
	PermStateRefresh   Permission = "state:refresh"
	PermAttributeWrite Permission = "attribute:write"
	PermHistoryRead    Permission = "history:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStateRead,
		PermHistoryRead,
	},
	RoleOperator: {
		PermStateRead,
		PermStateRefresh,
		PermAttributeWrite,
		PermHistoryRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
