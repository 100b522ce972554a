// Package rbac holds the static role to permission table.
package rbac

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Role is the closed set of account roles carried inside access tokens.
type Role string

// Roles.
const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
	RoleGuest     Role = "guest"
)

// Permission represents an atomic capability.
type Permission string

// Permissions.
const (
	PermReadOwnProfile    Permission = "profile.read"
	PermUpdateOwnProfile  Permission = "profile.update"
	PermManageOwnSessions Permission = "sessions.manage_own"
	PermListUsers         Permission = "users.list"
	PermReadUsers         Permission = "users.read"
	PermDeactivateUsers   Permission = "users.deactivate"
	PermManageRoles       Permission = "roles.manage"
	PermViewPermissions   Permission = "permissions.view"
)

var allRoles = [...]Role{RoleAdmin, RoleModerator, RoleUser, RoleGuest}

var allPermissions = [...]Permission{
	PermReadOwnProfile,
	PermUpdateOwnProfile,
	PermManageOwnSessions,
	PermListUsers,
	PermReadUsers,
	PermDeactivateUsers,
	PermManageRoles,
	PermViewPermissions,
}

// Roles lists every role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles[:])
	return out
}

// Permissions lists every permission.
func Permissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions[:])
	return out
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q: %w", raw, shared.ErrValidation)
	}
	return role, nil
}
