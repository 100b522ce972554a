package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

type permissionSet map[Permission]struct{}

func setOf(perms ...Permission) permissionSet {
	set := make(permissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Each role's list is authored on its own; there is no inheritance between roles.
var rolePermissions = map[Role]permissionSet{
	RoleAdmin: setOf(allPermissions[:]...),
	RoleModerator: setOf(
		PermReadOwnProfile,
		PermUpdateOwnProfile,
		PermManageOwnSessions,
		PermListUsers,
		PermReadUsers,
		PermDeactivateUsers,
	),
	RoleUser: setOf(
		PermReadOwnProfile,
		PermUpdateOwnProfile,
		PermManageOwnSessions,
	),
	RoleGuest: setOf(
		PermReadOwnProfile,
	),
}

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// RequirePermission returns an error wrapping shared.ErrForbidden when role
// lacks perm. Callers must stop processing on a non-nil result.
func RequirePermission(role Role, perm Permission) error {
	if HasPermission(role, perm) {
		return nil
	}
	return fmt.Errorf("rbac: role %q lacks %q: %w", role, perm, shared.ErrForbidden)
}

// IsAdmin reports whether role is the admin role.
func IsAdmin(role Role) bool {
	return role == RoleAdmin
}

// PermissionsFor returns the permissions granted to role in table order.
func PermissionsFor(role Role) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for _, p := range allPermissions {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
