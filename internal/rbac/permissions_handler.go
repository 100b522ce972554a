package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
)

// RoleGrant is one row of the role table.
type RoleGrant struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// Guard is the middleware surface the handler mounts behind.
type Guard interface {
	Authenticate(next http.Handler) http.Handler
	RequirePermission(perms ...Permission) func(http.Handler) http.Handler
}

// PermissionsHandler serves the static role table.
type PermissionsHandler struct {
	guard Guard
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(guard Guard) *PermissionsHandler {
	return &PermissionsHandler{guard: guard}
}

// MountRoutes registers the role table route.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Use(h.guard.Authenticate, h.guard.RequirePermission(PermViewPermissions))
	r.Get("/", h.list)
}

// Table returns every role with its grants, in declaration order.
func Table() []RoleGrant {
	out := make([]RoleGrant, 0, len(allRoles))
	for _, role := range Roles() {
		out = append(out, RoleGrant{Role: role, Permissions: PermissionsFor(role)})
	}
	return out
}

type tableResponse struct {
	Permissions []Permission `json:"permissions"`
	Roles       []RoleGrant  `json:"roles"`
}

func (h *PermissionsHandler) list(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, tableResponse{Permissions: Permissions(), Roles: Table()})
}
