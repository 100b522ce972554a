package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-auth/internal/authgate"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *authgate.Gate
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *authgate.Gate, validate *validator.Validate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if validate == nil {
		validate = httpx.NewValidator()
	}
	return &Handler{logger: logger, service: service, gate: gate, validate: validate}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gate.Authenticate)
	r.With(h.gate.RequirePermission(rbac.PermListUsers)).Get("/", h.listUsers)
	r.With(h.gate.RequirePermission(rbac.PermReadUsers)).Get("/{id}", h.getUser)
	r.With(h.gate.RequirePermission(rbac.PermManageRoles)).Patch("/{id}/role", h.changeRole)
	r.With(h.gate.RequirePermission(rbac.PermDeactivateUsers)).Post("/{id}/deactivate", h.deactivate)
	r.With(h.gate.RequireRoles(rbac.RoleAdmin)).Delete("/sessions/{sessionID}", h.endSession)
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	result, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, "list users failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req changeRoleRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, actorID := principal(r)
	user, err := h.service.ChangeRole(r.Context(), actor, actorID, id, req.Role)
	if err != nil {
		h.fail(w, "change role failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, actorID := principal(r)
	if err := h.service.Deactivate(r.Context(), actor, actorID, id); err != nil {
		h.fail(w, "deactivate user failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	actor, actorID := principal(r)
	if err := h.service.EndSession(r.Context(), actor, actorID, chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, "end session failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

// principal returns the caller's role and numeric id. Authenticate has run
// by the time handlers execute.
func principal(r *http.Request) (rbac.Role, int64) {
	p, _ := authgate.PrincipalFromContext(r.Context())
	id, _ := strconv.ParseInt(p.Subject, 10, 64)
	return p.Role, id
}
