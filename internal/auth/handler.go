package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-auth/internal/authgate"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/session"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

// Rules holds the throttles applied to credential endpoints.
type Rules struct {
	Login  ratelimit.Rule
	Signup ratelimit.Rule
	Forgot ratelimit.Rule
}

// SessionDirectory exposes session introspection to the handler.
type SessionDirectory interface {
	ListActive(ctx context.Context, userID int64) ([]session.Session, error)
	Revoke(ctx context.Context, userID int64, id string) error
	Validate(ctx context.Context, id string) (token.Payload, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  SessionDirectory
	gate      *authgate.Gate
	rules     Rules
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions SessionDirectory, gate *authgate.Gate, rules Rules, validate *validator.Validate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if validate == nil {
		validate = httpx.NewValidator()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		gate:      gate,
		rules:     rules,
		validator: validate,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.Throttle(h.rules.Signup, authgate.ClientIP)).Post("/signup", h.handleSignup)
	r.With(h.gate.Throttle(h.rules.Login, authgate.ClientIP)).Post("/login", h.handleLogin)
	r.With(h.gate.Throttle(h.rules.Forgot, authgate.ClientIP)).Post("/forgot-password", h.handleForgotPassword)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/reset-password", h.handleResetPassword)
	r.With(h.gate.Optional).Get("/sessions/{id}/status", h.handleSessionStatus)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Authenticate)
		r.Post("/logout", h.handleLogout)
		r.Post("/change-password", h.handleChangePassword)
		r.With(h.gate.RequirePermission(rbac.PermReadOwnProfile)).Get("/me", h.handleMe)
		r.Group(func(r chi.Router) {
			r.Use(h.gate.RequirePermission(rbac.PermManageOwnSessions))
			r.Get("/sessions", h.handleListSessions)
			r.Delete("/sessions/{id}", h.handleRevokeSession)
		})
	})
}

type signupRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

type sessionStatus struct {
	Active    bool       `json:"active"`
	Subject   string     `json:"sub,omitempty"`
	Role      rbac.Role  `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Signup(r.Context(), req.Email, req.Password, clientOf(r))
	if err != nil {
		h.fail(w, "signup failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), req.Email, req.Password, clientOf(r))
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, "refresh failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Logout(r.Context(), callerID(r), req.SessionID); err != nil {
		h.fail(w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.service.ForgotPassword(r.Context(), req.Email)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.fail(w, "reset password failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), callerID(r), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, "change password failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), callerID(r))
	if err != nil {
		h.fail(w, "load profile failed", err)
		return
	}
	p, _ := authgate.PrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": rbac.PermissionsFor(p.Role),
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListActive(r.Context(), callerID(r))
	if err != nil {
		h.fail(w, "list sessions failed", err)
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revoke(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "revoke session failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionStatus reports whether a session is live. Identity details
// are disclosed only to the session's owner.
func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	payload, err := h.sessions.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if httpx.IsInternal(err) {
			h.fail(w, "session status failed", err)
			return
		}
		httpx.JSON(w, http.StatusOK, sessionStatus{Active: false})
		return
	}
	status := sessionStatus{Active: true}
	if p, ok := authgate.PrincipalFromContext(r.Context()); ok && p.Subject == payload.Subject {
		status.Subject = payload.Subject
		status.Role = payload.Role
		status.ExpiresAt = &payload.ExpiresAt
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func clientOf(r *http.Request) Client {
	return Client{UserAgent: r.UserAgent(), IPAddress: authgate.ClientIP(r)}
}

// callerID is the numeric subject of the authenticated principal.
func callerID(r *http.Request) int64 {
	p, _ := authgate.PrincipalFromContext(r.Context())
	id, _ := strconv.ParseInt(p.Subject, 10, 64)
	return id
}
