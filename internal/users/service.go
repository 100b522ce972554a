package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	UpdateRole(ctx context.Context, id int64, role rbac.Role) (*User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context, limit, offset int) ([]User, int, error)
}

// SessionRevoker ends sessions on behalf of an administrator.
type SessionRevoker interface {
	Destroy(ctx context.Context, id string) error
	DestroyAll(ctx context.Context, userID int64) (int64, error)
}

// Service handles user administration.
type Service struct {
	repo     RepositoryPort
	sessions SessionRevoker
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sessions SessionRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// ListUsers returns one page of users ordered by id.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) (Page, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	offset := shared.Pagination{Page: page, PerPage: perPage}.Offset()
	list, total, err := s.repo.List(ctx, perPage, offset)
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []User{}
	}
	return Page{Users: list, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// ChangeRole assigns a new role. Sessions of the target are ended because
// refresh tokens carry the role they were minted with.
func (s *Service) ChangeRole(ctx context.Context, actor rbac.Role, actorID, id int64, raw string) (*User, error) {
	if err := rbac.RequirePermission(actor, rbac.PermManageRoles); err != nil {
		return nil, err
	}
	role, err := rbac.ParseRole(raw)
	if err != nil {
		return nil, shared.NewValidationError("role", "unknown role")
	}
	if actorID == id {
		return nil, shared.NewValidationError("id", "cannot change own role")
	}
	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.DestroyAll(ctx, id); err != nil {
		return nil, fmt.Errorf("users: change role: %w", err)
	}
	s.logger.Info("user role changed", slog.Int64("user_id", id), slog.String("role", string(role)), slog.Int64("actor_id", actorID))
	return user, nil
}

// Deactivate blocks future logins and ends all sessions of the user. Only
// admins may deactivate another admin.
func (s *Service) Deactivate(ctx context.Context, actor rbac.Role, actorID, id int64) error {
	if err := rbac.RequirePermission(actor, rbac.PermDeactivateUsers); err != nil {
		return err
	}
	if actorID == id {
		return shared.NewValidationError("id", "cannot deactivate own account")
	}
	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rbac.IsAdmin(target.Role) && !rbac.IsAdmin(actor) {
		return shared.ErrForbidden
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	n, err := s.sessions.DestroyAll(ctx, id)
	if err != nil {
		return fmt.Errorf("users: deactivate: %w", err)
	}
	s.logger.Info("user deactivated", slog.Int64("user_id", id), slog.Int64("sessions", n), slog.Int64("actor_id", actorID))
	return nil
}

// EndSession deletes one session of any user. Unknown ids are not an error.
func (s *Service) EndSession(ctx context.Context, actor rbac.Role, actorID int64, sessionID string) error {
	if !rbac.IsAdmin(actor) {
		return shared.ErrForbidden
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("users: end session: %w", err)
	}
	s.logger.Info("session ended by admin", slog.String("session_id", sessionID), slog.Int64("actor_id", actorID))
	return nil
}
