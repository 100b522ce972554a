package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/odyssey-erp/odyssey-auth/internal/observability"
	"github.com/odyssey-erp/odyssey-auth/internal/password"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/session"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
	"github.com/odyssey-erp/odyssey-auth/internal/users"
)

// UserStore is the user persistence the flows need.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string, role rbac.Role) (*users.User, error)
	FindByEmail(ctx context.Context, email string) (*users.User, error)
	FindByID(ctx context.Context, id int64) (*users.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// Hasher derives and checks stored password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, stored string) (bool, error)
}

// TokenIssuer mints access/refresh pairs.
type TokenIssuer interface {
	IssuePair(subject, email string, role rbac.Role) (token.Pair, error)
}

// Sessions is the session lifecycle the flows drive.
type Sessions interface {
	Create(ctx context.Context, p session.CreateParams) (session.Session, error)
	Refresh(ctx context.Context, oldRefresh string) (token.Pair, error)
	Revoke(ctx context.Context, userID int64, id string) error
	DestroyAll(ctx context.Context, userID int64) (int64, error)
}

// Mailer hands password reset mail to the delivery pipeline.
type Mailer interface {
	EnqueuePasswordReset(ctx context.Context, email, resetToken string) error
}

// Deps groups Service collaborators.
type Deps struct {
	Users    UserStore
	Hasher   Hasher
	Tokens   TokenIssuer
	Sessions Sessions
	Resets   ResetTokens
	Mailer   Mailer
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Service wraps authentication business rules.
type Service struct {
	users    UserStore
	hasher   Hasher
	tokens   TokenIssuer
	sessions Sessions
	resets   ResetTokens
	mailer   Mailer
	logger   *slog.Logger
	metrics  *observability.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a new Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    d.Users,
		hasher:   d.Hasher,
		tokens:   d.Tokens,
		sessions: d.Sessions,
		resets:   d.Resets,
		mailer:   d.Mailer,
		logger:   logger,
		metrics:  d.Metrics,
	}
}

// Client describes where a credential request came from.
type Client struct {
	UserAgent string
	IPAddress string
}

// Result is returned by signup and login.
type Result struct {
	User      *users.User `json:"user"`
	Tokens    token.Pair  `json:"tokens"`
	SessionID string      `json:"sessionId"`
}

// Signup creates a user with the default role and opens a session.
func (s *Service) Signup(ctx context.Context, email, pw string, client Client) (Result, error) {
	email = users.NormalizeEmail(email)
	if err := password.CheckStrength(pw); err != nil {
		return Result{}, err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return Result{}, fmt.Errorf("auth: signup: %w", err)
	}
	user, err := s.users.Create(ctx, email, hash, rbac.RoleUser)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.metrics.ObserveAuth("signup", "conflict")
			return Result{}, fmt.Errorf("auth: email already registered: %w", shared.ErrConflict)
		}
		return Result{}, err
	}
	res, err := s.open(ctx, user, client)
	if err != nil {
		return Result{}, err
	}
	s.metrics.ObserveAuth("signup", "success")
	s.logger.Info("user signed up", slog.Int64("user_id", user.ID))
	return res, nil
}

// Login checks credentials and opens a session. Unknown email, inactive
// account and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, pw string, client Client) (Result, error) {
	email = users.NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return Result{}, err
		}
		// Burn the same KDF work as a real check.
		_, _ = s.hasher.Verify(pw, s.dummy())
		return Result{}, s.rejectLogin("unknown email", 0)
	}
	ok, err := s.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		return Result{}, fmt.Errorf("auth: login: %w", err)
	}
	if !ok {
		return Result{}, s.rejectLogin("wrong password", user.ID)
	}
	if !user.IsActive {
		return Result{}, s.rejectLogin("inactive account", user.ID)
	}
	res, err := s.open(ctx, user, client)
	if err != nil {
		return Result{}, err
	}
	s.metrics.ObserveAuth("login", "success")
	return res, nil
}

func (s *Service) rejectLogin(reason string, userID int64) error {
	s.metrics.ObserveAuth("login", "invalid_credentials")
	s.logger.Debug("login rejected", slog.String("reason", reason), slog.Int64("user_id", userID))
	return shared.ErrInvalidCredentials
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equalizer")
		if err != nil {
			s.logger.Error("dummy hash", slog.Any("error", err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Service) open(ctx context.Context, user *users.User, client Client) (Result, error) {
	pair, err := s.tokens.IssuePair(strconv.FormatInt(user.ID, 10), user.Email, user.Role)
	if err != nil {
		return Result{}, fmt.Errorf("auth: issue tokens: %w", err)
	}
	sess, err := s.sessions.Create(ctx, session.CreateParams{
		UserID:    user.ID,
		Pair:      pair,
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{User: user, Tokens: pair, SessionID: sess.ID}, nil
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	pair, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidToken) {
			s.metrics.ObserveAuth("refresh", "invalid")
		}
		return token.Pair{}, err
	}
	s.metrics.ObserveAuth("refresh", "success")
	return pair, nil
}

// Logout ends one of the caller's sessions. Unknown or foreign ids are
// ignored so that logout stays idempotent.
func (s *Service) Logout(ctx context.Context, userID int64, sessionID string) error {
	err := s.sessions.Revoke(ctx, userID, sessionID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	s.metrics.ObserveAuth("logout", "success")
	return nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, userID int64) (*users.User, error) {
	return s.users.FindByID(ctx, userID)
}

// ChangePassword replaces the caller's password after checking the current
// one, then ends every session of the account.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("auth: change password: %w", err)
	}
	if !ok {
		s.metrics.ObserveAuth("change_password", "invalid_credentials")
		return shared.ErrInvalidCredentials
	}
	if err := s.setPassword(ctx, userID, next); err != nil {
		return err
	}
	s.metrics.ObserveAuth("change_password", "success")
	return nil
}

// ForgotPassword queues a reset mail when the address belongs to an active
// account. It reports nothing about whether the account exists; failures are
// logged only.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	email = users.NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("forgot password lookup", slog.Any("error", err))
		}
		return
	}
	if !user.IsActive {
		return
	}
	raw, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		s.logger.Error("forgot password issue token", slog.Any("error", err))
		return
	}
	if err := s.mailer.EnqueuePasswordReset(ctx, user.Email, raw); err != nil {
		s.logger.Error("forgot password enqueue mail", slog.Any("error", err))
		return
	}
	s.metrics.ObserveAuth("forgot_password", "queued")
}

// ResetPassword redeems a reset token. The token is checked only after the
// new password passes the strength policy so a weak choice does not burn it.
func (s *Service) ResetPassword(ctx context.Context, resetToken, next string) error {
	if err := password.CheckStrength(next); err != nil {
		return err
	}
	userID, err := s.resets.Consume(ctx, resetToken)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidToken) {
			s.metrics.ObserveAuth("reset_password", "invalid")
		}
		return err
	}
	if err := s.setPassword(ctx, userID, next); err != nil {
		return err
	}
	s.metrics.ObserveAuth("reset_password", "success")
	return nil
}

func (s *Service) setPassword(ctx context.Context, userID int64, next string) error {
	if err := password.CheckStrength(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	n, err := s.sessions.DestroyAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("auth: end sessions: %w", err)
	}
	s.logger.Info("password replaced", slog.Int64("user_id", userID), slog.Int64("sessions_ended", n))
	return nil
}
