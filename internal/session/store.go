package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

// Tokens is the subset of the token service the store needs.
type Tokens interface {
	Verify(raw string, kind token.Kind) (token.Payload, error)
	IssuePair(subject, email string, role rbac.Role) (token.Pair, error)
	RefreshTTL() time.Duration
}

// CreateParams describes a new login.
type CreateParams struct {
	UserID    int64
	Pair      token.Pair
	UserAgent string
	IPAddress string
}

// Store manages session lifecycles. Storage errors are returned as-is and
// never retried.
type Store struct {
	repo   Repository
	tokens Tokens
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore constructs a Store.
func NewStore(repo Repository, tokens Tokens, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, tokens: tokens, clock: clk, logger: logger}
}

// Create persists a session for a freshly issued pair. The session lives as
// long as its refresh token.
func (s *Store) Create(ctx context.Context, p CreateParams) (Session, error) {
	now := s.clock.Now()
	sess := Session{
		ID:           uuid.NewString(),
		UserID:       p.UserID,
		RefreshToken: p.Pair.RefreshToken,
		UserAgent:    p.UserAgent,
		IPAddress:    p.IPAddress,
		ExpiresAt:    now.Add(s.tokens.RefreshTTL()),
		CreatedAt:    now,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Destroy deletes a session regardless of its owner. Administrative
// termination goes through it; user logout uses Revoke. Unknown ids are not
// an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

// Revoke deletes a session owned by userID. Foreign or unknown ids yield
// shared.ErrNotFound.
func (s *Store) Revoke(ctx context.Context, userID int64, id string) error {
	if !validID(id) {
		return shared.ErrNotFound
	}
	ok, err := s.repo.DeleteOwned(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	if !ok {
		return shared.ErrNotFound
	}
	return nil
}

// DestroyAll deletes every session of userID and returns how many were removed.
func (s *Store) DestroyAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("session: destroy all: %w", err)
	}
	return n, nil
}

// Refresh exchanges a refresh token for a new pair. The old token is
// single-use: once rotated, presenting it again fails.
func (s *Store) Refresh(ctx context.Context, oldRefresh string) (token.Pair, error) {
	payload, err := s.tokens.Verify(oldRefresh, token.KindRefresh)
	if err != nil {
		return token.Pair{}, shared.ErrInvalidToken
	}
	pair, err := s.tokens.IssuePair(payload.Subject, payload.Email, payload.Role)
	if err != nil {
		return token.Pair{}, fmt.Errorf("session: refresh: %w", err)
	}
	now := s.clock.Now()
	rotated, err := s.repo.Rotate(ctx, Rotation{
		OldToken:     oldRefresh,
		NewToken:     pair.RefreshToken,
		NewExpiresAt: now.Add(s.tokens.RefreshTTL()),
		Now:          now,
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("session refresh rejected", slog.String("subject", payload.Subject), slog.String("jti", payload.ID))
			return token.Pair{}, shared.ErrInvalidToken
		}
		return token.Pair{}, fmt.Errorf("session: refresh: %w", err)
	}
	if strconv.FormatInt(rotated.UserID, 10) != payload.Subject {
		// The signature binds the subject, so this means corrupted storage.
		s.logger.Error("session refresh subject mismatch",
			slog.String("session", rotated.ID),
			slog.String("subject", payload.Subject))
		return token.Pair{}, fmt.Errorf("session: refresh: subject mismatch on %s", rotated.ID)
	}
	return pair, nil
}

// Validate reports the identity behind a still-live session.
func (s *Store) Validate(ctx context.Context, id string) (token.Payload, error) {
	if !validID(id) {
		return token.Payload{}, shared.ErrInvalidToken
	}
	sess, err := s.repo.FindActive(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return token.Payload{}, shared.ErrInvalidToken
		}
		return token.Payload{}, fmt.Errorf("session: validate: %w", err)
	}
	payload, err := s.tokens.Verify(sess.RefreshToken, token.KindRefresh)
	if err != nil {
		return token.Payload{}, shared.ErrInvalidToken
	}
	return payload, nil
}

// ListActive returns the user's unexpired sessions, newest first.
func (s *Store) ListActive(ctx context.Context, userID int64) ([]Session, error) {
	list, err := s.repo.ListActive(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return list, nil
}

// Compact deletes expired rows. It is not needed for correctness since
// expiry is enforced at read time.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("session: compact: %w", err)
	}
	return n, nil
}

// validID keeps malformed ids away from the uuid column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
