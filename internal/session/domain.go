// Package session keeps the server-side record of each login and rotates its
// refresh token.
package session

import (
	"context"
	"time"
)

// Session is one active login. Its refresh token is replaced in place on each
// rotation and the row is treated as gone once ExpiresAt has passed.
type Session struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	RefreshToken string    `json:"-"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Rotation describes a conditional refresh-token swap.
type Rotation struct {
	OldToken     string
	NewToken     string
	NewExpiresAt time.Time
	Now          time.Time
}

// Repository persists sessions. Implementations must apply Rotate as a single
// conditional write so that at most one caller wins for a given old token.
type Repository interface {
	Insert(ctx context.Context, s Session) error
	// Delete removes the row; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteOwned removes the row only when it belongs to userID.
	DeleteOwned(ctx context.Context, id string, userID int64) (bool, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	// FindActive returns shared.ErrNotFound for absent or expired rows.
	FindActive(ctx context.Context, id string, now time.Time) (Session, error)
	// Rotate returns shared.ErrNotFound when no unexpired row holds OldToken.
	Rotate(ctx context.Context, r Rotation) (Session, error)
	// ListActive returns unexpired sessions, newest first.
	ListActive(ctx context.Context, userID int64, now time.Time) ([]Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
