package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// PostgresRepository stores sessions in the sessions table.
type PostgresRepository struct {
	conn db.DBTX
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

var _ Repository = (*PostgresRepository)(nil)

const sessionColumns = `id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at`

func (r *PostgresRepository) Insert(ctx context.Context, s Session) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.RefreshToken, s.UserAgent, s.IPAddress, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("session insert: %w", shared.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) DeleteOwned(ctx context.Context, id string, userID int64) (bool, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) FindActive(ctx context.Context, id string, now time.Time) (Session, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > $2`, id, now)
	return one(row)
}

// Rotate swaps the refresh token with one conditional UPDATE, so two
// concurrent callers holding the same old token cannot both match.
func (r *PostgresRepository) Rotate(ctx context.Context, rot Rotation) (Session, error) {
	row := r.conn.QueryRow(ctx, `UPDATE sessions
SET refresh_token = $2, expires_at = $3
WHERE refresh_token = $1 AND expires_at > $4
RETURNING `+sessionColumns, rot.OldToken, rot.NewToken, rot.NewExpiresAt, rot.Now)
	return one(row)
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID int64, now time.Time) ([]Session, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE user_id = $1 AND expires_at > $2
ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func one(row pgx.Row) (Session, error) {
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}
