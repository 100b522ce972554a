package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/db"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Conn is the database handle the repository needs.
type Conn interface {
	db.DBTX
	db.TxBeginner
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	conn Conn
}

// NewRepository constructs a repository.
func NewRepository(conn Conn) *Repository {
	return &Repository{conn: conn}
}

const userColumns = `id, email, password_hash, role, is_active, created_at, updated_at`

// Create inserts a new user. A duplicate email yields shared.ErrConflict.
func (r *Repository) Create(ctx context.Context, email, passwordHash string, role rbac.Role) (*User, error) {
	row := r.conn.QueryRow(ctx, `INSERT INTO users (email, password_hash, role)
VALUES ($1, $2, $3)
RETURNING `+userColumns, email, passwordHash, string(role))
	user, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("users: create %s: %w", email, shared.ErrConflict)
		}
		return nil, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// FindByEmail fetches a user by normalized email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.one(row, "find by email")
}

// FindByID fetches a user by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.one(row, "find by id")
}

// UpdatePassword replaces the stored hash wholesale.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.conn.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("users: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateRole changes a user's role and returns the updated record.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role rbac.Role) (*User, error) {
	row := r.conn.QueryRow(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, string(role))
	return r.one(row, "update role")
}

// SetActive toggles the account's active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.conn.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("users: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns one page of users and the total count, read from a single snapshot.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	var (
		total int
		list  []User
	)
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
			return fmt.Errorf("users: count: %w", err)
		}
		rows, err := tx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return fmt.Errorf("users: list: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return fmt.Errorf("users: scan: %w", err)
			}
			list = append(list, *user)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *Repository) one(row pgx.Row, op string) (*User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: %s: %w", op, err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		user User
		role string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = rbac.Role(role)
	return &user, nil
}
