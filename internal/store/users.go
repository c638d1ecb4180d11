package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TDXCORE/Agent-Test/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, phone, email, full_name, company, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Phone, &u.Email, &u.FullName, &u.Company, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.pool.QueryRow(ctx, query, phone))
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Phone, &u.Email, &u.FullName, &u.Company, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return items, nil
}

// UpsertUserByPhone creates the user on first contact or returns the existing
// row for the phone number. The name is only written when the stored one is empty.
func (r *Repository) UpsertUserByPhone(ctx context.Context, phone, fullName string) (*User, error) {
	query := `
		INSERT INTO users (id, phone, full_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) WHERE phone IS NOT NULL DO UPDATE
		SET full_name = CASE WHEN users.full_name = '' THEN EXCLUDED.full_name ELSE users.full_name END,
		    updated_at = now()
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, query, uuid.New(), phone, fullName))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return u, nil
}

// UserPatch carries optional field updates for a user.
type UserPatch struct {
	FullName *string
	Email    *string
	Phone    *string
	Company  *string
}

// UpdateUser applies the non-nil fields of the patch and returns the post-state.
func (r *Repository) UpdateUser(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	query := `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			email = COALESCE($3, email),
			phone = COALESCE($4, phone),
			company = COALESCE($5, company),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, query, id, patch.FullName, patch.Email, patch.Phone, patch.Company))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, err
	}
	return u, nil
}

// CountUsersSince counts users created at or after the cutoff. A zero cutoff counts all.
func (r *Repository) CountUsersSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT count(*) FROM users WHERE $1::timestamptz IS NULL OR created_at >= $1`
	var cutoff *time.Time
	if !since.IsZero() {
		cutoff = &since
	}
	var count int
	if err := r.pool.QueryRow(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
