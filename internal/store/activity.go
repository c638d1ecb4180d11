package store

import (
	"context"
	"fmt"
	"time"
)

// Activity queries backing the dashboard timeline and performance views.

func (r *Repository) ListUsersSince(ctx context.Context, since time.Time, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + userColumns + ` FROM users
		WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Phone, &u.Email, &u.FullName, &u.Company,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent users: %w", err)
	}
	return items, nil
}

func (r *Repository) ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE created_at >= $1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2`
	return r.queryMessages(ctx, query, since, limit)
}

func (r *Repository) ListMeetingsCreatedSince(ctx context.Context, since time.Time, limit int) ([]Meeting, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + meetingColumns + ` FROM meetings
		WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent meetings: %w", err)
	}
	defer rows.Close()

	items := make([]Meeting, 0)
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.UserID, &m.LeadQualificationID, &m.ExternalMeetingID, &m.Subject,
			&m.StartTime, &m.EndTime, &m.Status, &m.OnlineMeetingURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent meetings: %w", err)
	}
	return items, nil
}

// CountMessagesByRole counts non-deleted messages per role since the cutoff.
// A zero cutoff counts all messages.
func (r *Repository) CountMessagesByRole(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `SELECT role, count(*) FROM messages
		WHERE deleted_at IS NULL AND ($1::timestamptz IS NULL OR created_at >= $1)
		GROUP BY role`
	var cutoff *time.Time
	if !since.IsZero() {
		cutoff = &since
	}

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by role: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan message counts: %w", err)
		}
		counts[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message counts: %w", err)
	}
	return counts, nil
}
