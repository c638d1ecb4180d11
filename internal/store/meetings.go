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

const meetingColumns = `id, user_id, lead_qualification_id, external_meeting_id, subject,
	start_time, end_time, status, online_meeting_url, created_at, updated_at`

func scanMeeting(row pgx.Row) (*Meeting, error) {
	var m Meeting
	err := row.Scan(&m.ID, &m.UserID, &m.LeadQualificationID, &m.ExternalMeetingID, &m.Subject,
		&m.StartTime, &m.EndTime, &m.Status, &m.OnlineMeetingURL, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("meeting not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan meeting: %w", err)
	}
	return &m, nil
}

// NewMeeting is the input for persisting a scheduled meeting.
type NewMeeting struct {
	UserID              uuid.UUID
	LeadQualificationID uuid.UUID
	ExternalMeetingID   *string
	Subject             string
	StartTime           time.Time
	EndTime             time.Time
	OnlineMeetingURL    *string
}

func (r *Repository) CreateMeeting(ctx context.Context, in NewMeeting) (*Meeting, error) {
	if !in.StartTime.Before(in.EndTime) {
		return nil, apperr.Validation("meeting start must be before end")
	}

	query := `
		INSERT INTO meetings (id, user_id, lead_qualification_id, external_meeting_id, subject, start_time, end_time, online_meeting_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + meetingColumns

	m, err := scanMeeting(r.pool.QueryRow(ctx, query,
		uuid.New(), in.UserID, in.LeadQualificationID, in.ExternalMeetingID,
		in.Subject, in.StartTime, in.EndTime, in.OnlineMeetingURL))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return m, nil
}

func (r *Repository) GetMeetingByID(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	return scanMeeting(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) GetMeetingByExternalID(ctx context.Context, externalID string) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE external_meeting_id = $1`
	return scanMeeting(r.pool.QueryRow(ctx, query, externalID))
}

// GetActiveMeetingForLead returns the lead's single non-cancelled meeting.
func (r *Repository) GetActiveMeetingForLead(ctx context.Context, leadID uuid.UUID) (*Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings WHERE lead_qualification_id = $1 AND status <> 'cancelled'`
	return scanMeeting(r.pool.QueryRow(ctx, query, leadID))
}

func (r *Repository) ListMeetings(ctx context.Context, from, to time.Time) ([]Meeting, error) {
	query := `SELECT ` + meetingColumns + `
		FROM meetings WHERE start_time >= $1 AND start_time < $2 ORDER BY start_time, id`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
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
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}

	return items, nil
}

// SetMeetingStatus transitions a meeting's status and returns the post-state.
func (r *Repository) SetMeetingStatus(ctx context.Context, id uuid.UUID, status string) (*Meeting, error) {
	query := `UPDATE meetings SET status = $2, updated_at = now() WHERE id = $1
		RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, query, id, status))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, err
	}
	return m, nil
}

// RescheduleMeeting moves a meeting to a new window and marks it rescheduled.
func (r *Repository) RescheduleMeeting(ctx context.Context, id uuid.UUID, start, end time.Time) (*Meeting, error) {
	if !start.Before(end) {
		return nil, apperr.Validation("meeting start must be before end")
	}
	query := `UPDATE meetings SET start_time = $2, end_time = $3, status = 'rescheduled', updated_at = now()
		WHERE id = $1 RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, query, id, start, end))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, err
	}
	return m, nil
}

// CountMeetingsBetween counts meetings starting inside [from, to).
func (r *Repository) CountMeetingsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM meetings WHERE start_time >= $1 AND start_time < $2`, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count meetings: %w", err)
	}
	return count, nil
}
