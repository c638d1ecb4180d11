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

const messageColumns = `id, conversation_id, role, content, message_type, media_url, external_id, read, delivery_failed, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.MessageType,
		&m.MediaURL, &m.ExternalID, &m.Read, &m.DeliveryFailed, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &m, nil
}

// NewMessage is the input for appending a message to a conversation.
type NewMessage struct {
	ConversationID uuid.UUID
	Role           string
	Content        string
	MessageType    string
	MediaURL       *string
	ExternalID     *string
	Read           bool
}

// CreateMessage appends a message. When the external id is already present the
// existing row is returned with duplicate=true so webhook redelivery is a no-op.
func (r *Repository) CreateMessage(ctx context.Context, in NewMessage) (*Message, bool, error) {
	if in.MessageType == "" {
		in.MessageType = MessageText
	}

	if in.ExternalID != nil {
		existing, err := r.GetMessageByExternalID(ctx, *in.ExternalID)
		if err == nil {
			return existing, true, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, false, err
		}
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, message_type, media_url, external_id, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.pool.QueryRow(ctx, query,
		uuid.New(), in.ConversationID, in.Role, in.Content, in.MessageType, in.MediaURL, in.ExternalID, in.Read))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			// Lost the insert race on external_id; treat as a duplicate delivery.
			if in.ExternalID != nil {
				if existing, getErr := r.GetMessageByExternalID(ctx, *in.ExternalID); getErr == nil {
					return existing, true, nil
				}
			}
			return nil, false, cv
		}
		return nil, false, fmt.Errorf("failed to create message: %w", err)
	}
	return m, false, nil
}

func (r *Repository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND deleted_at IS NULL`
	return scanMessage(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) GetMessageByExternalID(ctx context.Context, externalID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE external_id = $1 AND deleted_at IS NULL`
	return scanMessage(r.pool.QueryRow(ctx, query, externalID))
}

// ListMessages returns the non-deleted messages of a conversation in
// (created_at, id) order.
func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + messageColumns + `
		FROM messages WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id LIMIT $2 OFFSET $3`
	return r.queryMessages(ctx, query, conversationID, limit, offset)
}

// RecentHistory returns the last windowSize non-system messages in
// chronological order, for the agent prompt window.
func (r *Repository) RecentHistory(ctx context.Context, conversationID uuid.UUID, windowSize int) ([]Message, error) {
	if windowSize <= 0 {
		windowSize = 10
	}
	query := `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1 AND role <> 'system' AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at, id`
	return r.queryMessages(ctx, query, conversationID, windowSize)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.MessageType,
			&m.MediaURL, &m.ExternalID, &m.Read, &m.DeliveryFailed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return items, nil
}

// MarkMessageRead flags a message as read. Already-read messages are a no-op.
func (r *Repository) MarkMessageRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// MarkDeliveryFailed records that the outbound send for an assistant message
// exhausted its retries.
func (r *Repository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET delivery_failed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failure: %w", err)
	}
	return nil
}

// SoftDeleteMessage tombstones a message; reads treat it as absent.
func (r *Repository) SoftDeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// LatestUserMessageAt returns the created_at of the newest user message in the
// conversation, or NotFound when the user has never written.
func (r *Repository) LatestUserMessageAt(ctx context.Context, conversationID uuid.UUID) (time.Time, error) {
	var ts time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT created_at FROM messages
		WHERE conversation_id = $1 AND role = 'user' AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, apperr.NotFound("no user messages")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest user message: %w", err)
	}
	return ts, nil
}

// CountMessagesSince counts non-deleted messages created at or after the cutoff.
func (r *Repository) CountMessagesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE created_at >= $1 AND deleted_at IS NULL`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// CountUnreadUserMessages counts inbound messages not yet read by an operator.
func (r *Repository) CountUnreadUserMessages(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE role = 'user' AND read = FALSE AND deleted_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}
