package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/TDXCORE/Agent-Test/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, user_id, platform, external_id, status, agent_enabled, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.ExternalID, &c.Status, &c.AgentEnabled, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

func (r *Repository) GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

// GetActiveConversation returns the single active conversation for a party,
// or NotFound when the party has none.
func (r *Repository) GetActiveConversation(ctx context.Context, platform, externalID string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations WHERE platform = $1 AND external_id = $2 AND status = 'active'`
	return scanConversation(r.pool.QueryRow(ctx, query, platform, externalID))
}

func (r *Repository) ListConversationsByUser(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations WHERE user_id = $1 ORDER BY created_at, id`
	return r.queryConversations(ctx, query, userID)
}

func (r *Repository) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + conversationColumns + `
		FROM conversations ORDER BY created_at, id LIMIT $1 OFFSET $2`
	return r.queryConversations(ctx, query, limit, offset)
}

func (r *Repository) queryConversations(ctx context.Context, query string, args ...any) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Platform, &c.ExternalID, &c.Status, &c.AgentEnabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return items, nil
}

func (r *Repository) CreateConversation(ctx context.Context, userID uuid.UUID, platform, externalID string) (*Conversation, error) {
	query := `
		INSERT INTO conversations (id, user_id, platform, external_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + conversationColumns

	c, err := scanConversation(r.pool.QueryRow(ctx, query, uuid.New(), userID, platform, externalID))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return c, nil
}

// SetConversationStatus transitions a conversation between active and closed.
func (r *Repository) SetConversationStatus(ctx context.Context, id uuid.UUID, status string) (*Conversation, error) {
	query := `UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1
		RETURNING ` + conversationColumns
	c, err := scanConversation(r.pool.QueryRow(ctx, query, id, status))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, err
	}
	return c, nil
}

// SetAgentEnabled toggles automated replies for a conversation (operator takeover).
func (r *Repository) SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Conversation, error) {
	query := `UPDATE conversations SET agent_enabled = $2, updated_at = now() WHERE id = $1
		RETURNING ` + conversationColumns
	return scanConversation(r.pool.QueryRow(ctx, query, id, enabled))
}

// CountActiveConversations counts conversations currently in active status.
func (r *Repository) CountActiveConversations(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM conversations WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active conversations: %w", err)
	}
	return count, nil
}
