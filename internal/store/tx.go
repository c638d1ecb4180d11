package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PartyState is the result of resolving an inbound sender: the user, the
// single active conversation, and the lead qualification attached to it.
type PartyState struct {
	User            User
	Conversation    Conversation
	Lead            LeadQualification
	NewConversation bool
}

// UpsertUserAndOpenConversation atomically resolves an inbound party to its
// user row, active conversation, and lead qualification, creating whichever
// of the three is missing. Concurrent webhook deliveries for the same party
// converge on the same rows.
func (r *Repository) UpsertUserAndOpenConversation(ctx context.Context, party Party) (*PartyState, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin party tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var state PartyState

	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, phone, email, full_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (phone) WHERE phone IS NOT NULL DO UPDATE
		SET full_name = CASE WHEN users.full_name = '' THEN EXCLUDED.full_name ELSE users.full_name END,
		    updated_at = now()
		RETURNING `+userColumns,
		uuid.New(), party.Phone, party.Email, party.FullName).Scan(
		&state.User.ID, &state.User.Phone, &state.User.Email, &state.User.FullName,
		&state.User.Company, &state.User.CreatedAt, &state.User.UpdatedAt)
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE platform = $1 AND external_id = $2 AND status = 'active'
		FOR UPDATE`, party.Platform, party.ExternalID).Scan(
		&state.Conversation.ID, &state.Conversation.UserID, &state.Conversation.Platform,
		&state.Conversation.ExternalID, &state.Conversation.Status, &state.Conversation.AgentEnabled,
		&state.Conversation.CreatedAt, &state.Conversation.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		state.NewConversation = true
		err = tx.QueryRow(ctx, `
			INSERT INTO conversations (id, user_id, platform, external_id)
			VALUES ($1, $2, $3, $4)
			RETURNING `+conversationColumns,
			uuid.New(), state.User.ID, party.Platform, party.ExternalID).Scan(
			&state.Conversation.ID, &state.Conversation.UserID, &state.Conversation.Platform,
			&state.Conversation.ExternalID, &state.Conversation.Status, &state.Conversation.AgentEnabled,
			&state.Conversation.CreatedAt, &state.Conversation.UpdatedAt)
	}
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO lead_qualification (id, user_id, conversation_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET updated_at = lead_qualification.updated_at
		RETURNING `+leadColumns,
		uuid.New(), state.User.ID, state.Conversation.ID).Scan(
		&state.Lead.ID, &state.Lead.UserID, &state.Lead.ConversationID, &state.Lead.Consent,
		&state.Lead.CurrentStep, &state.Lead.ConsentRefusals, &state.Lead.CreatedAt, &state.Lead.UpdatedAt)
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to resolve lead qualification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit party tx: %w", err)
	}

	return &state, nil
}
