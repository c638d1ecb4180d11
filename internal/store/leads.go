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

const leadColumns = `id, user_id, conversation_id, consent, current_step, consent_refusals, created_at, updated_at`

func scanLead(row pgx.Row) (*LeadQualification, error) {
	var l LeadQualification
	err := row.Scan(&l.ID, &l.UserID, &l.ConversationID, &l.Consent, &l.CurrentStep,
		&l.ConsentRefusals, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead qualification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lead qualification: %w", err)
	}
	return &l, nil
}

func (r *Repository) GetLeadByID(ctx context.Context, id uuid.UUID) (*LeadQualification, error) {
	query := `SELECT ` + leadColumns + ` FROM lead_qualification WHERE id = $1`
	return scanLead(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) GetLeadByConversation(ctx context.Context, conversationID uuid.UUID) (*LeadQualification, error) {
	query := `SELECT ` + leadColumns + ` FROM lead_qualification WHERE conversation_id = $1`
	return scanLead(r.pool.QueryRow(ctx, query, conversationID))
}

func (r *Repository) ListLeads(ctx context.Context, limit, offset int) ([]LeadQualification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leadColumns + ` FROM lead_qualification ORDER BY created_at, id LIMIT $1 OFFSET $2`
	return r.queryLeads(ctx, query, limit, offset)
}

// ListLeadsByStep returns leads sitting at a specific qualification stage.
func (r *Repository) ListLeadsByStep(ctx context.Context, step string, limit int) ([]LeadQualification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leadColumns + ` FROM lead_qualification WHERE current_step = $1 ORDER BY created_at, id LIMIT $2`
	return r.queryLeads(ctx, query, step, limit)
}

func (r *Repository) queryLeads(ctx context.Context, query string, args ...any) ([]LeadQualification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	items := make([]LeadQualification, 0)
	for rows.Next() {
		var l LeadQualification
		if err := rows.Scan(&l.ID, &l.UserID, &l.ConversationID, &l.Consent, &l.CurrentStep,
			&l.ConsentRefusals, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lead qualification: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leads: %w", err)
	}

	return items, nil
}

// SetLeadStep persists a stage transition and returns the post-state.
func (r *Repository) SetLeadStep(ctx context.Context, id uuid.UUID, step string) (*LeadQualification, error) {
	query := `UPDATE lead_qualification SET current_step = $2, updated_at = now() WHERE id = $1
		RETURNING ` + leadColumns
	l, err := scanLead(r.pool.QueryRow(ctx, query, id, step))
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, err
	}
	return l, nil
}

// RecordConsent stores the consent decision. A refusal increments the refusal
// counter; an acceptance resets it.
func (r *Repository) RecordConsent(ctx context.Context, id uuid.UUID, granted bool) (*LeadQualification, error) {
	query := `
		UPDATE lead_qualification SET
			consent = $2,
			consent_refusals = CASE WHEN $2 THEN 0 ELSE consent_refusals + 1 END,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + leadColumns
	return scanLead(r.pool.QueryRow(ctx, query, id, granted))
}

// GetBant returns the BANT row for a lead, or NotFound.
func (r *Repository) GetBant(ctx context.Context, leadID uuid.UUID) (*BantData, error) {
	query := `SELECT id, lead_qualification_id, budget, authority, need, timeline, updated_at
		FROM bant_data WHERE lead_qualification_id = $1`

	var b BantData
	err := r.pool.QueryRow(ctx, query, leadID).Scan(
		&b.ID, &b.LeadQualificationID, &b.Budget, &b.Authority, &b.Need, &b.Timeline, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bant data not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bant data: %w", err)
	}
	return &b, nil
}

// BantPatch carries optional BANT field updates. Nil fields are left alone,
// so re-recording a subset of already-set fields is a no-op.
type BantPatch struct {
	Budget    *string
	Authority *string
	Need      *string
	Timeline  *string
}

// UpsertBant creates or updates the one-to-one BANT row for a lead.
// COALESCE keeps previously recorded answers when the patch omits them.
func (r *Repository) UpsertBant(ctx context.Context, leadID uuid.UUID, patch BantPatch) (*BantData, error) {
	query := `
		INSERT INTO bant_data (id, lead_qualification_id, budget, authority, need, timeline)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lead_qualification_id) DO UPDATE SET
			budget = COALESCE(EXCLUDED.budget, bant_data.budget),
			authority = COALESCE(EXCLUDED.authority, bant_data.authority),
			need = COALESCE(EXCLUDED.need, bant_data.need),
			timeline = COALESCE(EXCLUDED.timeline, bant_data.timeline),
			updated_at = now()
		RETURNING id, lead_qualification_id, budget, authority, need, timeline, updated_at`

	var b BantData
	err := r.pool.QueryRow(ctx, query, uuid.New(), leadID,
		patch.Budget, patch.Authority, patch.Need, patch.Timeline).Scan(
		&b.ID, &b.LeadQualificationID, &b.Budget, &b.Authority, &b.Need, &b.Timeline, &b.UpdatedAt)
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to upsert bant data: %w", err)
	}
	return &b, nil
}

// CountLeadsByStep groups leads by stage, optionally restricted to those
// created at or after the cutoff.
func (r *Repository) CountLeadsByStep(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `SELECT current_step, count(*) FROM lead_qualification
		WHERE $1::timestamptz IS NULL OR created_at >= $1
		GROUP BY current_step`
	var cutoff *time.Time
	if !since.IsZero() {
		cutoff = &since
	}

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads by step: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var step string
		var count int
		if err := rows.Scan(&step, &count); err != nil {
			return nil, fmt.Errorf("failed to scan lead counts: %w", err)
		}
		counts[step] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead counts: %w", err)
	}

	return counts, nil
}

// StaleLead pairs a lead with its conversation for the abandonment sweep.
type StaleLead struct {
	Lead           LeadQualification
	LastUserTurnAt time.Time
}

// ListStaleLeads returns non-terminal leads whose latest user message is older
// than the cutoff. Leads with no user message at all are aged by creation time.
func (r *Repository) ListStaleLeads(ctx context.Context, cutoff time.Time) ([]StaleLead, error) {
	query := `
		SELECT ` + leadColumns + `, COALESCE(last_turn.at, lq.created_at) AS last_user_turn
		FROM lead_qualification lq
		LEFT JOIN LATERAL (
			SELECT max(created_at) AS at FROM messages
			WHERE conversation_id = lq.conversation_id AND role = 'user' AND deleted_at IS NULL
		) last_turn ON TRUE
		WHERE lq.current_step NOT IN ('completed', 'abandoned')
		  AND COALESCE(last_turn.at, lq.created_at) < $1`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale leads: %w", err)
	}
	defer rows.Close()

	items := make([]StaleLead, 0)
	for rows.Next() {
		var s StaleLead
		if err := rows.Scan(&s.Lead.ID, &s.Lead.UserID, &s.Lead.ConversationID, &s.Lead.Consent,
			&s.Lead.CurrentStep, &s.Lead.ConsentRefusals, &s.Lead.CreatedAt, &s.Lead.UpdatedAt,
			&s.LastUserTurnAt); err != nil {
			return nil, fmt.Errorf("failed to scan stale lead: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale leads: %w", err)
	}

	return items, nil
}
