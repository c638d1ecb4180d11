package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/TDXCORE/Agent-Test/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RequirementPackage is the joined read model for a lead's requirements.
type RequirementPackage struct {
	Requirement  Requirement
	Features     []RequirementItem
	Integrations []RequirementItem
}

// GetRequirement returns the requirement row for a lead, or NotFound.
func (r *Repository) GetRequirement(ctx context.Context, leadID uuid.UUID) (*Requirement, error) {
	query := `SELECT id, lead_qualification_id, app_type, deadline
		FROM requirements WHERE lead_qualification_id = $1`

	var req Requirement
	err := r.pool.QueryRow(ctx, query, leadID).Scan(&req.ID, &req.LeadQualificationID, &req.AppType, &req.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("requirements not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements: %w", err)
	}
	return &req, nil
}

// GetRequirementPackage returns the requirement with its features and integrations.
func (r *Repository) GetRequirementPackage(ctx context.Context, leadID uuid.UUID) (*RequirementPackage, error) {
	req, err := r.GetRequirement(ctx, leadID)
	if err != nil {
		return nil, err
	}

	features, err := r.listRequirementItems(ctx, "features", req.ID)
	if err != nil {
		return nil, err
	}
	integrations, err := r.listRequirementItems(ctx, "integrations", req.ID)
	if err != nil {
		return nil, err
	}

	return &RequirementPackage{
		Requirement:  *req,
		Features:     features,
		Integrations: integrations,
	}, nil
}

func (r *Repository) listRequirementItems(ctx context.Context, table string, requirementID uuid.UUID) ([]RequirementItem, error) {
	query := fmt.Sprintf(
		`SELECT id, requirement_id, name, description FROM %s WHERE requirement_id = $1 ORDER BY name`, table)

	rows, err := r.pool.Query(ctx, query, requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]RequirementItem, 0)
	for rows.Next() {
		var item RequirementItem
		if err := rows.Scan(&item.ID, &item.RequirementID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}

	return items, nil
}

// NewRequirementItem names a feature or integration inside a package write.
type NewRequirementItem struct {
	Name        string
	Description *string
}

// CreateRequirementPackage atomically upserts the requirements row for a lead
// and replaces its feature and integration sets. Applying the same package
// twice leaves the state unchanged.
func (r *Repository) CreateRequirementPackage(ctx context.Context, leadID uuid.UUID, appType, deadline *string, features, integrations []NewRequirementItem) (*RequirementPackage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin requirement package tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var req Requirement
	err = tx.QueryRow(ctx, `
		INSERT INTO requirements (id, lead_qualification_id, app_type, deadline)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lead_qualification_id) DO UPDATE SET
			app_type = COALESCE(EXCLUDED.app_type, requirements.app_type),
			deadline = COALESCE(EXCLUDED.deadline, requirements.deadline)
		RETURNING id, lead_qualification_id, app_type, deadline`,
		uuid.New(), leadID, appType, deadline).Scan(&req.ID, &req.LeadQualificationID, &req.AppType, &req.Deadline)
	if err != nil {
		if cv := constraintViolation(err); cv != nil {
			return nil, cv
		}
		return nil, fmt.Errorf("failed to upsert requirements: %w", err)
	}

	if err := replaceRequirementItems(ctx, tx, "features", req.ID, features); err != nil {
		return nil, err
	}
	if err := replaceRequirementItems(ctx, tx, "integrations", req.ID, integrations); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit requirement package: %w", err)
	}

	return r.GetRequirementPackage(ctx, leadID)
}

// replaceRequirementItems makes the stored set match the incoming one:
// present names are upserted, absent names are deleted.
func replaceRequirementItems(ctx context.Context, tx pgx.Tx, table string, requirementID uuid.UUID, items []NewRequirementItem) error {
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, requirement_id, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (requirement_id, name) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, %s.description)`, table, table)

	for _, item := range items {
		if item.Name == "" {
			continue
		}
		if _, err := tx.Exec(ctx, upsert, uuid.New(), requirementID, item.Name, item.Description); err != nil {
			return fmt.Errorf("failed to upsert %s item: %w", table, err)
		}
	}

	prune := fmt.Sprintf(`DELETE FROM %s WHERE requirement_id = $1 AND NOT (name = ANY($2))`, table)
	if _, err := tx.Exec(ctx, prune, requirementID, requirementItemNames(items)); err != nil {
		return fmt.Errorf("failed to prune %s items: %w", table, err)
	}
	return nil
}

// requirementItemNames returns the distinct non-empty names in a package
// write; rows outside this set are pruned.
func requirementItemNames(items []NewRequirementItem) []string {
	names := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Name == "" || seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		names = append(names, item.Name)
	}
	return names
}

// CountFeatures returns the number of recorded features for a lead's requirements.
func (r *Repository) CountFeatures(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM features f
		JOIN requirements req ON req.id = f.requirement_id
		WHERE req.lead_qualification_id = $1`, leadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return count, nil
}
