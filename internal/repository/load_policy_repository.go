package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

// LoadPolicyRepository persists per-faculty load ceiling overrides.
type LoadPolicyRepository struct {
	db *sqlx.DB
}

// NewLoadPolicyRepository constructs the repository.
func NewLoadPolicyRepository(db *sqlx.DB) *LoadPolicyRepository {
	return &LoadPolicyRepository{db: db}
}

// GetOverride returns the faculty's override, or nil when none is stored.
func (r *LoadPolicyRepository) GetOverride(ctx context.Context, facultyID string) (*models.FacultyLoadOverride, error) {
	const query = `SELECT faculty_id, max_loads, updated_at FROM faculty_load_policies WHERE faculty_id = $1`
	var override models.FacultyLoadOverride
	if err := r.db.GetContext(ctx, &override, query, facultyID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get faculty load override: %w", err)
	}
	return &override, nil
}

// UpsertOverride creates or updates a faculty's override.
func (r *LoadPolicyRepository) UpsertOverride(ctx context.Context, override *models.FacultyLoadOverride) error {
	override.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO faculty_load_policies (faculty_id, max_loads, updated_at)
		VALUES (:faculty_id, :max_loads, :updated_at)
		ON CONFLICT (faculty_id) DO UPDATE
		SET max_loads = EXCLUDED.max_loads,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, override); err != nil {
		return fmt.Errorf("upsert faculty load override: %w", err)
	}
	return nil
}
