package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

// AdviserRepository persists section adviser slots.
type AdviserRepository struct {
	db *sqlx.DB
}

// NewAdviserRepository constructs the repository.
func NewAdviserRepository(db *sqlx.DB) *AdviserRepository {
	return &AdviserRepository{db: db}
}

// ListByTerm returns all adviser slots for a term.
func (r *AdviserRepository) ListByTerm(ctx context.Context, termID string) ([]models.SectionAdviser, error) {
	const query = `SELECT id, section_id, term_id, faculty_id, created_at FROM section_advisers WHERE term_id = $1 ORDER BY section_id ASC`
	var advisers []models.SectionAdviser
	if err := r.db.SelectContext(ctx, &advisers, query, termID); err != nil {
		return nil, fmt.Errorf("list section advisers: %w", err)
	}
	return advisers, nil
}

// Get fetches the adviser of a section for a term. It returns nil when the slot is empty.
func (r *AdviserRepository) Get(ctx context.Context, sectionID, termID string) (*models.SectionAdviser, error) {
	const query = `SELECT id, section_id, term_id, faculty_id, created_at FROM section_advisers WHERE section_id = $1 AND term_id = $2`
	var adviser models.SectionAdviser
	if err := r.db.GetContext(ctx, &adviser, query, sectionID, termID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get section adviser: %w", err)
	}
	return &adviser, nil
}

// Create fills an empty adviser slot. The unique (section_id, term_id)
// constraint backs the in-process lock.
func (r *AdviserRepository) Create(ctx context.Context, adviser *models.SectionAdviser) error {
	if adviser.ID == "" {
		adviser.ID = uuid.NewString()
	}
	if adviser.CreatedAt.IsZero() {
		adviser.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO section_advisers (id, section_id, term_id, faculty_id, created_at)
VALUES (:id, :section_id, :term_id, :faculty_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, adviser); err != nil {
		return fmt.Errorf("create section adviser: %w", err)
	}
	return nil
}

// Delete clears the slot. It reports whether an adviser was removed.
func (r *AdviserRepository) Delete(ctx context.Context, sectionID, termID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM section_advisers WHERE section_id = $1 AND term_id = $2`, sectionID, termID)
	if err != nil {
		return false, fmt.Errorf("delete section adviser: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete section adviser rows: %w", err)
	}
	return affected > 0, nil
}
