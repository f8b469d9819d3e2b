package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-registrar-core/internal/models"
)

const facultyLoadColumns = `id, faculty_id, subject_id, section_id, day_of_week, start_time, end_time, semester, term_id, load_type, created_at`

// FacultyLoadRepository persists faculty load assignments.
type FacultyLoadRepository struct {
	db *sqlx.DB
}

// NewFacultyLoadRepository constructs the repository.
func NewFacultyLoadRepository(db *sqlx.DB) *FacultyLoadRepository {
	return &FacultyLoadRepository{db: db}
}

// ListByFaculty returns the faculty's assignments within a term ordered by day and start time.
func (r *FacultyLoadRepository) ListByFaculty(ctx context.Context, facultyID, termID string) ([]models.FacultyLoadAssignment, error) {
	query := `SELECT ` + facultyLoadColumns + ` FROM faculty_loads WHERE faculty_id = $1 AND term_id = $2 ORDER BY day_of_week, start_time`
	var loads []models.FacultyLoadAssignment
	if err := r.db.SelectContext(ctx, &loads, query, facultyID, termID); err != nil {
		return nil, fmt.Errorf("list faculty loads: %w", err)
	}
	return loads, nil
}

// ListByTerm returns every assignment within a term.
func (r *FacultyLoadRepository) ListByTerm(ctx context.Context, termID string) ([]models.FacultyLoadAssignment, error) {
	query := `SELECT ` + facultyLoadColumns + ` FROM faculty_loads WHERE term_id = $1 ORDER BY faculty_id, day_of_week, start_time`
	var loads []models.FacultyLoadAssignment
	if err := r.db.SelectContext(ctx, &loads, query, termID); err != nil {
		return nil, fmt.Errorf("list term loads: %w", err)
	}
	return loads, nil
}

// CountByFaculty returns the number of assignments a faculty holds within a term.
func (r *FacultyLoadRepository) CountByFaculty(ctx context.Context, facultyID, termID string) (int, error) {
	const query = `SELECT COUNT(*) FROM faculty_loads WHERE faculty_id = $1 AND term_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facultyID, termID); err != nil {
		return 0, fmt.Errorf("count faculty loads: %w", err)
	}
	return count, nil
}

// FindByID loads an assignment by identifier.
func (r *FacultyLoadRepository) FindByID(ctx context.Context, id string) (*models.FacultyLoadAssignment, error) {
	query := `SELECT ` + facultyLoadColumns + ` FROM faculty_loads WHERE id = $1`
	var load models.FacultyLoadAssignment
	if err := r.db.GetContext(ctx, &load, query, id); err != nil {
		return nil, err
	}
	return &load, nil
}

// Create inserts a new assignment.
func (r *FacultyLoadRepository) Create(ctx context.Context, load *models.FacultyLoadAssignment) error {
	if load.ID == "" {
		load.ID = uuid.NewString()
	}
	if load.CreatedAt.IsZero() {
		load.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO faculty_loads (id, faculty_id, subject_id, section_id, day_of_week, start_time, end_time, semester, term_id, load_type, created_at)
		VALUES (:id, :faculty_id, :subject_id, :section_id, :day_of_week, :start_time, :end_time, :semester, :term_id, :load_type, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, load); err != nil {
		return fmt.Errorf("create faculty load: %w", err)
	}
	return nil
}

// Delete removes an assignment. It reports whether a row was removed.
func (r *FacultyLoadRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM faculty_loads WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete faculty load: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete faculty load rows: %w", err)
	}
	return affected > 0, nil
}
