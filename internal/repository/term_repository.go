package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/pkg/database"
)

const termColumns = `id, year_start, year_end, semester, enrollment_start, enrollment_end,
	q1_start, q1_end, q2_start, q2_end, q3_start, q3_end, q4_start, q4_end,
	grading_deadline, is_active, is_enrollment_open, created_at, updated_at`

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// List returns terms matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := "FROM terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.YearStart != nil {
		conditions = append(conditions, fmt.Sprintf("year_start = $%d", len(args)+1))
		args = append(args, *filter.YearStart)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"year_start":       true,
		"semester":         true,
		"enrollment_start": true,
		"created_at":       true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "year_start"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, semester ASC LIMIT %d OFFSET %d", termColumns, base, sortBy, order, size, offset)

	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}

	return terms, total, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := `SELECT ` + termColumns + ` FROM terms WHERE id = $1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActive returns the currently active term.
func (r *TermRepository) FindActive(ctx context.Context) (*models.Term, error) {
	query := `SELECT ` + termColumns + ` FROM terms WHERE is_active = TRUE LIMIT 1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListActive returns every term flagged active. Normally at most one.
func (r *TermRepository) ListActive(ctx context.Context) ([]models.Term, error) {
	query := `SELECT ` + termColumns + ` FROM terms WHERE is_active = TRUE ORDER BY year_start ASC`
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query); err != nil {
		return nil, fmt.Errorf("list active terms: %w", err)
	}
	return terms, nil
}

// ExistsByYearAndSemester checks if a term with the same school year and semester exists.
func (r *TermRepository) ExistsByYearAndSemester(ctx context.Context, yearStart int, semester models.SemesterLabel, excludeID string) (bool, error) {
	base := "SELECT 1 FROM terms WHERE year_start = $1 AND semester = $2"
	args := []interface{}{yearStart, semester}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check term uniqueness: %w", err)
	}
	return true, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `INSERT INTO terms (id, year_start, year_end, semester, enrollment_start, enrollment_end,
	q1_start, q1_end, q2_start, q2_end, q3_start, q3_end, q4_start, q4_end,
	grading_deadline, is_active, is_enrollment_open, created_at, updated_at)
	VALUES (:id, :year_start, :year_end, :semester, :enrollment_start, :enrollment_end,
	:q1_start, :q1_end, :q2_start, :q2_end, :q3_start, :q3_end, :q4_start, :q4_end,
	:grading_deadline, :is_active, :is_enrollment_open, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// UpdateCalendar persists the calendar fields of an existing term.
func (r *TermRepository) UpdateCalendar(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET enrollment_start = :enrollment_start, enrollment_end = :enrollment_end,
	q1_start = :q1_start, q1_end = :q1_end, q2_start = :q2_start, q2_end = :q2_end,
	q3_start = :q3_start, q3_end = :q3_end, q4_start = :q4_start, q4_end = :q4_end,
	grading_deadline = :grading_deadline, is_enrollment_open = :is_enrollment_open, updated_at = :updated_at
	WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term calendar: %w", err)
	}
	return nil
}

// termActivationLockID is the advisory lock key held by SetActive until commit.
const termActivationLockID int64 = 0x7465726d

// SetActive marks the provided term as active and deactivates the rest in
// one transaction. Concurrent activations queue on a transaction-scoped
// advisory lock so at most one term ends up active.
func (r *TermRepository) SetActive(ctx context.Context, id string) error {
	return database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, termActivationLockID); err != nil {
			return fmt.Errorf("lock term activation: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, now, id); err != nil {
			return fmt.Errorf("deactivate other terms: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE terms SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("activate term: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// Deactivate clears the active flag. It reports whether the row changed.
func (r *TermRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_active = TRUE`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("deactivate term: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate term rows: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a term permanently.
func (r *TermRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}

// CountDependents returns the number of records referencing the term.
func (r *TermRepository) CountDependents(ctx context.Context, id string) (models.TermDependents, error) {
	const query = `SELECT
	(SELECT COUNT(*) FROM faculty_loads WHERE term_id = $1) AS loads,
	(SELECT COUNT(*) FROM section_advisers WHERE term_id = $1) AS advisers,
	(SELECT COUNT(*) FROM grade_input_requests WHERE term_id = $1) AS grade_requests,
	(SELECT COUNT(*) FROM grade_records WHERE term_id = $1) AS grade_records`
	var deps models.TermDependents
	if err := r.db.GetContext(ctx, &deps, query, id); err != nil {
		return models.TermDependents{}, fmt.Errorf("count term dependents: %w", err)
	}
	return deps, nil
}
