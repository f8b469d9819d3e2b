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
)

const gradeRequestColumns = `id, faculty_id, term_id, section_id, subject_id, quarter, reason, students_count, status,
       approval_notes, expires_at, reviewed_by, reviewed_at, created_at`

// GradeRequestRepository persists grade input requests.
type GradeRequestRepository struct {
	db *sqlx.DB
}

// NewGradeRequestRepository constructs the repository.
func NewGradeRequestRepository(db *sqlx.DB) *GradeRequestRepository {
	return &GradeRequestRepository{db: db}
}

// Create inserts a new request row.
func (r *GradeRequestRepository) Create(ctx context.Context, req *models.GradeInputRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.GradeRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grade_input_requests
	(id, faculty_id, term_id, section_id, subject_id, quarter, reason, students_count, status, approval_notes, expires_at, reviewed_by, reviewed_at, created_at)
	VALUES (:id, :faculty_id, :term_id, :section_id, :subject_id, :quarter, :reason, :students_count, :status, :approval_notes, :expires_at, :reviewed_by, :reviewed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create grade input request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *GradeRequestRepository) GetByID(ctx context.Context, id string) (*models.GradeInputRequest, error) {
	query := `SELECT ` + gradeRequestColumns + ` FROM grade_input_requests WHERE id = $1`
	var req models.GradeInputRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter (latest first).
func (r *GradeRequestRepository) List(ctx context.Context, filter models.GradeRequestFilter) ([]models.GradeInputRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + gradeRequestColumns + ` FROM grade_input_requests`)

	conditions := make([]string, 0, 6)
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.FacultyID != "" {
		add("faculty_id", filter.FacultyID)
	}
	if filter.TermID != "" {
		add("term_id", filter.TermID)
	}
	if filter.SectionID != "" {
		add("section_id", filter.SectionID)
	}
	if filter.SubjectID != "" {
		add("subject_id", filter.SubjectID)
	}
	if filter.Quarter != "" {
		add("quarter", filter.Quarter)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.GradeInputRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list grade input requests: %w", err)
	}
	return requests, nil
}

// ListApprovedForClass returns approved requests covering one faculty, class
// and quarter, most recently reviewed first.
func (r *GradeRequestRepository) ListApprovedForClass(ctx context.Context, facultyID, termID, sectionID, subjectID string, quarter models.Quarter) ([]models.GradeInputRequest, error) {
	query := `SELECT ` + gradeRequestColumns + ` FROM grade_input_requests
	WHERE faculty_id = $1 AND term_id = $2 AND section_id = $3 AND subject_id = $4 AND quarter = $5 AND status = $6
	ORDER BY reviewed_at DESC`
	var requests []models.GradeInputRequest
	if err := r.db.SelectContext(ctx, &requests, query, facultyID, termID, sectionID, subjectID, quarter, models.GradeRequestApproved); err != nil {
		return nil, fmt.Errorf("list approved grade input requests: %w", err)
	}
	return requests, nil
}

// ReviewParams groups mutable columns for review operations.
type ReviewParams struct {
	ID            string
	Status        models.GradeRequestStatus
	ReviewedBy    string
	ReviewedAt    time.Time
	ApprovalNotes *string
	ExpiresAt     *time.Time
}

// Review persists a review outcome. Only pending requests are updated;
// sql.ErrNoRows signals that the request was already reviewed or is missing.
func (r *GradeRequestRepository) Review(ctx context.Context, params ReviewParams) error {
	query := fmt.Sprintf(`UPDATE grade_input_requests
	SET status = :status, reviewed_by = :reviewed_by, reviewed_at = :reviewed_at, approval_notes = :approval_notes, expires_at = :expires_at
	WHERE id = :id AND status = '%s'`, models.GradeRequestPending)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":             params.ID,
		"status":         params.Status,
		"reviewed_by":    params.ReviewedBy,
		"reviewed_at":    params.ReviewedAt,
		"approval_notes": params.ApprovalNotes,
		"expires_at":     params.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("review grade input request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check grade input request rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
