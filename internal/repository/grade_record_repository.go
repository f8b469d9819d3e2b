package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/pkg/database"
)

// ErrBatchChanged reports that a conditional batch update touched fewer rows
// than requested, so the whole batch was rolled back.
var ErrBatchChanged = errors.New("grade batch changed concurrently")

const gradeRecordColumns = `id, student_id, subject_id, section_id, faculty_id, term_id, semester,
        first_quarter, second_quarter, third_quarter, fourth_quarter, semester_grade, semester_grade_overridden,
        status, submitted_for_approval_at, approved_at, approval_notes, created_at, updated_at`

// GradeRecordRepository handles grade record persistence.
type GradeRecordRepository struct {
	db *sqlx.DB
}

// NewGradeRecordRepository creates a new grade record repository.
func NewGradeRecordRepository(db *sqlx.DB) *GradeRecordRepository {
	return &GradeRecordRepository{db: db}
}

// List returns grade records matching the filter.
func (r *GradeRecordRepository) List(ctx context.Context, filter models.GradeRecordFilter) ([]models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE 1=1`
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	add("term_id", filter.TermID)
	add("section_id", filter.SectionID)
	add("subject_id", filter.SubjectID)
	add("faculty_id", filter.FacultyID)
	add("student_id", filter.StudentID)
	add("status", string(filter.Status))
	query += " ORDER BY section_id, subject_id, student_id"

	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list grade records: %w", err)
	}
	return records, nil
}

// FindByID loads a record by identifier.
func (r *GradeRecordRepository) FindByID(ctx context.Context, id string) (*models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE id = $1`
	var record models.GradeRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByStudentSubject returns the record for a student's subject in a term, or nil when absent.
func (r *GradeRecordRepository) FindByStudentSubject(ctx context.Context, studentID, subjectID, termID string) (*models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE student_id = $1 AND subject_id = $2 AND term_id = $3`
	var record models.GradeRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, subjectID, termID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find grade record: %w", err)
	}
	return &record, nil
}

// FindByIDs loads the records whose ids are listed. Missing ids are simply absent from the result.
func (r *GradeRecordRepository) FindByIDs(ctx context.Context, ids []string) ([]models.GradeRecord, error) {
	if len(ids) == 0 {
		return []models.GradeRecord{}, nil
	}
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE id = ANY($1)`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find grade records: %w", err)
	}
	return records, nil
}

// Create inserts a new record.
func (r *GradeRecordRepository) Create(ctx context.Context, record *models.GradeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO grade_records (id, student_id, subject_id, section_id, faculty_id, term_id, semester,
        first_quarter, second_quarter, third_quarter, fourth_quarter, semester_grade, semester_grade_overridden,
        status, submitted_for_approval_at, approved_at, approval_notes, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :section_id, :faculty_id, :term_id, :semester,
        :first_quarter, :second_quarter, :third_quarter, :fourth_quarter, :semester_grade, :semester_grade_overridden,
        :status, :submitted_for_approval_at, :approved_at, :approval_notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create grade record: %w", err)
	}
	return nil
}

// Update persists the mutable columns of a record.
func (r *GradeRecordRepository) Update(ctx context.Context, record *models.GradeRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grade_records SET first_quarter = :first_quarter, second_quarter = :second_quarter,
        third_quarter = :third_quarter, fourth_quarter = :fourth_quarter, semester_grade = :semester_grade,
        semester_grade_overridden = :semester_grade_overridden, status = :status,
        submitted_for_approval_at = :submitted_for_approval_at, approved_at = :approved_at,
        approval_notes = :approval_notes, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("update grade record: %w", err)
	}
	return nil
}

// BatchTransition groups the values of a bulk status change.
type BatchTransition struct {
	IDs   []string
	From  models.GradeStatus
	To    models.GradeStatus
	Notes *string
	At    time.Time
}

// TransitionBatch moves every listed record from one status to another in a
// single transaction. When any record is no longer in the From status the
// transaction is rolled back and ErrBatchChanged is returned.
func (r *GradeRecordRepository) TransitionBatch(ctx context.Context, batch BatchTransition) error {
	if len(batch.IDs) == 0 {
		return nil
	}
	var approvedAt *time.Time
	if batch.To == models.GradeStatusApproved {
		at := batch.At
		approvedAt = &at
	}

	return database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const query = `UPDATE grade_records
        SET status = $1, approval_notes = $2, approved_at = COALESCE($3::timestamptz, approved_at), updated_at = $4
        WHERE id = ANY($5) AND status = $6`
		result, err := tx.ExecContext(ctx, query, batch.To, batch.Notes, approvedAt, batch.At, pq.Array(batch.IDs), batch.From)
		if err != nil {
			return fmt.Errorf("transition grade records: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check grade transition rows: %w", err)
		}
		if int(rows) != len(batch.IDs) {
			return fmt.Errorf("%w: expected %d rows, updated %d", ErrBatchChanged, len(batch.IDs), rows)
		}
		return nil
	})
}

// ListApprovedForStudent returns a student's approved records, optionally scoped to a term.
func (r *GradeRecordRepository) ListApprovedForStudent(ctx context.Context, studentID, termID string) ([]models.GradeRecord, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE student_id = $1 AND status = $2`)
	args := []interface{}{studentID, models.GradeStatusApproved}
	if termID != "" {
		args = append(args, termID)
		fmt.Fprintf(&builder, " AND term_id = $%d", len(args))
	}
	builder.WriteString(" ORDER BY term_id, subject_id")

	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approved grades: %w", err)
	}
	return records, nil
}
