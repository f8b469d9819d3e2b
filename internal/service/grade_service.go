package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/repository"
	"github.com/noah-isme/sma-registrar-core/pkg/clock"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
)

type gradeRecordRepository interface {
	List(ctx context.Context, filter models.GradeRecordFilter) ([]models.GradeRecord, error)
	FindByID(ctx context.Context, id string) (*models.GradeRecord, error)
	FindByStudentSubject(ctx context.Context, studentID, subjectID, termID string) (*models.GradeRecord, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.GradeRecord, error)
	Create(ctx context.Context, record *models.GradeRecord) error
	Update(ctx context.Context, record *models.GradeRecord) error
	TransitionBatch(ctx context.Context, batch repository.BatchTransition) error
	ListApprovedForStudent(ctx context.Context, studentID, termID string) ([]models.GradeRecord, error)
}

type gradeGrants interface {
	ActiveGrant(ctx context.Context, facultyID, termID, sectionID, subjectID string, quarter models.Quarter) (*models.GradeInputRequest, error)
}

// SaveGradeRequest writes one quarter value for a student.
type SaveGradeRequest struct {
	StudentID     string         `json:"student_id" validate:"required"`
	SubjectID     string         `json:"subject_id" validate:"required"`
	SectionID     string         `json:"section_id" validate:"required"`
	TermID        string         `json:"term_id" validate:"required"`
	Quarter       models.Quarter `json:"quarter" validate:"required,oneof=Q1 Q2 Q3 Q4"`
	Value         *float64       `json:"value" validate:"omitempty,gte=0,lte=100"`
	SemesterGrade *float64       `json:"semester_grade" validate:"omitempty,gte=0,lte=100"`
	ClearOverride bool           `json:"clear_override"`
}

// SubmitGradeRequest names the quarter whose grant covers the submission.
type SubmitGradeRequest struct {
	Quarter models.Quarter `json:"quarter" validate:"required,oneof=Q1 Q2 Q3 Q4"`
}

// BulkGradeRequest applies one transition to many records.
type BulkGradeRequest struct {
	IDs   []string `json:"ids" validate:"required,min=1,dive,required"`
	Notes string   `json:"notes"`
}

// BulkResult reports the records moved by a bulk transition.
type BulkResult struct {
	Status  models.GradeStatus `json:"status"`
	Updated int                `json:"updated"`
	IDs     []string           `json:"ids"`
}

// GradeService runs the grade record workflow:
// DRAFT -> SUBMITTED_FOR_APPROVAL -> APPROVED | REJECTED, with REJECTED editable.
type GradeService struct {
	records     gradeRecordRepository
	grants      gradeGrants
	terms       termGate
	audit       auditLogger
	metrics     *MetricsService
	clock       clock.Clock
	passingMark float64
	validator   *validator.Validate
	logger      *zap.Logger
}

// GradeServiceParams groups the collaborators of GradeService.
type GradeServiceParams struct {
	Records     gradeRecordRepository
	Grants      gradeGrants
	Terms       termGate
	Audit       auditLogger
	Metrics     *MetricsService
	Clock       clock.Clock
	PassingMark float64
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewGradeService constructs the grade workflow service.
func NewGradeService(p GradeServiceParams) *GradeService {
	if p.Clock == nil {
		p.Clock = clock.Real{}
	}
	if p.PassingMark <= 0 {
		p.PassingMark = DefaultPassingMark
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &GradeService{
		records:     p.Records,
		grants:      p.Grants,
		terms:       p.Terms,
		audit:       p.Audit,
		metrics:     p.Metrics,
		clock:       p.Clock,
		passingMark: p.PassingMark,
		validator:   p.Validator,
		logger:      p.Logger,
	}
}

// List returns grade records visible to the actor. Faculty only see records they own.
func (s *GradeService) List(ctx context.Context, filter models.GradeRecordFilter, actor *models.JWTClaims) ([]models.GradeRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsRegistrar() {
		filter.FacultyID = actor.UserID
	}
	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list grades")
	}
	return records, nil
}

// SaveDraft creates or updates a record with one quarter value. The faculty
// needs a usable grant for that class and quarter.
func (s *GradeService) SaveDraft(ctx context.Context, facultyID string, req SaveGradeRequest) (*models.GradeRecord, error) {
	if facultyID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	term, err := s.terms.ActiveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}
	if !containsQuarter(term.Semester.Quarters(), req.Quarter) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not graded in %s", req.Quarter, term.Semester))
	}

	grant, err := s.grants.ActiveGrant(ctx, facultyID, req.TermID, req.SectionID, req.SubjectID, req.Quarter)
	if err != nil {
		return nil, err
	}

	record, err := s.records.FindByStudentSubject(ctx, req.StudentID, req.SubjectID, req.TermID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load grade record")
	}
	isNew := record == nil
	if isNew {
		record = &models.GradeRecord{
			StudentID: req.StudentID,
			SubjectID: req.SubjectID,
			SectionID: req.SectionID,
			FacultyID: facultyID,
			TermID:    req.TermID,
			Semester:  term.Semester,
			Status:    models.GradeStatusDraft,
		}
	} else {
		if record.FacultyID != facultyID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "grade record belongs to another faculty")
		}
		// The grant was matched against req.SectionID, so it only covers this
		// record when both name the same section.
		if record.SectionID != req.SectionID {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("grade record is kept in section %s, not %s", record.SectionID, req.SectionID))
		}
		if err := reopenForEdit(record, grant); err != nil {
			return nil, err
		}
	}

	record.SetQuarterValue(req.Quarter, req.Value)
	switch {
	case req.SemesterGrade != nil:
		record.SemesterGrade = req.SemesterGrade
		record.SemesterGradeOverridden = true
	case req.ClearOverride:
		record.SemesterGradeOverridden = false
	}
	if !record.SemesterGradeOverridden {
		record.SemesterGrade = semesterGradeFor(record)
	}

	if isNew {
		err = s.records.Create(ctx, record)
	} else {
		err = s.records.Update(ctx, record)
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to save grade record")
	}
	return record, nil
}

// reopenForEdit decides whether a stored record may be changed. Approved
// records reopen as drafts only under a grant reviewed after the approval.
func reopenForEdit(record *models.GradeRecord, grant *models.GradeInputRequest) error {
	switch {
	case record.Status.Editable():
		return nil
	case record.Status == models.GradeStatusApproved:
		if grant != nil && grant.ReviewedAt != nil && record.ApprovedAt != nil && grant.ReviewedAt.After(*record.ApprovedAt) {
			record.Status = models.GradeStatusDraft
			record.SubmittedForApprovalAt = nil
			return nil
		}
		return appErrors.Clone(appErrors.ErrGradeLocked, "approved grades need a new grade input request before editing")
	default:
		return appErrors.Clone(appErrors.ErrGradeLocked, "grade is awaiting approval")
	}
}

// Submit sends a draft or rejected record for approval.
func (s *GradeService) Submit(ctx context.Context, facultyID, recordID string, req SubmitGradeRequest) (*models.GradeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submit payload")
	}

	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade record not found")
		}
		return nil, appErrors.Internal(err, "failed to load grade record")
	}
	if record.FacultyID != facultyID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grade record belongs to another faculty")
	}
	if _, err := s.terms.ActiveTerm(ctx, record.TermID); err != nil {
		return nil, err
	}
	if _, err := s.grants.ActiveGrant(ctx, facultyID, record.TermID, record.SectionID, record.SubjectID, req.Quarter); err != nil {
		return nil, err
	}
	if !record.Status.Editable() {
		return nil, appErrors.Clone(appErrors.ErrGradeLocked, fmt.Sprintf("cannot submit a grade that is %s", strings.ToLower(string(record.Status))))
	}

	now := s.clock.Now()
	record.Status = models.GradeStatusSubmitted
	record.SubmittedForApprovalAt = &now
	if err := s.records.Update(ctx, record); err != nil {
		return nil, appErrors.Internal(err, "failed to submit grade record")
	}
	s.metrics.RecordGradeTransition(string(models.GradeStatusSubmitted), 1)
	return record, nil
}

// BulkApprove approves every listed record or none of them.
func (s *GradeService) BulkApprove(ctx context.Context, req BulkGradeRequest, actorID string) (*BulkResult, error) {
	return s.bulkTransition(ctx, req, models.GradeStatusApproved, actorID)
}

// BulkReject returns every listed record to faculty for correction, or none of them.
func (s *GradeService) BulkReject(ctx context.Context, req BulkGradeRequest, actorID string) (*BulkResult, error) {
	if strings.TrimSpace(req.Notes) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection notes are required")
	}
	return s.bulkTransition(ctx, req, models.GradeStatusRejected, actorID)
}

func (s *GradeService) bulkTransition(ctx context.Context, req BulkGradeRequest, to models.GradeStatus, actorID string) (*BulkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids are required")
	}
	ids := uniqueIDs(req.IDs)

	records, err := s.records.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load grade records")
	}
	found := make(map[string]*models.GradeRecord, len(records))
	for i := range records {
		found[records[i].ID] = &records[i]
	}

	checkedTerms := make(map[string]bool)
	for _, id := range ids {
		record, ok := found[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("grade record %s not found", id))
		}
		if record.Status != models.GradeStatusSubmitted {
			return nil, appErrors.Clone(appErrors.ErrInvalidBatchState, fmt.Sprintf("grade record %s is %s, not submitted for approval", id, record.Status))
		}
		if !checkedTerms[record.TermID] {
			if _, err := s.terms.ActiveTerm(ctx, record.TermID); err != nil {
				return nil, err
			}
			checkedTerms[record.TermID] = true
		}
	}

	var notes *string
	if trimmed := strings.TrimSpace(req.Notes); trimmed != "" {
		notes = &trimmed
	}
	err = s.records.TransitionBatch(ctx, repository.BatchTransition{
		IDs:   ids,
		From:  models.GradeStatusSubmitted,
		To:    to,
		Notes: notes,
		At:    s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrBatchChanged) {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidBatchState.Code, appErrors.ErrInvalidBatchState.Status, "grades changed while the batch was applied; nothing was updated")
		}
		return nil, appErrors.Internal(err, "failed to update grade records")
	}

	s.metrics.RecordGradeTransition(string(to), len(ids))
	action := models.AuditActionGradeBulkApprove
	if to == models.GradeStatusRejected {
		action = models.AuditActionGradeBulkReject
	}
	s.emitAudit(ctx, actorID, action, ids, notes)
	s.logger.Info("grade batch transitioned", zap.String("status", string(to)), zap.Int("count", len(ids)))
	return &BulkResult{Status: to, Updated: len(ids), IDs: ids}, nil
}

// StudentGrades returns a student's approved grades with their computed display.
func (s *GradeService) StudentGrades(ctx context.Context, studentID, termID string) ([]models.StudentGrade, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}
	records, err := s.records.ListApprovedForStudent(ctx, studentID, termID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student grades")
	}
	grades := make([]models.StudentGrade, 0, len(records))
	for _, record := range records {
		grades = append(grades, models.StudentGrade{
			GradeRecord: record,
			Average:     ComputeAverage(record, s.passingMark),
		})
	}
	return grades, nil
}

func (s *GradeService) emitAudit(ctx context.Context, actorID, action string, ids []string, notes *string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"ids": ids, "notes": notes})
	entry := &models.AuditLog{
		Action:    action,
		Resource:  "grade_record",
		NewValues: payload,
		IPAddress: "system",
		UserAgent: "grade-workflow",
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
