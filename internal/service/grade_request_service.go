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

const defaultRequestMaxDays = 30

type gradeRequestRepository interface {
	Create(ctx context.Context, req *models.GradeInputRequest) error
	GetByID(ctx context.Context, id string) (*models.GradeInputRequest, error)
	List(ctx context.Context, filter models.GradeRequestFilter) ([]models.GradeInputRequest, error)
	ListApprovedForClass(ctx context.Context, facultyID, termID, sectionID, subjectID string, quarter models.Quarter) ([]models.GradeInputRequest, error)
	Review(ctx context.Context, params repository.ReviewParams) error
}

// CreateGradeRequest is the faculty payload asking for grade entry access.
type CreateGradeRequest struct {
	TermID        string         `json:"term_id" validate:"required"`
	SectionID     string         `json:"section_id" validate:"required"`
	SubjectID     string         `json:"subject_id" validate:"required"`
	Quarter       models.Quarter `json:"quarter" validate:"required,oneof=Q1 Q2 Q3 Q4"`
	Reason        string         `json:"reason" validate:"required"`
	StudentsCount int            `json:"students_count" validate:"gte=0"`
}

// ApproveGradeRequest grants access for a number of days.
type ApproveGradeRequest struct {
	Notes         string `json:"notes"`
	ExpiresInDays int    `json:"expires_in_days" validate:"required,min=1"`
}

// RejectGradeRequest denies access; notes are mandatory.
type RejectGradeRequest struct {
	Notes string `json:"notes" validate:"required"`
}

// GradeRequestService runs the grade input request workflow:
// PENDING -> APPROVED | REJECTED, both terminal.
type GradeRequestService struct {
	repo      gradeRequestRepository
	terms     termGate
	audit     auditLogger
	clock     clock.Clock
	maxDays   int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeRequestService constructs the service. maxDays caps the approval
// window and defaults to 30.
func NewGradeRequestService(repo gradeRequestRepository, terms termGate, audit auditLogger, clk clock.Clock, maxDays int, validate *validator.Validate, logger *zap.Logger) *GradeRequestService {
	if clk == nil {
		clk = clock.Real{}
	}
	if maxDays <= 0 || maxDays > defaultRequestMaxDays {
		maxDays = defaultRequestMaxDays
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeRequestService{repo: repo, terms: terms, audit: audit, clock: clk, maxDays: maxDays, validator: validate, logger: logger}
}

// Create files a pending request for the acting faculty.
func (s *GradeRequestService) Create(ctx context.Context, facultyID string, req CreateGradeRequest) (*models.GradeInputRequest, error) {
	if facultyID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade input request payload")
	}
	term, err := s.terms.ActiveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}
	if !containsQuarter(term.Semester.Quarters(), req.Quarter) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not graded in %s", req.Quarter, term.Semester))
	}

	request := &models.GradeInputRequest{
		FacultyID:     facultyID,
		TermID:        req.TermID,
		SectionID:     req.SectionID,
		SubjectID:     req.SubjectID,
		Quarter:       req.Quarter,
		Reason:        strings.TrimSpace(req.Reason),
		StudentsCount: req.StudentsCount,
		Status:        models.GradeRequestPending,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Internal(err, "failed to create grade input request")
	}
	return request, nil
}

// Get returns a request by ID. Faculty only see their own requests; anyone
// else's reads as not found, matching List.
func (s *GradeRequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.GradeInputRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsRegistrar() && request.FacultyID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "grade input request not found")
	}
	return request, nil
}

func (s *GradeRequestService) find(ctx context.Context, id string) (*models.GradeInputRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade input request not found")
		}
		return nil, appErrors.Internal(err, "failed to load grade input request")
	}
	return request, nil
}

// List returns requests visible to the actor. Faculty only see their own.
func (s *GradeRequestService) List(ctx context.Context, filter models.GradeRequestFilter, actor *models.JWTClaims) ([]models.GradeInputRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsRegistrar() {
		filter.FacultyID = actor.UserID
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list grade input requests")
	}
	return requests, nil
}

// Approve grants the request until now + ExpiresInDays.
func (s *GradeRequestService) Approve(ctx context.Context, id string, req ApproveGradeRequest, reviewerID string) (*models.GradeInputRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "expires_in_days is required")
	}
	if req.ExpiresInDays > s.maxDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("expires_in_days must be between 1 and %d", s.maxDays))
	}

	now := s.clock.Now()
	expires := now.AddDate(0, 0, req.ExpiresInDays)
	var notes *string
	if trimmed := strings.TrimSpace(req.Notes); trimmed != "" {
		notes = &trimmed
	}
	return s.review(ctx, id, repository.ReviewParams{
		ID:            id,
		Status:        models.GradeRequestApproved,
		ReviewedBy:    reviewerID,
		ReviewedAt:    now,
		ApprovalNotes: notes,
		ExpiresAt:     &expires,
	}, models.AuditActionRequestApprove)
}

// Reject denies the request with mandatory notes.
func (s *GradeRequestService) Reject(ctx context.Context, id string, req RejectGradeRequest, reviewerID string) (*models.GradeInputRequest, error) {
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection notes are required")
	}
	return s.review(ctx, id, repository.ReviewParams{
		ID:            id,
		Status:        models.GradeRequestRejected,
		ReviewedBy:    reviewerID,
		ReviewedAt:    s.clock.Now(),
		ApprovalNotes: &notes,
	}, models.AuditActionRequestReject)
}

func (s *GradeRequestService) review(ctx context.Context, id string, params repository.ReviewParams, action string) (*models.GradeInputRequest, error) {
	request, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.GradeRequestPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("grade input request already %s", strings.ToLower(string(request.Status))))
	}
	if _, err := s.terms.ActiveTerm(ctx, request.TermID); err != nil {
		return nil, err
	}

	if err := s.repo.Review(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grade input request already reviewed")
		}
		return nil, appErrors.Internal(err, "failed to review grade input request")
	}

	request.Status = params.Status
	request.ReviewedBy = &params.ReviewedBy
	reviewedAt := params.ReviewedAt
	request.ReviewedAt = &reviewedAt
	request.ApprovalNotes = params.ApprovalNotes
	request.ExpiresAt = params.ExpiresAt

	s.emitAudit(ctx, params.ReviewedBy, action, request)
	s.logger.Info("grade input request reviewed",
		zap.String("request_id", id),
		zap.String("status", string(request.Status)),
		zap.String("reviewer_id", params.ReviewedBy),
	)
	return request, nil
}

// ActiveGrant returns the approved, unexpired request covering the faculty,
// class and quarter. It fails with RequestExpired when only expired approvals
// exist and RequestNotApproved when there are none.
func (s *GradeRequestService) ActiveGrant(ctx context.Context, facultyID, termID, sectionID, subjectID string, quarter models.Quarter) (*models.GradeInputRequest, error) {
	approved, err := s.repo.ListApprovedForClass(ctx, facultyID, termID, sectionID, subjectID, quarter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to read grade input requests")
	}
	now := s.clock.Now()
	for i := range approved {
		if approved[i].Grants(now) {
			return &approved[i], nil
		}
	}
	if len(approved) > 0 {
		return nil, appErrors.Clone(appErrors.ErrRequestExpired, fmt.Sprintf("grade input request for %s expired", quarter))
	}
	return nil, appErrors.Clone(appErrors.ErrRequestNotApproved, fmt.Sprintf("no approved grade input request for %s", quarter))
}

func (s *GradeRequestService) emitAudit(ctx context.Context, reviewerID, action string, request *models.GradeInputRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(request)
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "grade_input_request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "grade-workflow",
	}
	if reviewerID != "" {
		entry.UserID = &reviewerID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func containsQuarter(quarters []models.Quarter, q models.Quarter) bool {
	for _, candidate := range quarters {
		if candidate == q {
			return true
		}
	}
	return false
}
