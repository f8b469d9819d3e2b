package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
	"github.com/noah-isme/sma-registrar-core/pkg/lock"
)

const (
	termCachePrefix  = "terms:"
	termCachePattern = "terms:*"

	// termActivationKey serialises every change to is_active, across
	// instances when the locker is Redis backed.
	termActivationKey = "lock:term-activation"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
	ListActive(ctx context.Context) ([]models.Term, error)
	ExistsByYearAndSemester(ctx context.Context, yearStart int, semester models.SemesterLabel, excludeID string) (bool, error)
	Create(ctx context.Context, term *models.Term) error
	UpdateCalendar(ctx context.Context, term *models.Term) error
	SetActive(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	CountDependents(ctx context.Context, id string) (models.TermDependents, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateTermRequest describes payload for creating academic terms.
type CreateTermRequest struct {
	YearStart        int                                  `json:"year_start" validate:"required,gte=1900,lte=9998"`
	YearEnd          int                                  `json:"year_end"`
	Semester         models.SemesterLabel                 `json:"semester" validate:"required,oneof=FIRST_SEMESTER SECOND_SEMESTER FULL_ACADEMIC_YEAR SUMMER"`
	EnrollmentStart  *time.Time                           `json:"enrollment_start"`
	EnrollmentEnd    *time.Time                           `json:"enrollment_end"`
	QuarterWindows   map[models.Quarter]models.DateWindow `json:"quarter_windows" validate:"omitempty,dive,keys,oneof=Q1 Q2 Q3 Q4,endkeys"`
	GradingDeadline  *time.Time                           `json:"grading_deadline"`
	IsEnrollmentOpen bool                                 `json:"is_enrollment_open"`
}

// UpdateCalendarRequest carries a partial calendar update. Nil fields are left
// untouched; a quarter present in QuarterWindows replaces that quarter, and an
// empty window clears it.
type UpdateCalendarRequest struct {
	EnrollmentStart  *time.Time                           `json:"enrollment_start"`
	EnrollmentEnd    *time.Time                           `json:"enrollment_end"`
	QuarterWindows   map[models.Quarter]models.DateWindow `json:"quarter_windows" validate:"omitempty,dive,keys,oneof=Q1 Q2 Q3 Q4,endkeys"`
	GradingDeadline  *time.Time                           `json:"grading_deadline"`
	IsEnrollmentOpen *bool                                `json:"is_enrollment_open"`
}

// TermService is the term registry. It is the only writer of a term's
// active flag.
type TermService struct {
	repo      termRepository
	audit     auditLogger
	cache     *CacheService
	locker    lock.Locker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, audit auditLogger, cache *CacheService, locker lock.Locker, validate *validator.Validate, logger *zap.Logger) *TermService {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, audit: audit, cache: cache, locker: locker, validator: validate, logger: logger}
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list terms")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	return terms, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a term by ID for display. It may be served from the cache, so
// command paths use find instead.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	return s.lookup(ctx, id)
}

func (s *TermService) find(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to load term")
	}
	return term, nil
}

// GetActive returns currently active term.
func (s *TermService) GetActive(ctx context.Context) (*models.Term, error) {
	term, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return nil, appErrors.Internal(err, "failed to load active term")
	}
	return term, nil
}

// Create validates and stores a new, inactive term. Nothing is written when
// any calendar rule fails.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest, actorID string) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}

	if req.YearEnd == 0 {
		req.YearEnd = req.YearStart + 1
	}

	term := &models.Term{
		YearStart:        req.YearStart,
		YearEnd:          req.YearEnd,
		Semester:         req.Semester,
		EnrollmentStart:  req.EnrollmentStart,
		EnrollmentEnd:    req.EnrollmentEnd,
		GradingDeadline:  req.GradingDeadline,
		IsEnrollmentOpen: req.IsEnrollmentOpen,
	}
	for q, w := range req.QuarterWindows {
		term.SetQuarterWindow(q.Index(), w)
	}

	if err := validateTermCalendar(term, true); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByYearAndSemester(ctx, term.YearStart, term.Semester, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check term uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "term already exists for school year and semester")
	}

	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Internal(err, "failed to create term")
	}

	s.emitAudit(ctx, actorID, models.AuditActionTermCreate, term.ID, nil, term)
	s.logger.Info("term created", zap.String("term_id", term.ID), zap.String("term", term.Label()))
	return term, nil
}

// UpdateCalendar merges the partial update into the stored term and commits
// it only when the merged calendar is valid.
func (s *TermService) UpdateCalendar(ctx context.Context, id string, req UpdateCalendarRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid calendar payload")
	}

	term, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := *term
	windowChanged := false
	if req.EnrollmentStart != nil {
		merged.EnrollmentStart = req.EnrollmentStart
		windowChanged = true
	}
	if req.EnrollmentEnd != nil {
		merged.EnrollmentEnd = req.EnrollmentEnd
		windowChanged = true
	}
	for q, w := range req.QuarterWindows {
		merged.SetQuarterWindow(q.Index(), w)
	}
	if req.GradingDeadline != nil {
		merged.GradingDeadline = req.GradingDeadline
	}
	if req.IsEnrollmentOpen != nil {
		merged.IsEnrollmentOpen = *req.IsEnrollmentOpen
	}

	if err := validateTermCalendar(&merged, windowChanged); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateCalendar(ctx, &merged); err != nil {
		return nil, appErrors.Internal(err, "failed to update term calendar")
	}
	s.invalidate(ctx)
	return &merged, nil
}

// Activate makes the term the single active term, deactivating any other in
// the same transaction.
func (s *TermService) Activate(ctx context.Context, id, actorID string) (*models.Term, error) {
	unlock, err := s.locker.Lock(ctx, termActivationKey)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to acquire term activation lock")
	}
	defer unlock()

	term, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	var previous *models.Term
	if current, err := s.repo.FindActive(ctx); err == nil && current.ID != id {
		previous = current
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load active term")
	}

	if err := s.repo.SetActive(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Internal(err, "failed to activate term")
	}
	term.IsActive = true
	s.invalidate(ctx)

	var old interface{}
	if previous != nil {
		old = map[string]string{"previous_active_term_id": previous.ID}
	}
	s.emitAudit(ctx, actorID, models.AuditActionTermActivate, id, old, map[string]bool{"is_active": true})
	s.logger.Info("term activated", zap.String("term_id", id), zap.String("term", term.Label()))
	return term, nil
}

// Deactivate clears the active flag. Deactivating an inactive term succeeds
// without changes.
func (s *TermService) Deactivate(ctx context.Context, id, actorID string) error {
	_, err := s.deactivate(ctx, id, actorID, models.AuditActionTermDeactivate)
	return err
}

// Expire deactivates a term on behalf of the expiry sweep. It reports whether
// the term was still active.
func (s *TermService) Expire(ctx context.Context, id string) (bool, error) {
	return s.deactivate(ctx, id, "", models.AuditActionTermExpire)
}

func (s *TermService) deactivate(ctx context.Context, id, actorID, action string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, termActivationKey)
	if err != nil {
		return false, appErrors.Internal(err, "failed to acquire term activation lock")
	}
	defer unlock()

	if _, err := s.find(ctx, id); err != nil {
		return false, err
	}

	changed, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return false, appErrors.Internal(err, "failed to deactivate term")
	}
	if !changed {
		return false, nil
	}

	s.invalidate(ctx)
	s.emitAudit(ctx, actorID, action, id, map[string]bool{"is_active": true}, map[string]bool{"is_active": false})
	s.logger.Info("term deactivated", zap.String("term_id", id), zap.String("reason", action))
	return true, nil
}

// Delete removes a term when not active and without dependents.
func (s *TermService) Delete(ctx context.Context, id string) error {
	term, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if term.IsActive {
		return appErrors.Clone(appErrors.ErrTermInUse, "cannot delete the active term")
	}

	deps, err := s.repo.CountDependents(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to check term dependencies")
	}
	if deps.Total() > 0 {
		return appErrors.Clone(appErrors.ErrTermInUse, "term is referenced by loads, advisers or grades")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete term")
	}
	s.invalidate(ctx)
	return nil
}

// IsActive reports whether the term is currently active. It always reads the
// store so a deactivation is seen by the next command.
func (s *TermService) IsActive(ctx context.Context, id string) (bool, error) {
	term, err := s.find(ctx, id)
	if err != nil {
		return false, err
	}
	return term.IsActive, nil
}

// ActiveTerm returns the term when it is active and TermInactive otherwise.
// Other components call it before accepting any write scoped to a term.
func (s *TermService) ActiveTerm(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !term.IsActive {
		return nil, appErrors.Clone(appErrors.ErrTermInactive, "term "+term.Label()+" is not active")
	}
	return term, nil
}

// EvaluateExpiry returns the ids of active terms whose end boundary has passed.
func (s *TermService) EvaluateExpiry(ctx context.Context, now time.Time) ([]string, error) {
	terms, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list active terms")
	}
	return EvaluateExpiry(terms, now), nil
}

func (s *TermService) lookup(ctx context.Context, id string) (*models.Term, error) {
	value, err := s.cache.Remember(ctx, termCachePrefix+id, &models.Term{}, func() (interface{}, error) {
		return s.find(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return value.(*models.Term), nil
}

func (s *TermService) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, termCachePattern)
}

func (s *TermService) emitAudit(ctx context.Context, actorID, action, termID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "term",
		ResourceID: &termID,
		IPAddress:  "system",
		UserAgent:  "term-registry",
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
