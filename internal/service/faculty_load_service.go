package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
	"github.com/noah-isme/sma-registrar-core/pkg/lock"
)

type facultyLoadRepository interface {
	ListByFaculty(ctx context.Context, facultyID, termID string) ([]models.FacultyLoadAssignment, error)
	CountByFaculty(ctx context.Context, facultyID, termID string) (int, error)
	FindByID(ctx context.Context, id string) (*models.FacultyLoadAssignment, error)
	Create(ctx context.Context, load *models.FacultyLoadAssignment) error
	Delete(ctx context.Context, id string) (bool, error)
}

type adviserRepository interface {
	ListByTerm(ctx context.Context, termID string) ([]models.SectionAdviser, error)
	Get(ctx context.Context, sectionID, termID string) (*models.SectionAdviser, error)
	Create(ctx context.Context, adviser *models.SectionAdviser) error
	Delete(ctx context.Context, sectionID, termID string) (bool, error)
}

type loadPolicyRepository interface {
	GetOverride(ctx context.Context, facultyID string) (*models.FacultyLoadOverride, error)
	UpsertOverride(ctx context.Context, override *models.FacultyLoadOverride) error
}

// termGate exposes the term registry's read side to other components.
type termGate interface {
	ActiveTerm(ctx context.Context, id string) (*models.Term, error)
}

// AssignLoadRequest describes one teaching or advisory commitment.
type AssignLoadRequest struct {
	FacultyID string           `json:"faculty_id" validate:"required"`
	SubjectID string           `json:"subject_id" validate:"required"`
	SectionID string           `json:"section_id" validate:"required"`
	DayOfWeek string           `json:"day_of_week" validate:"required"`
	StartTime models.ClockTime `json:"start_time" validate:"gte=0,lt=1440"`
	EndTime   models.ClockTime `json:"end_time" validate:"gte=0,lte=1440"`
	TermID    string           `json:"term_id" validate:"required"`
	LoadType  string           `json:"load_type"`
}

// AssignAdviserRequest links an adviser to a section for a term.
type AssignAdviserRequest struct {
	FacultyID string `json:"faculty_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
	TermID    string `json:"term_id" validate:"required"`
}

// SetFacultyMaxLoadsRequest overrides the load ceiling of one faculty.
type SetFacultyMaxLoadsRequest struct {
	MaxLoads int `json:"max_loads" validate:"required,min=1"`
}

// FacultyLoadService is the capacity ledger. Load assignments are serialised
// per faculty and adviser changes per section.
type FacultyLoadService struct {
	loads     facultyLoadRepository
	advisers  adviserRepository
	policies  loadPolicyRepository
	terms     termGate
	locker    lock.Locker
	policy    models.LoadPolicy
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// FacultyLoadServiceParams groups the collaborators of FacultyLoadService.
type FacultyLoadServiceParams struct {
	Loads     facultyLoadRepository
	Advisers  adviserRepository
	Policies  loadPolicyRepository
	Terms     termGate
	Locker    lock.Locker
	Policy    models.LoadPolicy
	Audit     auditLogger
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewFacultyLoadService constructs the capacity ledger.
func NewFacultyLoadService(p FacultyLoadServiceParams) *FacultyLoadService {
	if p.Locker == nil {
		p.Locker = lock.NewKeyedMutex()
	}
	if p.Policy.MaxLoadsPerFaculty <= 0 {
		p.Policy.MaxLoadsPerFaculty = 5
	}
	if p.Validator == nil {
		p.Validator = validator.New()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &FacultyLoadService{
		loads:     p.Loads,
		advisers:  p.Advisers,
		policies:  p.Policies,
		terms:     p.Terms,
		locker:    p.Locker,
		policy:    p.Policy,
		audit:     p.Audit,
		metrics:   p.Metrics,
		validator: p.Validator,
		logger:    p.Logger,
	}
}

// Policy returns the registrar-wide load policy.
func (s *FacultyLoadService) Policy() models.LoadPolicy {
	policy := s.policy
	policy.AllowedLoadTypes = append([]string(nil), s.policy.AllowedLoadTypes...)
	return policy
}

// ListLoads returns a faculty's loads within a term.
func (s *FacultyLoadService) ListLoads(ctx context.Context, facultyID, termID string) ([]models.FacultyLoadAssignment, error) {
	if facultyID == "" || termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "facultyId and termId are required")
	}
	loads, err := s.loads.ListByFaculty(ctx, facultyID, termID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list loads")
	}
	return loads, nil
}

// AssignLoad records a new load after the capacity and schedule checks pass.
func (s *FacultyLoadService) AssignLoad(ctx context.Context, req AssignLoadRequest) (*models.FacultyLoadAssignment, error) {
	load, err := s.assignLoad(ctx, req)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr.Status < 500 {
			s.metrics.RecordLoadRejection(appErr.Code)
		}
		return nil, err
	}
	return load, nil
}

func (s *FacultyLoadService) assignLoad(ctx context.Context, req AssignLoadRequest) (*models.FacultyLoadAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid load payload")
	}
	day, ok := models.ParseWeekday(req.DayOfWeek)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown teaching day %q", req.DayOfWeek))
	}
	if req.EndTime <= req.StartTime {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "load end time must be after its start time")
	}

	term, err := s.terms.ActiveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, facultyLockKey(req.FacultyID))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to acquire faculty lock")
	}
	defer unlock()

	existing, err := s.loads.ListByFaculty(ctx, req.FacultyID, req.TermID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to read faculty loads")
	}

	maxLoads, err := s.maxLoads(ctx, req.FacultyID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= maxLoads {
		return nil, appErrors.Clone(appErrors.ErrOverCapacity, fmt.Sprintf("faculty already holds %d of %d loads this term", len(existing), maxLoads))
	}

	for i := range existing {
		if existing[i].ConflictsWith(day, req.StartTime, req.EndTime) {
			return nil, appErrors.Clone(appErrors.ErrScheduleConflict, fmt.Sprintf("faculty already teaches %s %s-%s", day, existing[i].StartTime, existing[i].EndTime))
		}
	}

	if req.LoadType != "" && !s.allowedLoadType(req.LoadType) {
		s.logger.Warn("load type outside policy", zap.String("faculty_id", req.FacultyID), zap.String("load_type", req.LoadType))
	}

	load := &models.FacultyLoadAssignment{
		FacultyID: req.FacultyID,
		SubjectID: req.SubjectID,
		SectionID: req.SectionID,
		DayOfWeek: day,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Semester:  term.Semester,
		TermID:    term.ID,
		LoadType:  strings.ToUpper(strings.TrimSpace(req.LoadType)),
	}
	if err := s.loads.Create(ctx, load); err != nil {
		return nil, appErrors.Internal(err, "failed to create load")
	}
	return load, nil
}

// RemoveLoad deletes an assignment.
func (s *FacultyLoadService) RemoveLoad(ctx context.Context, id string) error {
	load, err := s.loads.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "load not found")
		}
		return appErrors.Internal(err, "failed to load assignment")
	}
	if _, err := s.terms.ActiveTerm(ctx, load.TermID); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, facultyLockKey(load.FacultyID))
	if err != nil {
		return appErrors.Internal(err, "failed to acquire faculty lock")
	}
	defer unlock()

	removed, err := s.loads.Delete(ctx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to delete load")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "load not found")
	}
	return nil
}

// Utilization reports how much of the faculty's ceiling is used within a term.
func (s *FacultyLoadService) Utilization(ctx context.Context, facultyID, termID string) (*models.Utilization, error) {
	if facultyID == "" || termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "facultyId and termId are required")
	}
	current, err := s.loads.CountByFaculty(ctx, facultyID, termID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count loads")
	}
	maxLoads, err := s.maxLoads(ctx, facultyID)
	if err != nil {
		return nil, err
	}
	util := computeUtilization(current, maxLoads)
	util.FacultyID = facultyID
	util.TermID = termID
	return &util, nil
}

// SetFacultyMaxLoads stores a per-faculty ceiling. Lowering it below the
// current count is allowed; utilization then reports an overload.
func (s *FacultyLoadService) SetFacultyMaxLoads(ctx context.Context, facultyID string, req SetFacultyMaxLoadsRequest) (*models.FacultyLoadOverride, error) {
	if facultyID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "facultyId is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "max_loads must be at least 1")
	}

	unlock, err := s.locker.Lock(ctx, facultyLockKey(facultyID))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to acquire faculty lock")
	}
	defer unlock()

	override := &models.FacultyLoadOverride{FacultyID: facultyID, MaxLoads: req.MaxLoads}
	if err := s.policies.UpsertOverride(ctx, override); err != nil {
		return nil, appErrors.Internal(err, "failed to store load override")
	}
	return override, nil
}

// ListAdvisers returns the adviser slots of a term.
func (s *FacultyLoadService) ListAdvisers(ctx context.Context, termID string) ([]models.SectionAdviser, error) {
	if termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "termId is required")
	}
	advisers, err := s.advisers.ListByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list advisers")
	}
	return advisers, nil
}

// AssignAdviser fills a section's adviser slot. Re-assigning the same adviser
// is a no-op; replacing a different adviser requires RemoveAdviser first.
func (s *FacultyLoadService) AssignAdviser(ctx context.Context, req AssignAdviserRequest, actorID string) (*models.SectionAdviser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid adviser payload")
	}
	if _, err := s.terms.ActiveTerm(ctx, req.TermID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, sectionLockKey(req.SectionID))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to acquire section lock")
	}
	defer unlock()

	current, err := s.advisers.Get(ctx, req.SectionID, req.TermID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to read section adviser")
	}
	if current != nil {
		if current.FacultyID == req.FacultyID {
			return current, nil
		}
		return nil, appErrors.Clone(appErrors.ErrAdviserAlreadyAssigned, "section already has a different adviser; remove it first")
	}

	adviser := &models.SectionAdviser{SectionID: req.SectionID, TermID: req.TermID, FacultyID: req.FacultyID}
	if err := s.advisers.Create(ctx, adviser); err != nil {
		return nil, appErrors.Internal(err, "failed to assign adviser")
	}
	s.emitAudit(ctx, actorID, models.AuditActionAdviserAssign, adviser.SectionID, nil, adviser)
	return adviser, nil
}

// RemoveAdviser clears a section's adviser slot.
func (s *FacultyLoadService) RemoveAdviser(ctx context.Context, sectionID, termID, actorID string) error {
	if sectionID == "" || termID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "sectionId and termId are required")
	}
	if _, err := s.terms.ActiveTerm(ctx, termID); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, sectionLockKey(sectionID))
	if err != nil {
		return appErrors.Internal(err, "failed to acquire section lock")
	}
	defer unlock()

	current, err := s.advisers.Get(ctx, sectionID, termID)
	if err != nil {
		return appErrors.Internal(err, "failed to read section adviser")
	}
	if current == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "section has no adviser")
	}
	removed, err := s.advisers.Delete(ctx, sectionID, termID)
	if err != nil {
		return appErrors.Internal(err, "failed to remove adviser")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "section has no adviser")
	}
	s.emitAudit(ctx, actorID, models.AuditActionAdviserRemove, sectionID, current, nil)
	return nil
}

func (s *FacultyLoadService) maxLoads(ctx context.Context, facultyID string) (int, error) {
	if s.policies == nil {
		return s.policy.MaxLoadsPerFaculty, nil
	}
	override, err := s.policies.GetOverride(ctx, facultyID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to read load policy")
	}
	if override != nil && override.MaxLoads > 0 {
		return override.MaxLoads, nil
	}
	return s.policy.MaxLoadsPerFaculty, nil
}

func (s *FacultyLoadService) allowedLoadType(loadType string) bool {
	if len(s.policy.AllowedLoadTypes) == 0 {
		return true
	}
	for _, allowed := range s.policy.AllowedLoadTypes {
		if strings.EqualFold(allowed, strings.TrimSpace(loadType)) {
			return true
		}
	}
	return false
}

func (s *FacultyLoadService) emitAudit(ctx context.Context, actorID, action, sectionID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "section_adviser",
		ResourceID: &sectionID,
		IPAddress:  "system",
		UserAgent:  "capacity-ledger",
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

func computeUtilization(current, maxLoads int) models.Utilization {
	util := models.Utilization{
		Current:        current,
		Max:            maxLoads,
		RemainingLoads: maxLoads - current,
		IsOverloaded:   current > maxLoads,
	}
	if util.RemainingLoads < 0 {
		util.RemainingLoads = 0
	}
	if maxLoads > 0 {
		util.Percentage = math.Round(float64(current)/float64(maxLoads)*10000) / 100
	}
	return util
}

func facultyLockKey(facultyID string) string { return "lock:faculty:" + facultyID }

func sectionLockKey(sectionID string) string { return "lock:section:" + sectionID }
