package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/repository"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
)

type recordStoreStub struct {
	mu      sync.Mutex
	records map[string]*models.GradeRecord
	nextID  int
	// beforeTransition runs inside TransitionBatch before the status check.
	beforeTransition func(records map[string]*models.GradeRecord)
}

func newRecordStoreStub() *recordStoreStub {
	return &recordStoreStub{records: make(map[string]*models.GradeRecord)}
}

func (s *recordStoreStub) List(ctx context.Context, filter models.GradeRecordFilter) ([]models.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GradeRecord
	for _, r := range s.records {
		if filter.FacultyID != "" && r.FacultyID != filter.FacultyID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *recordStoreStub) FindByID(ctx context.Context, id string) (*models.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *r
	return &copied, nil
}

func (s *recordStoreStub) FindByStudentSubject(ctx context.Context, studentID, subjectID, termID string) (*models.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.StudentID == studentID && r.SubjectID == subjectID && r.TermID == termID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *recordStoreStub) FindByIDs(ctx context.Context, ids []string) ([]models.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GradeRecord
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *recordStoreStub) Create(ctx context.Context, record *models.GradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = fmt.Sprintf("grade-%d", s.nextID)
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

func (s *recordStoreStub) Update(ctx context.Context, record *models.GradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

func (s *recordStoreStub) TransitionBatch(ctx context.Context, batch repository.BatchTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeTransition != nil {
		s.beforeTransition(s.records)
	}
	for _, id := range batch.IDs {
		r, ok := s.records[id]
		if !ok || r.Status != batch.From {
			return fmt.Errorf("transition: %w", repository.ErrBatchChanged)
		}
	}
	for _, id := range batch.IDs {
		r := s.records[id]
		r.Status = batch.To
		r.ApprovalNotes = batch.Notes
		if batch.To == models.GradeStatusApproved {
			at := batch.At
			r.ApprovedAt = &at
		}
	}
	return nil
}

func (s *recordStoreStub) ListApprovedForStudent(ctx context.Context, studentID, termID string) ([]models.GradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GradeRecord
	for _, r := range s.records {
		if r.StudentID == studentID && r.Status == models.GradeStatusApproved && (termID == "" || r.TermID == termID) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *recordStoreStub) status(id string) models.GradeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

type gradeFixture struct {
	svc      *GradeService
	requests *requestFixture
	records  *recordStoreStub
}

func newGradeFixture() *gradeFixture {
	requests := newRequestFixture()
	f := &gradeFixture{requests: requests, records: newRecordStoreStub()}
	f.svc = NewGradeService(GradeServiceParams{
		Records: f.records,
		Grants:  requests.svc,
		Terms:   requests.gate,
		Audit:   requests.audit,
		Metrics: NewMetricsService(),
		Clock:   requests.clock,
	})
	return f
}

// grant files and approves a request for fac-1 on 10-A math.
func (f *gradeFixture) grant(t *testing.T, quarter models.Quarter, days int) *models.GradeInputRequest {
	t.Helper()
	ctx := context.Background()
	pending, err := f.requests.svc.Create(ctx, "fac-1", classRequest(quarter))
	require.NoError(t, err)
	approved, err := f.requests.svc.Approve(ctx, pending.ID, ApproveGradeRequest{ExpiresInDays: days}, "reg-1")
	require.NoError(t, err)
	return approved
}

func gradeFor(studentID string, quarter models.Quarter, value float64) SaveGradeRequest {
	return SaveGradeRequest{
		StudentID: studentID,
		SubjectID: "math",
		SectionID: "10-A",
		TermID:    "term-1",
		Quarter:   quarter,
		Value:     &value,
	}
}

func TestSaveDraftRequiresApprovedRequest(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()

	_, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 88))
	assert.ErrorIs(t, err, appErrors.ErrRequestNotApproved)

	f.grant(t, models.Quarter1, 1)
	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 88))
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusDraft, record.Status)
	assert.Equal(t, 88.0, *record.FirstQuarter)
	assert.Nil(t, record.SemesterGrade)

	f.requests.clock.Advance(25 * time.Hour)
	_, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 90))
	assert.ErrorIs(t, err, appErrors.ErrRequestExpired)
}

func TestSaveDraftComputesSemesterGrade(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)
	f.grant(t, models.Quarter2, 5)

	_, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 88))
	require.NoError(t, err)
	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter2, 91))
	require.NoError(t, err)
	require.NotNil(t, record.SemesterGrade)
	assert.Equal(t, 89.5, *record.SemesterGrade)

	override := gradeFor("stu-1", models.Quarter2, 91)
	semester := 85.0
	override.SemesterGrade = &semester
	record, err = f.svc.SaveDraft(ctx, "fac-1", override)
	require.NoError(t, err)
	assert.True(t, record.SemesterGradeOverridden)
	assert.Equal(t, 85.0, *record.SemesterGrade)

	record, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter2, 92))
	require.NoError(t, err)
	assert.Equal(t, 85.0, *record.SemesterGrade)

	reset := gradeFor("stu-1", models.Quarter2, 92)
	reset.ClearOverride = true
	record, err = f.svc.SaveDraft(ctx, "fac-1", reset)
	require.NoError(t, err)
	assert.False(t, record.SemesterGradeOverridden)
	assert.Equal(t, 90.0, *record.SemesterGrade)
}

func TestSaveDraftRejectsOtherFacultyAndQuarters(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	_, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 80))
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter3, 80))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	outOfRange := gradeFor("stu-1", models.Quarter1, 101)
	_, err = f.svc.SaveDraft(ctx, "fac-1", outOfRange)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	// Another faculty with their own grant cannot edit fac-1's record.
	pending, err := f.requests.svc.Create(ctx, "fac-2", classRequest(models.Quarter1))
	require.NoError(t, err)
	_, err = f.requests.svc.Approve(ctx, pending.ID, ApproveGradeRequest{ExpiresInDays: 5}, "reg-1")
	require.NoError(t, err)
	_, err = f.svc.SaveDraft(ctx, "fac-2", gradeFor("stu-1", models.Quarter1, 70))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestSaveDraftGrantDoesNotCoverAnotherSection(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	first := 75.0
	f.records.records["grade-b"] = &models.GradeRecord{
		ID:           "grade-b",
		StudentID:    "stu-9",
		SubjectID:    "math",
		SectionID:    "10-B",
		FacultyID:    "fac-1",
		TermID:       "term-1",
		Semester:     models.SemesterFirst,
		Status:       models.GradeStatusDraft,
		FirstQuarter: &first,
	}

	_, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-9", models.Quarter1, 99))
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	stored, err := f.records.FindByID(ctx, "grade-b")
	require.NoError(t, err)
	assert.Equal(t, 75.0, *stored.FirstQuarter)
}

func TestSubmitAndBulkApprove(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	var ids []string
	for _, student := range []string{"stu-1", "stu-2", "stu-3"} {
		record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor(student, models.Quarter1, 85))
		require.NoError(t, err)
		submitted, err := f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
		require.NoError(t, err)
		assert.Equal(t, models.GradeStatusSubmitted, submitted.Status)
		assert.NotNil(t, submitted.SubmittedForApprovalAt)
		ids = append(ids, record.ID)
	}

	_, err := f.svc.Submit(ctx, "fac-1", ids[0], SubmitGradeRequest{Quarter: models.Quarter1})
	assert.ErrorIs(t, err, appErrors.ErrGradeLocked)
	_, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 90))
	assert.ErrorIs(t, err, appErrors.ErrGradeLocked)

	result, err := f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: append(ids, ids[0])}, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updated)
	for _, id := range ids {
		assert.Equal(t, models.GradeStatusApproved, f.records.status(id))
	}
	assert.Contains(t, f.requests.audit.actions(), models.AuditActionGradeBulkApprove)
}

func TestSubmitRequiresGrant(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 1)

	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 85))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter2})
	assert.ErrorIs(t, err, appErrors.ErrRequestNotApproved)

	f.requests.clock.Advance(48 * time.Hour)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	assert.ErrorIs(t, err, appErrors.ErrRequestExpired)

	_, err = f.svc.Submit(ctx, "fac-2", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Submit(ctx, "fac-1", "missing", SubmitGradeRequest{Quarter: models.Quarter1})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestBulkTransitionIsAllOrNothing(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	var ids []string
	for _, student := range []string{"stu-1", "stu-2", "stu-3"} {
		record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor(student, models.Quarter1, 80))
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}
	for _, id := range ids[:2] {
		_, err := f.svc.Submit(ctx, "fac-1", id, SubmitGradeRequest{Quarter: models.Quarter1})
		require.NoError(t, err)
	}

	_, err := f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: ids}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidBatchState)
	assert.Equal(t, models.GradeStatusSubmitted, f.records.status(ids[0]))
	assert.Equal(t, models.GradeStatusSubmitted, f.records.status(ids[1]))
	assert.Equal(t, models.GradeStatusDraft, f.records.status(ids[2]))

	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: []string{ids[0], "missing"}}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	// A record changing between the read and the write aborts the batch.
	f.records.beforeTransition = func(records map[string]*models.GradeRecord) {
		records[ids[1]].Status = models.GradeStatusDraft
		f.records.beforeTransition = nil
	}
	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: ids[:2]}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidBatchState)
	assert.Equal(t, models.GradeStatusSubmitted, f.records.status(ids[0]))

	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestBulkRejectReturnsRecordsForEditing(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 60))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	require.NoError(t, err)

	_, err = f.svc.BulkReject(ctx, BulkGradeRequest{IDs: []string{record.ID}}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	result, err := f.svc.BulkReject(ctx, BulkGradeRequest{IDs: []string{record.ID}, Notes: "recheck Q1"}, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusRejected, result.Status)

	edited, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 65))
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusRejected, edited.Status)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	require.NoError(t, err)
}

func TestApprovedGradeReopensOnlyWithNewerGrant(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 70))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	require.NoError(t, err)

	f.requests.clock.Advance(time.Hour)
	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: []string{record.ID}}, "reg-1")
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 75))
	assert.ErrorIs(t, err, appErrors.ErrGradeLocked)

	f.requests.clock.Advance(time.Hour)
	f.grant(t, models.Quarter1, 5)
	reopened, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 75))
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusDraft, reopened.Status)
}

func TestGradeWritesRequireActiveTerm(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)

	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 80))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter1})
	require.NoError(t, err)

	f.requests.gate.terms["term-1"].IsActive = false

	_, err = f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-2", models.Quarter1, 80))
	assert.ErrorIs(t, err, appErrors.ErrTermInactive)
	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: []string{record.ID}}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrTermInactive)
	assert.Equal(t, models.GradeStatusSubmitted, f.records.status(record.ID))
}

func TestStudentGradesAndListScope(t *testing.T) {
	f := newGradeFixture()
	ctx := context.Background()
	f.grant(t, models.Quarter1, 5)
	f.grant(t, models.Quarter2, 5)

	_, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter1, 88))
	require.NoError(t, err)
	record, err := f.svc.SaveDraft(ctx, "fac-1", gradeFor("stu-1", models.Quarter2, 92))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "fac-1", record.ID, SubmitGradeRequest{Quarter: models.Quarter2})
	require.NoError(t, err)

	grades, err := f.svc.StudentGrades(ctx, "stu-1", "term-1")
	require.NoError(t, err)
	assert.Empty(t, grades)

	_, err = f.svc.BulkApprove(ctx, BulkGradeRequest{IDs: []string{record.ID}}, "reg-1")
	require.NoError(t, err)

	grades, err = f.svc.StudentGrades(ctx, "stu-1", "term-1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, "90.0", grades[0].Average.Display)
	assert.Equal(t, "Passed", grades[0].Average.Remarks)

	mine, err := f.svc.List(ctx, models.GradeRecordFilter{}, &models.JWTClaims{UserID: "fac-2", Role: models.RoleFaculty})
	require.NoError(t, err)
	assert.Empty(t, mine)
	all, err := f.svc.List(ctx, models.GradeRecordFilter{}, &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
