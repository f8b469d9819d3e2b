package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	appErrors "github.com/noah-isme/sma-registrar-core/pkg/errors"
)

type termGateStub struct {
	terms map[string]*models.Term
}

func activeTerms(terms ...*models.Term) *termGateStub {
	gate := &termGateStub{terms: make(map[string]*models.Term)}
	for _, term := range terms {
		gate.terms[term.ID] = term
	}
	return gate
}

func (s *termGateStub) ActiveTerm(ctx context.Context, id string) (*models.Term, error) {
	term, ok := s.terms[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
	}
	if !term.IsActive {
		return nil, appErrors.Clone(appErrors.ErrTermInactive, "term is not active")
	}
	return term, nil
}

type loadStoreStub struct {
	mu     sync.Mutex
	loads  map[string]models.FacultyLoadAssignment
	nextID int
}

func newLoadStoreStub() *loadStoreStub {
	return &loadStoreStub{loads: make(map[string]models.FacultyLoadAssignment)}
}

func (s *loadStoreStub) ListByFaculty(ctx context.Context, facultyID, termID string) ([]models.FacultyLoadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FacultyLoadAssignment
	for _, load := range s.loads {
		if load.FacultyID == facultyID && load.TermID == termID {
			out = append(out, load)
		}
	}
	return out, nil
}

func (s *loadStoreStub) CountByFaculty(ctx context.Context, facultyID, termID string) (int, error) {
	loads, _ := s.ListByFaculty(ctx, facultyID, termID)
	return len(loads), nil
}

func (s *loadStoreStub) FindByID(ctx context.Context, id string) (*models.FacultyLoadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	load, ok := s.loads[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &load, nil
}

func (s *loadStoreStub) Create(ctx context.Context, load *models.FacultyLoadAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	load.ID = fmt.Sprintf("load-%d", s.nextID)
	s.loads[load.ID] = *load
	return nil
}

func (s *loadStoreStub) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loads[id]; !ok {
		return false, nil
	}
	delete(s.loads, id)
	return true, nil
}

type adviserStoreStub struct {
	mu       sync.Mutex
	advisers map[string]models.SectionAdviser
}

func newAdviserStoreStub() *adviserStoreStub {
	return &adviserStoreStub{advisers: make(map[string]models.SectionAdviser)}
}

func (s *adviserStoreStub) ListByTerm(ctx context.Context, termID string) ([]models.SectionAdviser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SectionAdviser
	for _, adviser := range s.advisers {
		if adviser.TermID == termID {
			out = append(out, adviser)
		}
	}
	return out, nil
}

func (s *adviserStoreStub) Get(ctx context.Context, sectionID, termID string) (*models.SectionAdviser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adviser, ok := s.advisers[sectionID+"/"+termID]
	if !ok {
		return nil, nil
	}
	return &adviser, nil
}

func (s *adviserStoreStub) Create(ctx context.Context, adviser *models.SectionAdviser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := adviser.SectionID + "/" + adviser.TermID
	if _, ok := s.advisers[key]; ok {
		return fmt.Errorf("duplicate adviser slot %s", key)
	}
	adviser.ID = "adv-" + key
	s.advisers[key] = *adviser
	return nil
}

func (s *adviserStoreStub) Delete(ctx context.Context, sectionID, termID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sectionID + "/" + termID
	if _, ok := s.advisers[key]; !ok {
		return false, nil
	}
	delete(s.advisers, key)
	return true, nil
}

type policyStoreStub struct {
	overrides map[string]int
}

func (s *policyStoreStub) GetOverride(ctx context.Context, facultyID string) (*models.FacultyLoadOverride, error) {
	max, ok := s.overrides[facultyID]
	if !ok {
		return nil, nil
	}
	return &models.FacultyLoadOverride{FacultyID: facultyID, MaxLoads: max}, nil
}

func (s *policyStoreStub) UpsertOverride(ctx context.Context, override *models.FacultyLoadOverride) error {
	if s.overrides == nil {
		s.overrides = make(map[string]int)
	}
	s.overrides[override.FacultyID] = override.MaxLoads
	return nil
}

type loadFixture struct {
	svc      *FacultyLoadService
	loads    *loadStoreStub
	advisers *adviserStoreStub
	policies *policyStoreStub
	audit    *auditLogStub
	gate     *termGateStub
}

func newLoadFixture(maxLoads int) *loadFixture {
	f := &loadFixture{
		loads:    newLoadStoreStub(),
		advisers: newAdviserStoreStub(),
		policies: &policyStoreStub{},
		audit:    &auditLogStub{},
		gate: activeTerms(
			&models.Term{ID: "term-1", YearStart: 2025, YearEnd: 2026, Semester: models.SemesterFirst, IsActive: true},
			&models.Term{ID: "term-old", YearStart: 2024, YearEnd: 2025, Semester: models.SemesterSecond},
		),
	}
	f.svc = NewFacultyLoadService(FacultyLoadServiceParams{
		Loads:    f.loads,
		Advisers: f.advisers,
		Policies: f.policies,
		Terms:    f.gate,
		Policy:   models.LoadPolicy{MaxLoadsPerFaculty: maxLoads, AllowedLoadTypes: []string{"TEACHING", "ADVISORY"}},
		Audit:    f.audit,
		Metrics:  NewMetricsService(),
	})
	return f
}

func loadRequest(facultyID, day string, start, end int) AssignLoadRequest {
	return AssignLoadRequest{
		FacultyID: facultyID,
		SubjectID: "math",
		SectionID: "10-A",
		DayOfWeek: day,
		StartTime: models.ClockTime(start),
		EndTime:   models.ClockTime(end),
		TermID:    "term-1",
		LoadType:  "TEACHING",
	}
}

func TestAssignLoadEnforcesCapacity(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	var first *models.FacultyLoadAssignment
	days := []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}
	for i, d := range days {
		load, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", d, 8*60, 9*60))
		require.NoError(t, err, "load %d", i+1)
		assert.Equal(t, models.SemesterFirst, load.Semester)
		if first == nil {
			first = load
		}
	}

	_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", "SATURDAY", 8*60, 9*60))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrOverCapacity)

	require.NoError(t, f.svc.RemoveLoad(ctx, first.ID))
	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-1", "SATURDAY", 8*60, 9*60))
	require.NoError(t, err)

	util, err := f.svc.Utilization(ctx, "fac-1", "term-1")
	require.NoError(t, err)
	assert.Equal(t, 5, util.Current)
	assert.Equal(t, 0, util.RemainingLoads)
	assert.Equal(t, 100.0, util.Percentage)
	assert.False(t, util.IsOverloaded)
}

func TestAssignLoadRejectsScheduleConflicts(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", "mon", 8*60, 10*60))
	require.NoError(t, err)

	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-1", "Monday", 9*60, 11*60))
	assert.ErrorIs(t, err, appErrors.ErrScheduleConflict)

	// Touching intervals do not overlap.
	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-1", "MONDAY", 10*60, 11*60))
	require.NoError(t, err)

	// Another faculty may teach the same slot.
	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-2", "MONDAY", 8*60, 10*60))
	require.NoError(t, err)
}

func TestAssignLoadValidatesInput(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", "SUNDAY", 8*60, 9*60))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-1", "MONDAY", 9*60, 9*60))
	assert.ErrorIs(t, err, appErrors.ErrInvalidRange)

	req := loadRequest("fac-1", "MONDAY", 8*60, 9*60)
	req.TermID = "term-old"
	_, err = f.svc.AssignLoad(ctx, req)
	assert.ErrorIs(t, err, appErrors.ErrTermInactive)

	// Unknown load types are accepted.
	req = loadRequest("fac-1", "MONDAY", 8*60, 9*60)
	req.LoadType = "laboratory"
	load, err := f.svc.AssignLoad(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "LABORATORY", load.LoadType)
}

func TestAssignLoadConcurrentRequestsRespectCapacity(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		over     int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := 7*60 + i*30
			_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", "TUESDAY", start, start+30))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case appErrors.FromError(err).Code == appErrors.ErrOverCapacity.Code:
				over++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 15, over)
	count, _ := f.loads.CountByFaculty(ctx, "fac-1", "term-1")
	assert.Equal(t, 5, count)
}

func TestAssignLoadNeverStoresOverlaps(t *testing.T) {
	f := newLoadFixture(1000)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	days := []string{"MONDAY", "TUESDAY", "WEDNESDAY"}

	type slot struct {
		day        string
		start, end int
	}
	var accepted []slot

	for i := 0; i < 300; i++ {
		d := days[rng.Intn(len(days))]
		start := 6*60 + rng.Intn(12*60)
		end := start + 15 + rng.Intn(120)

		wantConflict := false
		for _, s := range accepted {
			if s.day == d && start < s.end && s.start < end {
				wantConflict = true
				break
			}
		}

		_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", d, start, end))
		if wantConflict {
			assert.ErrorIs(t, err, appErrors.ErrScheduleConflict, "%s %d-%d", d, start, end)
			continue
		}
		if assert.NoError(t, err, "%s %d-%d", d, start, end) {
			accepted = append(accepted, slot{day: d, start: start, end: end})
		}
	}

	stored, _ := f.loads.ListByFaculty(ctx, "fac-1", "term-1")
	assert.Len(t, stored, len(accepted))
	for i := range stored {
		for j := i + 1; j < len(stored); j++ {
			a, b := stored[i], stored[j]
			overlap := a.DayOfWeek == b.DayOfWeek && int(a.StartTime) < int(b.EndTime) && int(b.StartTime) < int(a.EndTime)
			assert.False(t, overlap, "%s %s-%s overlaps %s-%s", a.DayOfWeek, a.StartTime, a.EndTime, b.StartTime, b.EndTime)
		}
	}
}

func TestFacultyMaxLoadsOverride(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	for _, d := range []string{"MONDAY", "TUESDAY", "WEDNESDAY"} {
		_, err := f.svc.AssignLoad(ctx, loadRequest("fac-1", d, 8*60, 9*60))
		require.NoError(t, err)
	}

	_, err := f.svc.SetFacultyMaxLoads(ctx, "fac-1", SetFacultyMaxLoadsRequest{MaxLoads: 2})
	require.NoError(t, err)

	util, err := f.svc.Utilization(ctx, "fac-1", "term-1")
	require.NoError(t, err)
	assert.True(t, util.IsOverloaded)
	assert.Equal(t, 0, util.RemainingLoads)
	assert.Equal(t, 150.0, util.Percentage)

	_, err = f.svc.AssignLoad(ctx, loadRequest("fac-1", "FRIDAY", 8*60, 9*60))
	assert.ErrorIs(t, err, appErrors.ErrOverCapacity)

	_, err = f.svc.SetFacultyMaxLoads(ctx, "fac-1", SetFacultyMaxLoadsRequest{MaxLoads: 0})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestComputeUtilization(t *testing.T) {
	util := computeUtilization(1, 3)
	assert.Equal(t, 33.33, util.Percentage)
	assert.Equal(t, 2, util.RemainingLoads)

	util = computeUtilization(0, 5)
	assert.Equal(t, 0.0, util.Percentage)
	assert.False(t, util.IsOverloaded)
}

func TestAssignAdviser(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()
	req := AssignAdviserRequest{FacultyID: "fac-1", SectionID: "10-A", TermID: "term-1"}

	first, err := f.svc.AssignAdviser(ctx, req, "reg-1")
	require.NoError(t, err)

	again, err := f.svc.AssignAdviser(ctx, req, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = f.svc.AssignAdviser(ctx, AssignAdviserRequest{FacultyID: "fac-2", SectionID: "10-A", TermID: "term-1"}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrAdviserAlreadyAssigned)

	require.NoError(t, f.svc.RemoveAdviser(ctx, "10-A", "term-1", "reg-1"))
	assert.ErrorIs(t, f.svc.RemoveAdviser(ctx, "10-A", "term-1", "reg-1"), appErrors.ErrNotFound)

	replaced, err := f.svc.AssignAdviser(ctx, AssignAdviserRequest{FacultyID: "fac-2", SectionID: "10-A", TermID: "term-1"}, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "fac-2", replaced.FacultyID)

	assert.Equal(t, []string{
		models.AuditActionAdviserAssign,
		models.AuditActionAdviserRemove,
		models.AuditActionAdviserAssign,
	}, f.audit.actions())

	_, err = f.svc.AssignAdviser(ctx, AssignAdviserRequest{FacultyID: "fac-1", SectionID: "10-B", TermID: "term-old"}, "reg-1")
	assert.ErrorIs(t, err, appErrors.ErrTermInactive)
}

func TestAssignAdviserConcurrentSingleWinner(t *testing.T) {
	f := newLoadFixture(5)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  = map[string]bool{}
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			facultyID := fmt.Sprintf("fac-%d", i)
			adviser, err := f.svc.AssignAdviser(ctx, AssignAdviserRequest{FacultyID: facultyID, SectionID: "11-C", TermID: "term-1"}, "reg-1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			winners[adviser.FacultyID] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, winners, 1)
	assert.Equal(t, 9, rejected)
}
