package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/pkg/clock"
)

func TestExpirySweepDeactivatesPastTerms(t *testing.T) {
	store := newTermStoreStub(
		&models.Term{ID: "past", YearStart: 2024, YearEnd: 2025, Semester: models.SemesterSecond, IsActive: true,
			GradingDeadline: dateAt(2025, time.March, 28)},
		&models.Term{ID: "current", YearStart: 2025, YearEnd: 2026, Semester: models.SemesterFirst, IsActive: true,
			Q1End: dateAt(2025, time.August, 29), Q2End: dateAt(2025, time.October, 31)},
	)
	audit := &auditLogStub{}
	terms := NewTermService(store, audit, nil, nil, nil, nil)
	metrics := NewMetricsService()
	clk := clock.NewManual(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	svc := NewExpiryService(terms, clk, metrics, nil)

	expired, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// A second sweep finds nothing left to do.
	expired, err = svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	active, err := terms.IsActive(context.Background(), "current")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, []string{models.AuditActionTermExpire}, audit.actions())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.termsExpired))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.expirySweeps.WithLabelValues("ok")))

	clk.Set(time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC))
	expired, err = svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Zero(t, store.activeCount())
}

type expirerStub struct {
	ids     []string
	failing map[string]bool
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	expired []string
}

func (s *expirerStub) EvaluateExpiry(ctx context.Context, now time.Time) ([]string, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
		<-s.release
	}
	return s.ids, nil
}

func (s *expirerStub) Expire(ctx context.Context, id string) (bool, error) {
	if s.failing[id] {
		return false, errors.New("database unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, id)
	return true, nil
}

func TestExpirySweepContinuesPastFailures(t *testing.T) {
	stub := &expirerStub{ids: []string{"a", "b", "c"}, failing: map[string]bool{"b": true}}
	metrics := NewMetricsService()
	svc := NewExpiryService(stub, nil, metrics, nil)

	expired, err := svc.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire term b")
	assert.Equal(t, 2, expired)
	assert.Equal(t, []string{"a", "c"}, stub.expired)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.expirySweeps.WithLabelValues("error")))
}

func TestExpiryRunnerSkipsOverlappingRuns(t *testing.T) {
	stub := &expirerStub{ids: []string{"a"}, started: make(chan struct{}), release: make(chan struct{})}
	metrics := NewMetricsService()
	runner := NewExpiryService(stub, nil, metrics, nil).Runner(ExpiryConfig{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ran, err := runner.RunOnce(context.Background())
		assert.True(t, ran)
		assert.NoError(t, err)
	}()

	<-stub.started
	ran, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.expirySkipped))

	close(stub.release)
	<-done
	assert.Equal(t, []string{"a"}, stub.expired)
}
