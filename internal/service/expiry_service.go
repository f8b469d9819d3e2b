package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-registrar-core/pkg/clock"
	"github.com/noah-isme/sma-registrar-core/pkg/jobs"
)

type termExpirer interface {
	EvaluateExpiry(ctx context.Context, now time.Time) ([]string, error)
	Expire(ctx context.Context, id string) (bool, error)
}

// ExpiryConfig tunes the expiry sweep runner.
type ExpiryConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ExpiryService deactivates terms whose end boundary has passed. It never
// touches loads, advisers or grades; those check the term state on write.
type ExpiryService struct {
	terms   termExpirer
	clock   clock.Clock
	metrics *MetricsService
	logger  *zap.Logger
}

// NewExpiryService constructs the service.
func NewExpiryService(terms termExpirer, clk clock.Clock, metrics *MetricsService, logger *zap.Logger) *ExpiryService {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryService{terms: terms, clock: clk, metrics: metrics, logger: logger}
}

// Sweep runs one expiry pass and returns how many terms it deactivated.
// Terms that fail to deactivate are retried on the next pass.
func (s *ExpiryService) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.clock.Now()

	ids, err := s.terms.EvaluateExpiry(ctx, now)
	if err != nil {
		s.metrics.RecordExpirySweep(0, err, time.Since(start))
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		changed, err := s.terms.Expire(ctx, id)
		if err != nil {
			s.logger.Warn("failed to expire term", zap.String("term_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("expire term %s: %w", id, err))
			continue
		}
		if changed {
			expired++
			s.logger.Info("term expired", zap.String("term_id", id), zap.Time("evaluated_at", now))
		}
	}

	sweepErr := errors.Join(errs...)
	s.metrics.RecordExpirySweep(expired, sweepErr, time.Since(start))
	return expired, sweepErr
}

// Runner wraps Sweep in a periodic job that skips ticks while a sweep is in flight.
func (s *ExpiryService) Runner(cfg ExpiryConfig) *jobs.Periodic {
	task := func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}
	return jobs.NewPeriodic("term-expiry", task, jobs.PeriodicConfig{
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		RunOnStart: true,
		Logger:     s.logger,
		OnSkip:     s.metrics.RecordExpirySkipped,
	})
}
