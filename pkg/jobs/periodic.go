package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is the unit of work run on every tick.
type Task func(ctx context.Context) error

// PeriodicConfig configures a Periodic runner.
type PeriodicConfig struct {
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run inherits the runner context.
	Timeout time.Duration
	// RunOnStart triggers one run immediately after Start.
	RunOnStart bool
	Logger     *zap.Logger
	// OnSkip is called when a tick fires while the previous run is still in flight.
	OnSkip func()
}

// Periodic runs a task on a fixed interval and never overlaps itself: a tick
// arriving while a run is in flight is skipped, not queued.
type Periodic struct {
	name     string
	task     Task
	interval time.Duration
	timeout  time.Duration
	onStart  bool
	onSkip   func()
	logger   *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPeriodic builds a runner for task.
func NewPeriodic(name string, task Task, cfg PeriodicConfig) *Periodic {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Periodic{
		name:     name,
		task:     task,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		onStart:  cfg.RunOnStart,
		onSkip:   cfg.OnSkip,
		logger:   cfg.Logger,
	}
}

// Start launches the ticker loop. Safe to call once; later calls are ignored.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	p.wg.Add(1)
	go p.loop(runCtx)
	p.logger.Sugar().Infow("periodic job started", "job", p.name, "interval", p.interval.String())
}

// Stop cancels the loop and waits for an in-flight run to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.started = false
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Sugar().Infow("periodic job stopped", "job", p.name)
}

// RunOnce executes the task unless a run is already in flight. It reports
// whether the task was executed.
func (p *Periodic) RunOnce(ctx context.Context) (bool, error) {
	if !p.running.CompareAndSwap(false, true) {
		if p.onSkip != nil {
			p.onSkip()
		}
		p.logger.Sugar().Debugw("periodic job skipped, previous run in flight", "job", p.name)
		return false, nil
	}
	defer p.running.Store(false)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.task(ctx)
	if err != nil {
		p.logger.Sugar().Errorw("periodic job failed", "job", p.name, "duration", time.Since(start).String(), "error", err)
		return true, err
	}
	p.logger.Sugar().Debugw("periodic job finished", "job", p.name, "duration", time.Since(start).String())
	return true, nil
}

func (p *Periodic) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if p.onStart {
		p.fire(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fire(ctx)
		}
	}
}

// fire runs the task in its own goroutine so a slow run cannot delay the
// ticker; overlapping ticks are dropped by RunOnce.
func (p *Periodic) fire(ctx context.Context) {
	if p.running.Load() {
		_, _ = p.RunOnce(ctx)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _ = p.RunOnce(ctx)
	}()
}
