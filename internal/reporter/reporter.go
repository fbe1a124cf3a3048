// Package reporter periodically evaluates module readiness and logs the
// result.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/bootready"
)

// DefaultSchedule checks readiness every thirty seconds.
const DefaultSchedule = "@every 30s"

var (
	ErrInvalidSchedule = errors.New("invalid report schedule")
	ErrNilChecker      = errors.New("readiness checker is required")
)

// Checker evaluates module readiness once.
type Checker interface {
	CheckModules(ctx context.Context) ([]bootready.ModuleDiagnostic, error)
}

// Report is the result of one readiness check.
type Report struct {
	CheckedAt time.Time
	Ready     bool
	Inactive  []bootready.ModuleDiagnostic
	Err       error
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger reports are written to.
func WithLogger(logger bootready.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHandler registers a callback invoked after every check.
func WithHandler(fn func(Report)) Option {
	return func(r *Reporter) {
		if fn != nil {
			r.handlers = append(r.handlers, fn)
		}
	}
}

// Reporter runs readiness checks on a cron schedule.
type Reporter struct {
	checker  Checker
	schedule string
	logger   bootready.Logger
	handlers []func(Report)

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	last    *Report
	runs    int
}

// New creates a Reporter. schedule accepts standard cron expressions and
// descriptors such as "@every 1m"; empty means DefaultSchedule.
func New(checker Checker, schedule string, opts ...Option) (*Reporter, error) {
	if checker == nil {
		return nil, ErrNilChecker
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	r := &Reporter{
		checker:  checker,
		schedule: schedule,
		logger:   nopLogger{},
		cron:     cron.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := r.cron.AddFunc(schedule, r.scheduled); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, schedule, err)
	}
	return r, nil
}

func (r *Reporter) scheduled() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	r.RunOnce(ctx)
}

// Start schedules the checks. Checks run with a context derived from ctx.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.started = true
	r.logger.Info("Starting readiness reporter", "schedule", r.schedule)
	return nil
}

// Stop cancels in-flight checks and waits for them to return or for ctx to
// be done.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	cronCtx := r.cron.Stop()
	r.mu.Unlock()

	select {
	case <-cronCtx.Done():
		r.logger.Info("Readiness reporter stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop readiness reporter: %w", ctx.Err())
	}
}

// RunOnce performs one check, logs it and hands it to the handlers.
func (r *Reporter) RunOnce(ctx context.Context) Report {
	inactive, err := r.checker.CheckModules(ctx)
	report := Report{
		CheckedAt: time.Now(),
		Ready:     err == nil && len(inactive) == 0,
		Inactive:  inactive,
		Err:       err,
	}

	switch {
	case report.Ready:
		r.logger.Info("Runtime ready")
	case err != nil:
		r.logger.Error("Readiness check failed", "error", err, "inactive", len(inactive))
		for _, d := range inactive {
			r.logger.Error(d.String())
		}
	default:
		r.logger.Warn("Runtime not ready", "inactive", len(inactive))
		for _, d := range inactive {
			r.logger.Warn(d.String())
		}
	}

	r.mu.Lock()
	r.last = &report
	r.runs++
	handlers := r.handlers
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(report)
	}
	return report
}

// Last returns the most recent report, if any check has run.
func (r *Reporter) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Runs returns the number of checks performed.
func (r *Reporter) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
