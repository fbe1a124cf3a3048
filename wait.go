package bootready

import (
	"context"
	"time"
)

// Condition is a readiness probe. It must be a bounded, non-blocking read of
// runtime state. Returning an error aborts the wait immediately.
type Condition func(ctx context.Context) (bool, error)

// Waiter repeatedly evaluates a Condition until it holds or a deadline
// passes. It blocks the calling goroutine; there is no worker pool.
type Waiter struct {
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewWaiter creates a Waiter. Nil logger and metrics are replaced by no-ops.
func NewWaiter(logger Logger, metrics MetricsCollector) *Waiter {
	if logger == nil {
		logger = nopLogger{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Waiter{
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Wait evaluates cond until it returns true or more than maxWait has elapsed
// since the call began.
//
// The first evaluation happens before any sleep, and at least one evaluation
// happens even when maxWait is zero. An error from cond is returned
// unchanged with OutcomeFailed. Cancelling ctx while sleeping returns
// OutcomeFailed with an ErrInterrupted MonitorError.
func (w *Waiter) Wait(ctx context.Context, name string, cond Condition, maxWait, pollInterval time.Duration) (Outcome, error) {
	return w.WaitOrSignal(ctx, name, cond, nil, maxWait, pollInterval)
}

// WaitOrSignal is Wait with an optional signal channel. A receive on signal
// (or its closing) cuts the current sleep short so the condition is
// re-evaluated immediately. The signal is consumed once.
func (w *Waiter) WaitOrSignal(ctx context.Context, name string, cond Condition, signal <-chan struct{}, maxWait, pollInterval time.Duration) (Outcome, error) {
	start := w.now()
	polls := 0
	w.logger.Debug("Waiting for condition", "wait", name, "maxWait", maxWait, "pollInterval", pollInterval)

	finish := func(outcome Outcome, err error) (Outcome, error) {
		elapsed := w.now().Sub(start)
		w.metrics.ObserveWait(name, outcome, elapsed, polls)
		w.logger.Debug("Wait finished", "wait", name, "outcome", outcome, "elapsed", elapsed, "polls", polls)
		return outcome, err
	}

	for {
		polls++
		ok, err := cond(ctx)
		if err != nil {
			return finish(OutcomeFailed, err)
		}
		if ok {
			return finish(OutcomeReady, nil)
		}

		signaled, err := w.sleep(ctx, pollInterval, signal)
		if err != nil {
			return finish(OutcomeFailed, newError(KindInterrupted, name, err, "interrupted while waiting"))
		}
		if signaled {
			signal = nil
			continue
		}

		if w.now().Sub(start) > maxWait {
			return finish(OutcomeTimedOut, nil)
		}
	}
}

// sleep blocks for d, returning early when signal fires or ctx is done.
func (w *Waiter) sleep(ctx context.Context, d time.Duration, signal <-chan struct{}) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false, nil
	case <-signal:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
