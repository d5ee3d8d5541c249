package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"weaver/internal/logging"
)

// RunContext is the handle a workflow Handler uses to reach every
// suspension point named in spec.md §4.4/§5: Step, Sleep, and
// WaitForEvent. It transparently intercepts Step calls against the
// persisted step table so a resumed run never re-executes a completed
// step (P4/P5).
type RunContext struct {
	ctx        context.Context
	runID      string
	store      *store
	cancelled  *atomic.Bool
	stepCount  int
	events     *eventBus
}

// Context returns the underlying context.Context, carrying deadline and
// cancellation for callers that need to pass it to I/O operations.
func (c *RunContext) Context() context.Context {
	return c.ctx
}

// Cancelled reports whether this run has been externally cancelled
// (spec.md §4.4 "Cancellation") — checked at every suspension point.
func (c *RunContext) Cancelled() bool {
	return c.cancelled.Load()
}

// Step executes fn under the name given, or returns the previously
// persisted result if a completed record already exists for
// (run_id, name) — the "at most once persisted effect" contract
// (spec.md §4.4, P4).
func (c *RunContext) Step(name string, fn func(ctx context.Context) (any, error), opts StepOptions) (any, error) {
	if c.Cancelled() {
		return nil, ErrCancelled
	}
	c.stepCount++

	if rec, err := c.store.completedStep(c.runID, name); err != nil {
		return nil, fmt.Errorf("checking step %q: %w", name, err)
	} else if rec != nil {
		logging.WorkflowDebug("run %s: step %q already completed, skipping re-execution", c.runID, name)
		var out any
		if rec.ResultPayload != "" {
			if err := json.Unmarshal([]byte(rec.ResultPayload), &out); err != nil {
				return nil, fmt.Errorf("decoding cached result for step %q: %w", name, err)
			}
		}
		return out, nil
	}

	maxAttempts := opts.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.Cancelled() {
			return nil, ErrCancelled
		}

		stepCtx := c.ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(c.ctx, opts.Timeout)
		}
		result, err := fn(stepCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			payload, mErr := json.Marshal(result)
			if mErr != nil {
				return nil, fmt.Errorf("encoding result for step %q: %w", name, mErr)
			}
			now := time.Now()
			if err := c.store.recordStep(StepRecord{
				RunID: c.runID, StepName: name, Attempt: attempt,
				Status: StepCompleted, ResultPayload: string(payload), CompletedAt: &now,
			}); err != nil {
				return nil, fmt.Errorf("persisting step %q completion: %w", name, err)
			}
			return result, nil
		}

		lastErr = err
		_ = c.store.recordStep(StepRecord{
			RunID: c.runID, StepName: name, Attempt: attempt,
			Status: StepFailed, Error: err.Error(),
		})
		logging.WorkflowDebug("run %s: step %q attempt %d failed: %v", c.runID, name, attempt, err)

		if attempt < maxAttempts {
			delay := opts.Backoff.Delay(attempt)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-c.ctx.Done():
					return nil, c.ctx.Err()
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %q: %v", ErrStepFailed, name, lastErr)
}

// Sleep is a durable suspension point (spec.md §4.4): persisted as a
// step so that a run resumed after the sleep completed does not sleep
// again (the completed record short-circuits it). A crash mid-sleep
// leaves no completed record, so the resumed run sleeps the full
// duration again.
func (c *RunContext) Sleep(name string, d time.Duration) error {
	_, err := c.Step(name, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, DefaultStepOptions())
	return err
}

// WaitForEvent blocks until an event of the given name is published to
// this run (via the Runtime's event bus) or timeout elapses. Persisted
// as a step like Sleep so a resumed run that already observed the event
// does not wait again.
func (c *RunContext) WaitForEvent(name string, timeout time.Duration) (any, error) {
	return c.Step("wait_for_event:"+name, func(ctx context.Context) (any, error) {
		ch := c.events.subscribe(c.runID, name)
		defer c.events.unsubscribe(c.runID, name)

		var after <-chan time.Time
		if timeout > 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			after = t.C
		}
		select {
		case payload := <-ch:
			return payload, nil
		case <-after:
			return nil, fmt.Errorf("wait_for_event %q: timed out after %s", name, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, DefaultStepOptions())
}
