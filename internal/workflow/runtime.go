package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"weaver/internal/logging"
	"weaver/internal/storage"
)

// Runtime is the workflow registry plus scheduler (spec.md §4.4
// "Registry & lifecycle"). One Runtime is constructed per process and
// shares the cache's *storage.DB connection.
type Runtime struct {
	store *store
	sem   *semaphore.Weighted
	events *eventBus

	baseCtx    context.Context
	shutdownFn context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	registrations map[string]Registration
	waiters       map[string]chan Result
	cancelFlags   map[string]*atomic.Bool

	retention time.Duration
}

// New constructs a Runtime bounded to maxInflight concurrent runs
// (MAX_INFLIGHT_RUNS), persisting to db, retaining terminal runs for
// retention before garbage collection.
func New(db *storage.DB, maxInflight int, retention time.Duration) *Runtime {
	if maxInflight < 1 {
		maxInflight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		store:         newStore(db),
		sem:           semaphore.NewWeighted(int64(maxInflight)),
		events:        newEventBus(),
		baseCtx:       ctx,
		shutdownFn:    cancel,
		registrations: make(map[string]Registration),
		waiters:       make(map[string]chan Result),
		cancelFlags:   make(map[string]*atomic.Bool),
		retention:     retention,
	}
}

// Register adds a workflow registration (spec.md §4.4 "Workflows are
// registered at startup").
func (r *Runtime) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[reg.ID] = reg
}

// Registrations returns a snapshot of all registered workflows, for the
// list_workflows MCP tool.
func (r *Runtime) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, reg)
	}
	return out
}

// Start allocates a run_id, persists the start record, and schedules
// execution (spec.md §4.4). If MAX_INFLIGHT_RUNS is already saturated,
// it returns ErrQueueFull rather than blocking, so the Event Router and
// MCP tool surface can record a drop metric and continue (spec.md §4.6).
func (r *Runtime) Start(workflowID string, input any) (string, error) {
	r.mu.Lock()
	reg, ok := r.registrations[workflowID]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encoding workflow input: %w", err)
	}

	runID := uuid.NewString()
	run := Run{
		RunID:        runID,
		WorkflowID:   workflowID,
		InputPayload: string(payload),
		Status:       RunRunning,
		StartedAt:    time.Now(),
	}
	if err := r.store.createRun(run); err != nil {
		return "", err
	}

	if !r.sem.TryAcquire(1) {
		// Queue is saturated. The run row is marked failed so Resume does
		// not pick it up later, and the caller is told the start was
		// rejected, per spec.md §4.6.
		_ = r.store.finishRun(runID, RunFailed, time.Now())
		return runID, ErrQueueFull
	}

	r.launch(reg, run)
	return runID, nil
}

// resumeOne relaunches an interrupted run without consulting the queue
// rejection path — resumption always proceeds (spec.md P5).
func (r *Runtime) resumeOne(run Run) {
	r.mu.Lock()
	reg, ok := r.registrations[run.WorkflowID]
	r.mu.Unlock()
	if !ok {
		logging.WorkflowDebug("cannot resume run %s: workflow %q no longer registered", run.RunID, run.WorkflowID)
		_ = r.store.finishRun(run.RunID, RunFailed, time.Now())
		return
	}
	if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
		return
	}
	r.launch(reg, run)
}

// Resume re-schedules every run left in a non-terminal state by a prior
// process (spec.md §4.4 "Durability", scenario 4 "Crash mid-workflow").
// Call once at startup after Register has populated every workflow the
// binary knows about.
func (r *Runtime) Resume() error {
	runs, err := r.store.runningRuns()
	if err != nil {
		return fmt.Errorf("listing interrupted runs: %w", err)
	}
	for _, run := range runs {
		logging.Workflow("resuming interrupted run %s (workflow %s)", run.RunID, run.WorkflowID)
		r.resumeOne(run)
	}
	return nil
}

func (r *Runtime) launch(reg Registration, run Run) {
	flag := &atomic.Bool{}
	r.mu.Lock()
	r.waiters[run.RunID] = make(chan Result, 1)
	r.cancelFlags[run.RunID] = flag
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		r.execute(reg, run, flag)
	}()
}

func (r *Runtime) execute(reg Registration, run Run, cancelFlag *atomic.Bool) {
	var input any
	if run.InputPayload != "" {
		_ = json.Unmarshal([]byte(run.InputPayload), &input)
	}

	runCtx := &RunContext{
		ctx:       r.baseCtx,
		runID:     run.RunID,
		store:     r.store,
		cancelled: cancelFlag,
		events:    r.events,
	}

	timer := logging.StartTimer(logging.CategoryWorkflow, "run:"+run.WorkflowID)
	output, err := reg.Handler(runCtx, input)
	timer.Stop()

	status := RunCompleted
	if err != nil {
		status = RunFailed
		logging.Workflow("run %s (%s) failed: %v", run.RunID, run.WorkflowID, err)
	} else {
		logging.Workflow("run %s (%s) completed", run.RunID, run.WorkflowID)
	}
	if cancelErr := cancelFlag.Load(); cancelErr && err == nil {
		status = RunFailed
		err = ErrCancelled
	}

	if finishErr := r.store.finishRun(run.RunID, status, time.Now()); finishErr != nil {
		logging.WorkflowDebug("persisting run %s terminal state: %v", run.RunID, finishErr)
	}

	r.mu.Lock()
	ch := r.waiters[run.RunID]
	r.mu.Unlock()
	if ch != nil {
		ch <- Result{RunID: run.RunID, Status: status, Output: output, Err: err}
		close(ch)
	}
}

// Await blocks until the run reaches a terminal state or ctx is done
// (spec.md §4.4 "return_value(run_id)"). Safe to call from a process
// that did not itself call Start, as long as the run is still tracked
// in this Runtime's in-memory waiters (i.e. it was started or resumed
// by this process instance).
func (r *Runtime) Await(ctx context.Context, runID string) (Result, error) {
	r.mu.Lock()
	ch, ok := r.waiters[runID]
	r.mu.Unlock()
	if !ok {
		run, err := r.store.getRun(runID)
		if err != nil {
			return Result{}, err
		}
		if run.Status == RunCompleted || run.Status == RunFailed {
			return Result{RunID: runID, Status: run.Status}, nil
		}
		return Result{}, fmt.Errorf("%w: run %s not tracked by this process", ErrRunNotFound, runID)
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel sets the cooperative cancellation flag for a run (spec.md §4.4
// "Cancellation"): the in-flight step finishes or hits its timeout, then
// the run transitions to failed.
func (r *Runtime) Cancel(runID string) error {
	r.mu.Lock()
	flag, ok := r.cancelFlags[runID]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	flag.Store(true)
	return nil
}

// PublishEvent delivers an event to a run waiting on it via
// RunContext.WaitForEvent.
func (r *Runtime) PublishEvent(runID, name string, payload any) {
	r.events.publish(runID, name, payload)
}

// GetTrace returns the ordered step records for a run (spec.md §4.4
// "Observability").
func (r *Runtime) GetTrace(runID string) ([]StepRecord, error) {
	return r.store.stepsForRun(runID)
}

// GetRun returns the persisted run row.
func (r *Runtime) GetRun(runID string) (*Run, error) {
	return r.store.getRun(runID)
}

// GC deletes terminal runs older than the configured retention window.
// It runs only when called; nothing in this module calls it on a
// schedule, so old runs stay in the database until a caller invokes GC.
func (r *Runtime) GC() (int64, error) {
	return r.store.gcOlderThan(time.Now().Add(-r.retention))
}

// Shutdown cancels the base context (unblocking any in-flight Sleep/
// WaitForEvent/step timeouts) and waits for all in-flight runs to
// observe it and return.
func (r *Runtime) Shutdown(wait time.Duration) {
	r.shutdownFn()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
	}
}
