// Package workflow implements the durable, step-checkpointed workflow
// runtime (spec.md §4.4): named, versioned handlers composed of steps
// whose persisted outcome is written at most once, resumable across
// process restarts.
package workflow

import "time"

// RunStatus is the lifecycle state of one workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSuspended RunStatus = "suspended"
)

// StepStatus is the lifecycle state of one step attempt record.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Run is the persisted row for one workflow execution (spec.md §3
// "Workflow Run").
type Run struct {
	RunID        string
	WorkflowID   string
	InputPayload string // JSON
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// StepRecord is the persisted row for one step of a run (spec.md §3
// "Workflow Step Record"). A completed record is proof the step executed
// at most once successfully.
type StepRecord struct {
	RunID         string
	StepName      string
	Attempt       int
	Status        StepStatus
	ResultPayload string // JSON
	Error         string
	CompletedAt   *time.Time
}

// Backoff describes the delay between step retry attempts.
type Backoff struct {
	Fixed       time.Duration // used when Exponential is false
	Exponential bool
	Base        time.Duration
	Max         time.Duration
}

// Delay returns the wait after the given (1-indexed) attempt has failed,
// before the next attempt starts.
func (b Backoff) Delay(attempt int) time.Duration {
	if !b.Exponential {
		return b.Fixed
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d > b.Max {
			return b.Max
		}
	}
	return d
}

// StepOptions configures a single Step call.
type StepOptions struct {
	Retries int
	Backoff Backoff
	Timeout time.Duration
}

// DefaultStepOptions is used when callers pass the zero value.
func DefaultStepOptions() StepOptions {
	return StepOptions{
		Retries: 0,
		Backoff: Backoff{Fixed: 0},
		Timeout: 0,
	}
}

// Handler is the body of a registered workflow: an ordinary procedure
// that delegates suspension points to ctx. Re-expressed here as a plain
// function rather than the source's decorated async function (spec.md
// §9 "Workflow control flow").
type Handler func(ctx *RunContext, input any) (any, error)

// Registration binds a workflow id/version to its handler and the event
// kinds that may trigger it (spec.md §4.4 "Registry & lifecycle").
type Registration struct {
	ID       string
	Version  string
	Handler  Handler
	Triggers []string
}

// Result is the terminal outcome of a run, returned by Await
// (spec.md §4.4's return_value(run_id) handle).
type Result struct {
	RunID  string
	Status RunStatus
	Output any
	Err    error
}
