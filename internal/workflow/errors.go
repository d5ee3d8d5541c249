package workflow

import "errors"

// ErrUnknownWorkflow is returned by Start when no registration exists for
// the given workflow id.
var ErrUnknownWorkflow = errors.New("workflow: unknown workflow id")

// ErrStepFailed is wrapped around the last attempt's error when a Step
// has used up all its attempts. A handler that returns that error fails
// the run (spec.md §4.4 "Workflow body throws uncaught").
var ErrStepFailed = errors.New("workflow: step failed")

// ErrRunNotFound is returned by Await/Cancel for an unknown run id.
var ErrRunNotFound = errors.New("workflow: run not found")

// ErrQueueFull is returned by Start when MAX_INFLIGHT_RUNS is already
// saturated and the run cannot be scheduled (spec.md §4.6 "the workflow
// runtime rejects a start").
var ErrQueueFull = errors.New("workflow: inflight run queue full")

// ErrCancelled marks a run that was externally cancelled (spec.md §4.4
// "Cancellation").
var ErrCancelled = errors.New("workflow: run cancelled")
