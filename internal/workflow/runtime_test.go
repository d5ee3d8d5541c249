package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weaver/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAwaitCompleted(t *testing.T) {
	rt := New(openTestDB(t), 4, 24*time.Hour)
	rt.Register(Registration{
		ID: "noop",
		Handler: func(ctx *RunContext, input any) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	runID, err := rt.Start("noop", map[string]any{"path": "a.md"})
	require.NoError(t, err)

	res, err := rt.Await(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)

	run, err := rt.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
}

func TestStartUnknownWorkflow(t *testing.T) {
	rt := New(openTestDB(t), 4, 24*time.Hour)
	_, err := rt.Start("does-not-exist", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestStepNotReExecutedOnSecondRun(t *testing.T) {
	db := openTestDB(t)
	var calls int32

	rt := New(db, 4, 24*time.Hour)
	rt.Register(Registration{
		ID: "counts",
		Handler: func(ctx *RunContext, input any) (any, error) {
			return ctx.Step("increment", func(context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				return "done", nil
			}, DefaultStepOptions())
		},
	})

	runID, err := rt.Start("counts", nil)
	require.NoError(t, err)
	_, err = rt.Await(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Put the run row back to "running", as if the process had died after
	// the step completed but before the run was marked finished.
	_, err = db.Conn.Exec(`UPDATE workflow_runs SET status = ?, finished_at = NULL WHERE run_id = ?`,
		string(RunRunning), runID)
	require.NoError(t, err)

	// Simulate a crash and restart: a fresh Runtime sharing the same DB
	// resumes and must not re-invoke the already-completed step (P4/P5).
	rt2 := New(db, 4, 24*time.Hour)
	rt2.Register(Registration{
		ID: "counts",
		Handler: func(ctx *RunContext, input any) (any, error) {
			return ctx.Step("increment", func(context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				return "done-again", nil
			}, DefaultStepOptions())
		},
	})
	require.NoError(t, rt2.Resume())

	// Resume starts asynchronously; poll the trace instead of sleeping a
	// fixed duration.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := rt2.GetRun(runID)
		require.NoError(t, err)
		if run.Status == RunCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "step must not re-execute across resume")

	trace, err := rt2.GetTrace(runID)
	require.NoError(t, err)
	require.Len(t, trace, 1)
	assert.Equal(t, StepCompleted, trace[0].Status)
}

func TestStepRetriesThenFails(t *testing.T) {
	rt := New(openTestDB(t), 4, 24*time.Hour)
	var attempts int32
	rt.Register(Registration{
		ID: "flaky",
		Handler: func(ctx *RunContext, input any) (any, error) {
			return ctx.Step("always-fails", func(context.Context) (any, error) {
				atomic.AddInt32(&attempts, 1)
				return nil, errors.New("boom")
			}, StepOptions{Retries: 2})
		},
	})

	runID, err := rt.Start("flaky", nil)
	require.NoError(t, err)
	res, err := rt.Await(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrStepFailed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueFullRejectsStart(t *testing.T) {
	rt := New(openTestDB(t), 1, 24*time.Hour)
	block := make(chan struct{})
	rt.Register(Registration{
		ID: "blocker",
		Handler: func(ctx *RunContext, input any) (any, error) {
			<-block
			return nil, nil
		},
	})

	_, err := rt.Start("blocker", nil)
	require.NoError(t, err)

	_, err = rt.Start("blocker", nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
}

func TestCancelTransitionsToFailed(t *testing.T) {
	rt := New(openTestDB(t), 4, 24*time.Hour)
	started := make(chan struct{})
	rt.Register(Registration{
		ID: "cancellable",
		Handler: func(ctx *RunContext, input any) (any, error) {
			close(started)
			for !ctx.Cancelled() {
				time.Sleep(5 * time.Millisecond)
			}
			return nil, nil
		},
	})

	runID, err := rt.Start("cancellable", nil)
	require.NoError(t, err)
	<-started
	require.NoError(t, rt.Cancel(runID))

	res, err := rt.Await(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrCancelled)
}

func TestWaitForEventDelivers(t *testing.T) {
	rt := New(openTestDB(t), 4, 24*time.Hour)
	rt.Register(Registration{
		ID: "waiter",
		Handler: func(ctx *RunContext, input any) (any, error) {
			return ctx.WaitForEvent("go", 2*time.Second)
		},
	})

	runID, err := rt.Start("waiter", nil)
	require.NoError(t, err)

	// Give the run a moment to reach the wait point, then publish.
	time.Sleep(20 * time.Millisecond)
	rt.PublishEvent(runID, "go", "payload")

	res, err := rt.Await(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "payload", res.Output)
}
