package workflow

import (
	"database/sql"
	"fmt"
	"time"

	"weaver/internal/storage"
)

// store is the SQLite-backed persistence layer for runs and step
// records, sharing the same *storage.DB connection the shadow cache
// uses (DESIGN.md's Open Question decision: one CACHE_PATH file for
// both table groups).
type store struct {
	db *storage.DB
}

func newStore(db *storage.DB) *store {
	return &store{db: db}
}

func (s *store) createRun(run Run) error {
	_, err := s.db.Conn.Exec(
		`INSERT INTO workflow_runs (run_id, workflow_id, input_payload, status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		run.RunID, run.WorkflowID, run.InputPayload, string(run.Status), run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("persisting run start: %w", err)
	}
	return nil
}

func (s *store) finishRun(runID string, status RunStatus, finishedAt time.Time) error {
	_, err := s.db.Conn.Exec(
		`UPDATE workflow_runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		string(status), finishedAt.Unix(), runID)
	return err
}

func (s *store) getRun(runID string) (*Run, error) {
	var r Run
	var statusStr string
	var startedAt int64
	var finishedAt sql.NullInt64
	err := s.db.Conn.QueryRow(
		`SELECT run_id, workflow_id, input_payload, status, started_at, finished_at
		 FROM workflow_runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.WorkflowID, &r.InputPayload, &statusStr, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(statusStr)
	r.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// runningRuns lists every run still in a non-terminal status, used on
// startup to resume interrupted runs (spec.md §4.4 "Durability",
// P5 resumability).
func (s *store) runningRuns() ([]Run, error) {
	rows, err := s.db.Conn.Query(
		`SELECT run_id, workflow_id, input_payload, status, started_at, finished_at
		 FROM workflow_runs WHERE status IN (?, ?)`,
		string(RunRunning), string(RunSuspended))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var statusStr string
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &r.InputPayload, &statusStr, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.Status = RunStatus(statusStr)
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// completedStep returns the persisted completed record for (runID,
// stepName), or nil if none exists yet. This is the lookup
// RunContext.Step consults before invoking fn — the heart of P4
// (step exactly-completed-once).
func (s *store) completedStep(runID, stepName string) (*StepRecord, error) {
	var rec StepRecord
	var statusStr string
	var attempt int
	var result, errStr sql.NullString
	var completedAt sql.NullInt64
	err := s.db.Conn.QueryRow(
		`SELECT run_id, step_name, attempt, status, result_payload, error, completed_at
		 FROM workflow_steps WHERE run_id = ? AND step_name = ? AND status = ?`,
		runID, stepName, string(StepCompleted),
	).Scan(&rec.RunID, &rec.StepName, &attempt, &statusStr, &result, &errStr, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Attempt = attempt
	rec.Status = StepStatus(statusStr)
	rec.ResultPayload = result.String
	rec.Error = errStr.String
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// recordStep upserts the (runID, stepName) row. Because the primary key
// is (run_id, step_name), a later failed attempt never overwrites an
// earlier completed one in a way that loses the completed result — callers
// only call recordStep with a completed status once completedStep has
// already returned nil for that pair within the same attempt sequence.
func (s *store) recordStep(rec StepRecord) error {
	var completedAt sql.NullInt64
	if rec.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: rec.CompletedAt.Unix(), Valid: true}
	}
	_, err := s.db.Conn.Exec(
		`INSERT INTO workflow_steps (run_id, step_name, attempt, status, result_payload, error, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_name) DO UPDATE SET
			attempt = excluded.attempt,
			status = excluded.status,
			result_payload = excluded.result_payload,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		rec.RunID, rec.StepName, rec.Attempt, string(rec.Status), rec.ResultPayload, rec.Error, completedAt)
	return err
}

// stepsForRun returns the ordered step trace for a run (spec.md §4.4
// "Observability" — the time-travel trace).
func (s *store) stepsForRun(runID string) ([]StepRecord, error) {
	rows, err := s.db.Conn.Query(
		`SELECT run_id, step_name, attempt, status, result_payload, error, completed_at
		 FROM workflow_steps WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var rec StepRecord
		var statusStr string
		var result, errStr sql.NullString
		var completedAt sql.NullInt64
		if err := rows.Scan(&rec.RunID, &rec.StepName, &rec.Attempt, &statusStr, &result, &errStr, &completedAt); err != nil {
			return nil, err
		}
		rec.Status = StepStatus(statusStr)
		rec.ResultPayload = result.String
		rec.Error = errStr.String
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			rec.CompletedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// gcOlderThan deletes completed/failed runs (and their cascaded steps)
// whose finished_at predates the cutoff, backing STEP_RETENTION_DAYS.
func (s *store) gcOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Conn.Exec(
		`DELETE FROM workflow_runs WHERE finished_at IS NOT NULL AND finished_at < ? AND status IN (?, ?)`,
		cutoff.Unix(), string(RunCompleted), string(RunFailed))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
