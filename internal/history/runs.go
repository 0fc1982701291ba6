package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ripplesched/ripple/internal/monitor"
	"github.com/ripplesched/ripple/internal/scheduler"
)

const queryTimeout = 5 * time.Second

// BeginRun inserts a new run row and returns its generated ID.
func (s *SQLiteStore) BeginRun(ctx context.Context, planName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, plan_name, started_at)
		VALUES (?, ?, ?)
	`, runID, planName, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// FinishRun records the final summary on the run row.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, sum scheduler.Summary) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, completed = ?, failed = ?, blocked = ?, score = ?
		WHERE id = ?
	`, time.Now().UTC(), sum.Completed, sum.Failed, sum.Blocked, sum.Score, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no run with id %q", runID)
	}
	return nil
}

// SaveOutcome appends one task result to the run.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, runID string, r scheduler.Result) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (run_id, task_id, agent_id, success, reason, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, r.TaskID, r.AgentID, r.Success, r.Reason, r.Duration.Milliseconds(), errText)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// SaveSnapshot appends one metrics observation to the run.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID string, snap monitor.Snapshot, score float64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, taken_at, throughput, avg_latency_ms, utilization, error_rate, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, snap.Timestamp.UTC(), snap.Throughput, snap.AvgLatency.Milliseconds(), snap.Utilization, snap.ErrorRate, score)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A non-positive
// limit returns everything.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1 // sqlite treats negative LIMIT as unlimited
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_name, started_at, finished_at, completed, failed, blocked, score
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_name, started_at, finished_at, completed, failed, blocked, score
		FROM runs
		WHERE id = ?
	`, runID)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no run with id %q: %w", runID, err)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetOutcomes returns the task outcomes of a run in insertion order.
func (s *SQLiteStore) GetOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, agent_id, success, reason, duration_ms, error
		FROM task_outcomes
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []Outcome{}
	for rows.Next() {
		var o Outcome
		var durationMS int64
		if err := rows.Scan(&o.RunID, &o.TaskID, &o.AgentID, &o.Success, &o.Reason, &durationMS, &o.Error); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.PlanName, &r.StartedAt, &finished, &r.Completed, &r.Failed, &r.Blocked, &r.Score); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}
