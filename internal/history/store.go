// Package history persists finished runs to SQLite: one row per run,
// one per task outcome, one per metrics snapshot. The store is
// append-mostly; runs are never mutated after FinishRun.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ripplesched/ripple/internal/monitor"
	"github.com/ripplesched/ripple/internal/scheduler"
	_ "modernc.org/sqlite"
)

// Run is one scheduler execution.
type Run struct {
	ID         string
	PlanName   string
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Blocked    int
	Score      float64
}

// Outcome is one task's final result within a run.
type Outcome struct {
	RunID    string
	TaskID   string
	AgentID  string
	Success  bool
	Reason   string
	Duration time.Duration
	Error    string
}

// Store is the persistence interface for run history.
type Store interface {
	BeginRun(ctx context.Context, planName string) (runID string, err error)
	FinishRun(ctx context.Context, runID string, sum scheduler.Summary) error
	SaveOutcome(ctx context.Context, runID string, r scheduler.Result) error
	SaveSnapshot(ctx context.Context, runID string, snap monitor.Snapshot, score float64) error

	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetOutcomes(ctx context.Context, runID string) ([]Outcome, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at
// the given path, with WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite needs foreign keys enabled per connection.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory store for testing. A shared
// cache lets multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		plan_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		blocked INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		reason TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_outcomes_run_id ON task_outcomes(run_id);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		throughput REAL NOT NULL,
		avg_latency_ms INTEGER NOT NULL,
		utilization REAL NOT NULL,
		error_rate REAL NOT NULL,
		score REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_run_id ON snapshots(run_id, taken_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
