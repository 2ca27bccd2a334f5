// Package history records test verdicts in SQLite and grades test health
// across runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/uqdev/internal/clock"
	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/verdict"
)

// FileName is the database file under the results directory.
const FileName = "history.db"

// Execution is one recorded verdict.
type Execution struct {
	RunID        string
	Test         string
	Verdict      verdict.Kind
	Duration     time.Duration
	FailLocation string
	Message      string
	RecordedAt   time.Time
}

// TestHealth is the computed view of a test across its executions.
type TestHealth struct {
	Test         string
	PassCount    int
	FailCount    int
	TimeoutCount int
	TotalRuns    int
	PassRate     float64
	LastRun      time.Time
	LastVerdict  verdict.Kind
	Grade        string
	Streak       int
	AvgDuration  time.Duration
	MaxDuration  time.Duration
}

// Store is the verdict database.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	clock  clock.Clock
}

// Open opens or creates the database at path. Use ":memory:" for an
// in-memory store.
func Open(path string, logger *logging.Logger, clk clock.Clock) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = logging.WithComponent("history")
	}
	s := &Store{db: db, logger: logger, clock: clock.OrReal(clk)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			config_path TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			passed      INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			timed_out   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS executions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL REFERENCES runs(run_id),
			test          TEXT NOT NULL,
			verdict       TEXT NOT NULL,
			duration_ms   INTEGER NOT NULL,
			fail_location TEXT NOT NULL DEFAULT '',
			message       TEXT NOT NULL DEFAULT '',
			recorded_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_executions_test ON executions(test, id);
	`)
	return err
}

// RecordRun stores every result of one run in a single transaction.
func (s *Store) RecordRun(ctx context.Context, runID, configPath string, results []verdict.Result) error {
	now := s.clock.Now()
	passed, failed, timedOut := verdict.Counts(results)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, config_path, started_at, passed, failed, timed_out) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, configPath, now.UnixMilli(), passed, failed, timedOut,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range results {
		var loc, msg string
		if r.Fail != nil {
			loc = r.Fail.Location()
			msg = r.Fail.Test
		} else if r.Err != nil {
			msg = r.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO executions (run_id, test, verdict, duration_ms, fail_location, message, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Name, string(r.Kind), r.Duration.Milliseconds(), loc, msg, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debug("run recorded", "run_id", runID, "tests", len(results))
	return nil
}

// Executions returns a test's executions, oldest first.
func (s *Store) Executions(ctx context.Context, test string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, test, verdict, duration_ms, fail_location, message, recorded_at
		 FROM executions WHERE test = ? ORDER BY id`, test)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// AllExecutions returns every execution grouped by test, oldest first.
func (s *Store) AllExecutions(ctx context.Context) (map[string][]Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, test, verdict, duration_ms, fail_location, message, recorded_at
		 FROM executions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	all, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	byTest := make(map[string][]Execution)
	for _, e := range all {
		byTest[e.Test] = append(byTest[e.Test], e)
	}
	return byTest, nil
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	var out []Execution
	for rows.Next() {
		var e Execution
		var kind string
		var durMS, recorded int64
		if err := rows.Scan(&e.RunID, &e.Test, &kind, &durMS, &e.FailLocation, &e.Message, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Verdict = verdict.Kind(kind)
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.RecordedAt = time.UnixMilli(recorded)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Streak returns the current run of consecutive passes for test.
func (s *Store) Streak(ctx context.Context, test string) (int, error) {
	execs, err := s.Executions(ctx, test)
	if err != nil {
		return 0, err
	}
	return streak(execs), nil
}

// Health computes per-test health, worst grade first.
func (s *Store) Health(ctx context.Context) ([]TestHealth, error) {
	byTest, err := s.AllExecutions(ctx)
	if err != nil {
		return nil, err
	}
	health := make([]TestHealth, 0, len(byTest))
	for test, execs := range byTest {
		health = append(health, computeHealth(test, execs))
	}
	sortHealth(health)
	return health, nil
}

func computeHealth(test string, execs []Execution) TestHealth {
	h := TestHealth{Test: test}
	var passTotal time.Duration
	for _, e := range execs {
		h.TotalRuns++
		switch e.Verdict {
		case verdict.Passed:
			h.PassCount++
			passTotal += e.Duration
		case verdict.TimedOut:
			h.TimeoutCount++
		default:
			h.FailCount++
		}
		if e.Duration > h.MaxDuration {
			h.MaxDuration = e.Duration
		}
	}
	if h.PassCount > 0 {
		h.AvgDuration = passTotal / time.Duration(h.PassCount)
	}
	if len(execs) > 0 {
		last := execs[len(execs)-1]
		h.LastRun = last.RecordedAt
		h.LastVerdict = last.Verdict
		h.PassRate = float64(h.PassCount) / float64(h.TotalRuns)
	}
	h.Streak = streak(execs)
	h.Grade = Grade(h.PassRate, h.TotalRuns)
	return h
}

// Grade maps a pass rate to A-F, or "?" with no runs.
func Grade(passRate float64, runs int) string {
	switch {
	case runs == 0:
		return "?"
	case passRate >= 0.95:
		return "A"
	case passRate >= 0.80:
		return "B"
	case passRate >= 0.50:
		return "C"
	case passRate >= 0.20:
		return "D"
	}
	return "F"
}

func streak(execs []Execution) int {
	n := 0
	for i := len(execs) - 1; i >= 0; i-- {
		if execs[i].Verdict != verdict.Passed {
			break
		}
		n++
	}
	return n
}

func sortHealth(health []TestHealth) {
	rank := map[string]int{"F": 0, "D": 1, "C": 2, "?": 3, "B": 4, "A": 5}
	sort.Slice(health, func(i, j int) bool {
		if rank[health[i].Grade] != rank[health[j].Grade] {
			return rank[health[i].Grade] < rank[health[j].Grade]
		}
		if health[i].PassRate != health[j].PassRate {
			return health[i].PassRate < health[j].PassRate
		}
		return health[i].Test < health[j].Test
	})
}
