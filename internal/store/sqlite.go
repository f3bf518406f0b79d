package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/q2s/internal/simulation"
)

// ErrRunNotFound is returned when a run ID is not in the database.
var ErrRunNotFound = errors.New("q2s: run not found")

// Run is the metadata of one stored simulation run.
type Run struct {
	ID         string        `json:"id"`
	Experiment string        `json:"experiment"`
	Mode       string        `json:"mode"`
	Seed       uint64        `json:"seed"`
	Columns    []string      `json:"columns"`
	Total      int           `json:"total"`
	Evaluated  int           `json:"evaluated"`
	Infeasible int           `json:"infeasible"`
	Elapsed    time.Duration `json:"elapsed"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Finished reports whether FinishRun was called for the run.
func (r Run) Finished() bool { return r.FinishedAt != nil }

// ResultStore is a SQLite results database.
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.q2s/results.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".q2s", "results.db"), nil
}

// Open opens (creating if needed) the results database at path.
func Open(path string) (*ResultStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &ResultStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *ResultStore) Path() string { return s.path }

// Close closes the database.
func (s *ResultStore) Close() error { return s.db.Close() }

// CreateRun inserts run metadata and returns the new run ID. ID and
// CreatedAt are assigned here when empty.
func (s *ResultStore) CreateRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cols, err := json.Marshal(run.Columns)
	if err != nil {
		return "", fmt.Errorf("failed to encode columns: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, experiment, mode, seed, columns, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Experiment, run.Mode, int64(run.Seed), string(cols), run.Total,
		run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return run.ID, nil
}

// FinishRun records the final statistics of a run.
func (s *ResultStore) FinishRun(ctx context.Context, runID string, stats simulation.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET total = ?, evaluated = ?, infeasible = ?, elapsed_ms = ?, finished_at = ?
		WHERE id = ?`,
		stats.Total, stats.Evaluated, stats.Infeasible, stats.Elapsed.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// SaveRecords stores records for runID in one transaction.
func (s *ResultStore) SaveRecords(ctx context.Context, runID string, records []simulation.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scenarioStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scenario_results (run_id, scenario_id, alpha, settings, perturbation_score, valid_plans)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare scenario insert: %w", err)
	}
	defer scenarioStmt.Close()

	strategyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_results (run_id, scenario_id, strategy, plan_id, success, margin, outcome, ties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare strategy insert: %w", err)
	}
	defer strategyStmt.Close()

	for _, rec := range records {
		settings, err := json.Marshal(rec.Settings)
		if err != nil {
			return fmt.Errorf("failed to encode settings of scenario %d: %w", rec.ID, err)
		}
		if _, err := scenarioStmt.ExecContext(ctx, runID, rec.ID, rec.Alpha, string(settings), rec.PerturbationScore, rec.ValidPlans); err != nil {
			return fmt.Errorf("failed to insert scenario %d: %w", rec.ID, err)
		}
		for _, sr := range rec.Strategies {
			var margin sql.NullFloat64
			if sr.Margin != nil {
				margin = sql.NullFloat64{Float64: *sr.Margin, Valid: true}
			}
			if _, err := strategyStmt.ExecContext(ctx, runID, rec.ID, sr.Strategy, nullString(sr.PlanID),
				boolToInt(sr.Success), margin, string(sr.Outcome), sr.Ties); err != nil {
				return fmt.Errorf("failed to insert %s result of scenario %d: %w", sr.Strategy, rec.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetRun returns the metadata of one run.
func (s *ResultStore) GetRun(ctx context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns every run, newest first.
func (s *ResultStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, runColumns+` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently created run.
func (s *ResultStore) LatestRun(ctx context.Context) (Run, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrRunNotFound
	}
	return runs[0], nil
}

// LoadRecords returns the records of runID in scenario ID order.
func (s *ResultStore) LoadRecords(ctx context.Context, runID string) ([]simulation.Record, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario_id, alpha, settings, perturbation_score, valid_plans
		FROM scenario_results WHERE run_id = ? ORDER BY scenario_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}

	var records []simulation.Record
	index := make(map[int]int)
	for rows.Next() {
		var rec simulation.Record
		var settings string
		if err := rows.Scan(&rec.ID, &rec.Alpha, &settings, &rec.PerturbationScore, &rec.ValidPlans); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode settings of scenario %d: %w", rec.ID, err)
		}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows were inserted in strategy kind order.
	srows, err := s.db.QueryContext(ctx, `
		SELECT scenario_id, strategy, plan_id, success, margin, outcome, ties
		FROM strategy_results WHERE run_id = ? ORDER BY scenario_id, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var (
			id      int
			sr      simulation.StrategyRecord
			planID  sql.NullString
			success int
			margin  sql.NullFloat64
			outcome string
		)
		if err := srows.Scan(&id, &sr.Strategy, &planID, &success, &margin, &outcome, &sr.Ties); err != nil {
			return nil, fmt.Errorf("failed to scan strategy result: %w", err)
		}
		sr.PlanID = planID.String
		sr.Success = success != 0
		sr.Outcome = simulation.Outcome(outcome)
		if margin.Valid {
			m := margin.Float64
			sr.Margin = &m
		}
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("strategy result for unknown scenario %d", id)
		}
		records[i].Strategies = append(records[i].Strategies, sr)
	}
	return records, srows.Err()
}

// DeleteRun removes a run and all of its records.
func (s *ResultStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `
	SELECT id, experiment, mode, seed, columns, total, evaluated, infeasible, elapsed_ms, created_at, finished_at
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		seed       int64
		cols       string
		elapsedMS  int64
		createdAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Experiment, &run.Mode, &seed, &cols, &run.Total,
		&run.Evaluated, &run.Infeasible, &elapsedMS, &createdAt, &finishedAt); err != nil {
		return Run{}, err
	}
	run.Seed = uint64(seed)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if err := json.Unmarshal([]byte(cols), &run.Columns); err != nil {
		return Run{}, fmt.Errorf("failed to decode columns of run %s: %w", run.ID, err)
	}
	var err error
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Run{}, fmt.Errorf("failed to parse created_at of run %s: %w", run.ID, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("failed to parse finished_at of run %s: %w", run.ID, err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
