package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "results.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// runMeeting simulates the meeting space and returns its records.
func runMeeting(t *testing.T, limit int) ([]simulation.Record, simulation.Stats, []string) {
	t.Helper()
	cat := simulation.MeetingCatalog()
	sim, err := simulation.New(cat, nil, simulation.WithSeed(7))
	if err != nil {
		t.Fatalf("simulation.New() error = %v", err)
	}
	var collect simulation.Collect
	stats, err := simulation.NewRunner(sim, simulation.WithWorkers(2), simulation.WithMaxScenarios(limit)).
		Run(context.Background(), simulation.MeetingSpace(), &collect)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cols := cat.Columns()
	records := make([]simulation.Record, len(collect.Results))
	for i, r := range collect.Results {
		records[i] = r.Record(cols)
	}
	return records, stats, cols
}

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	s.Close()

	// Reopening an existing database validates and keeps the schema.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if err := ValidateIntegrity(context.Background(), s.db); err != nil {
		t.Errorf("ValidateIntegrity() error = %v", err)
	}
}

func TestInitSchema_NewerVersion(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(ctx, db); err == nil {
		t.Error("InitSchema() should reject a newer schema version")
	}
}

func TestResultStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records, stats, cols := runMeeting(t, 0)

	runID, err := s.CreateRun(ctx, Run{Experiment: "meeting.yaml", Mode: "threshold", Seed: 7, Columns: cols, Total: stats.Total})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if len(runID) != 36 {
		t.Errorf("run ID %q is not a UUID", runID)
	}
	if err := s.SaveRecords(ctx, runID, records); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}
	if err := s.FinishRun(ctx, runID, stats); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !run.Finished() || run.Evaluated != 432 || run.Infeasible != stats.Infeasible || run.Seed != 7 {
		t.Errorf("run = %+v", run)
	}
	if len(run.Columns) != 3 || run.Columns[0] != "cost_constraint" {
		t.Errorf("columns = %v", run.Columns)
	}

	got, err := s.LoadRecords(ctx, runID)
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("LoadRecords() returned %d records, want %d", len(got), len(records))
	}
	for i := range records {
		assertRecordEqual(t, got[i], records[i])
	}
}

func assertRecordEqual(t *testing.T, got, want simulation.Record) {
	t.Helper()
	if got.ID != want.ID || got.Alpha != want.Alpha || got.ValidPlans != want.ValidPlans || got.PerturbationScore != want.PerturbationScore {
		t.Fatalf("scenario %d: got %+v, want %+v", want.ID, got, want)
	}
	for j, s := range want.Settings {
		if got.Settings[j] != s {
			t.Errorf("scenario %d setting %d = %+v, want %+v", want.ID, j, got.Settings[j], s)
		}
	}
	if len(got.Strategies) != len(strategy.Kinds) {
		t.Fatalf("scenario %d: %d strategies", want.ID, len(got.Strategies))
	}
	for k, s := range want.Strategies {
		g := got.Strategies[k]
		if g.Strategy != s.Strategy || g.PlanID != s.PlanID || g.Success != s.Success || g.Outcome != s.Outcome || g.Ties != s.Ties {
			t.Errorf("scenario %d %s = %+v, want %+v", want.ID, s.Strategy, g, s)
		}
		gm, wm := g.MarginValue(), s.MarginValue()
		if math.IsNaN(wm) != math.IsNaN(gm) || (!math.IsNaN(wm) && gm != wm) {
			t.Errorf("scenario %d %s margin = %v, want %v", want.ID, s.Strategy, gm, wm)
		}
	}
}

func TestResultStore_Writer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cat := simulation.MeetingCatalog()
	sim, err := simulation.New(cat, nil)
	if err != nil {
		t.Fatal(err)
	}

	runID, err := s.CreateRun(ctx, Run{Experiment: "meeting", Mode: "threshold", Columns: cat.Columns()})
	if err != nil {
		t.Fatal(err)
	}
	w := s.Writer(ctx, runID, cat.Columns())
	w.size = 50
	if _, err := simulation.NewRunner(sim, simulation.WithWorkers(3)).Run(ctx, simulation.MeetingSpace(), w); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, err := s.LoadRecords(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 432 {
		t.Fatalf("stored %d records, want 432", len(got))
	}
	for i, r := range got {
		if r.ID != i+1 {
			t.Fatalf("record %d has ID %d", i, r.ID)
		}
	}
}

func TestResultStore_ListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records, _, cols := runMeeting(t, 5)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateRun(ctx, Run{Experiment: "meeting", Mode: "impact", Columns: cols, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SaveRecords(ctx, id, records); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 || runs[0].ID != ids[2] || runs[2].ID != ids[0] {
		t.Errorf("ListRuns() order wrong: %+v", runs)
	}
	if runs[0].Finished() {
		t.Error("unfinished run reported as finished")
	}
	latest, err := s.LatestRun(ctx)
	if err != nil || latest.ID != ids[2] {
		t.Errorf("LatestRun() = %v, %v", latest.ID, err)
	}

	if err := s.DeleteRun(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := s.LoadRecords(ctx, ids[1]); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadRecords(deleted) = %v, want ErrRunNotFound", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategy_results WHERE run_id = ?`, ids[1]).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d strategy rows left after delete", n)
	}
	if got, err := s.LoadRecords(ctx, ids[0]); err != nil || len(got) != 5 {
		t.Errorf("other runs affected: %d records, %v", len(got), err)
	}
}

func TestResultStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() = %v, want ErrRunNotFound", err)
	}
	if err := s.FinishRun(ctx, "missing", simulation.Stats{}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() = %v, want ErrRunNotFound", err)
	}
	if err := s.DeleteRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("DeleteRun() = %v, want ErrRunNotFound", err)
	}
	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun() on empty store = %v, want ErrRunNotFound", err)
	}
}

func TestResultStore_DuplicateScenarioRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records, _, cols := runMeeting(t, 2)

	id, err := s.CreateRun(ctx, Run{Experiment: "meeting", Mode: "threshold", Columns: cols})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecords(ctx, id, records); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecords(ctx, id, records[:1]); err == nil {
		t.Error("SaveRecords() should reject a scenario stored twice")
	}
	got, err := s.LoadRecords(ctx, id)
	if err != nil || len(got) != 2 {
		t.Errorf("failed transaction leaked rows: %d records, %v", len(got), err)
	}
}
