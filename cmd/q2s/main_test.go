package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/q2s/internal/archive"
	"github.com/nvandessel/q2s/internal/export"
)

const testExperiment = `file_paths: {plans: plans.csv, contributions: contributions.csv}
quality_goals:
  - {id: QG0, domain_variable: TotalCost, relation_type: max, column_name: cost_constraint}
  - {id: QG1, domain_variable: TotalEffort, relation_type: max, column_name: effort_constraint}
  - {id: QG2, domain_variable: TimeSpent, relation_type: max, column_name: time_constraint}
scenario_generator:
  alpha_options: [0.3, 0.5, 0.7]
  constraint_options:
    - domain_variable: cost_constraint
      values: [60, 150, 220]
      perturbation:
        - {level: "no", value: 0, score: 0}
        - {level: low, value: -10, score: 1}
        - {level: high, value: -50, score: 2}
    - domain_variable: effort_constraint
      values: [3, 6]
      perturbation:
        - {level: "no", value: 0, score: 0}
        - {level: low, value: -1, score: 1}
    - domain_variable: time_constraint
      values: [5, 8]
      perturbation:
        - {level: "no", value: 0, score: 0}
        - {level: low, value: -2, score: 1}
simulation_settings:
  seed: 42
  workers: 2
  output_directory: out
  scenarios_filename: scenarios.csv
`

const testPlans = `PLANS,G1,G5,G7,G8,G11,G13
Plan0,1,1,0,1,1,1
Plan1,1,0,1,0,1,1
Plan2,0,1,1,1,0,0
Plan3,1,1,1,0,0,0
Plan4,0,0,0,1,0,1
`

const testContributions = `DomainVariable,G1,G5,G7,G8,G11,G13
TotalCost,10,100,30,80,0,10
TotalEffort,0,0,1,0,2,2
TimeSpent,1,1,1,1,2,2
`

// isolateHome points HOME at a temp directory so no test touches ~/.q2s.
func isolateHome(t *testing.T, tmpDir string) string {
	t.Helper()
	home := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, env := range []string{"Q2S_LOG_LEVEL", "Q2S_LOG_FORMAT", "Q2S_WORKERS", "Q2S_MAX_SCENARIOS", "Q2S_BATCH_SIZE", "Q2S_DB"} {
		t.Setenv(env, "")
	}
	return home
}

// writeExperiment writes the meeting experiment and its catalog to dir.
func writeExperiment(t *testing.T, dir, experiment string) string {
	t.Helper()
	files := map[string]string{
		"experiment.yaml":   experiment,
		"plans.csv":         testPlans,
		"contributions.csv": testContributions,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "experiment.yaml")
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("q2s %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decodeJSON(t *testing.T, data string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), v); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, data)
	}
}

// runOutput decodes the --json output of the run command.
type runOutput struct {
	Scenarios  int                `json:"scenarios"`
	Evaluated  int                `json:"evaluated"`
	Infeasible int                `json:"infeasible"`
	Seed       uint64             `json:"seed"`
	Mode       string             `json:"mode"`
	SuccessPct map[string]float64 `json:"success_rate"`
	CSV        string             `json:"csv"`
	Arrow      string             `json:"arrow"`
	RunID      string             `json:"run_id"`
	Database   string             `json:"database"`
	Archive    string             `json:"archive"`
	Summary    *struct {
		Series []string          `json:"series"`
		Rows   []json.RawMessage `json:"rows"`
	} `json:"summary"`
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return rows
}

func TestNewRootCmd(t *testing.T) {
	root := newRootCmd()
	for _, flag := range []string{"json", "log-level", "config"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing --%s flag", flag)
		}
	}

	want := []string{"archive", "config", "count", "mcp-server", "matrix", "run", "runs", "summary", "validate", "version"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	isolateHome(t, t.TempDir())

	if out := mustExecute(t, "version"); !strings.Contains(out, version) {
		t.Errorf("version output = %q", out)
	}

	var got map[string]string
	decodeJSON(t, mustExecute(t, "version", "--json"), &got)
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestRunCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	out := mustExecute(t, "run", exp)
	if !strings.Contains(out, "Evaluated 432 of 432 scenarios") {
		t.Errorf("run output missing totals:\n%s", out)
	}

	rows := readCSVFile(t, filepath.Join(tmpDir, "out", "scenarios.csv"))
	if len(rows) != 433 {
		t.Fatalf("CSV rows = %d, want 432 plus header", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][1] != "alpha" || rows[0][2] != "cost_constraint" {
		t.Errorf("header = %v", rows[0][:3])
	}
	for i, row := range rows[1:] {
		if want := i + 1; row[0] != strconv.Itoa(want) {
			t.Fatalf("row %d has ID %s", want, row[0])
		}
	}
}

func TestRunCmd_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	csvPath := filepath.Join(tmpDir, "results.csv")

	var got runOutput
	decodeJSON(t, mustExecute(t, "run", exp, "--json", "--out", csvPath, "--seed", "7", "--mode", "impact"), &got)

	if got.Scenarios != 432 || got.Evaluated != 432 {
		t.Errorf("scenarios = %d, evaluated = %d", got.Scenarios, got.Evaluated)
	}
	if got.Infeasible == 0 || got.Infeasible >= got.Evaluated {
		t.Errorf("infeasible = %d", got.Infeasible)
	}
	if got.Seed != 7 || got.Mode != "impact" {
		t.Errorf("seed = %d, mode = %s", got.Seed, got.Mode)
	}
	if got.CSV != csvPath {
		t.Errorf("csv = %q, want %q", got.CSV, csvPath)
	}
	for _, name := range []string{"q2s", "avgsat", "minsat", "random"} {
		rate, ok := got.SuccessPct[name]
		if !ok || rate < 0 || rate > 100 {
			t.Errorf("success_rate[%s] = %v, %v", name, rate, ok)
		}
	}
	if got.Summary == nil || len(got.Summary.Rows) == 0 || len(got.Summary.Series) != 6 {
		t.Error("summary should be included")
	}
}

func TestRunCmd_MaxScenarios(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	csvPath := filepath.Join(tmpDir, "few.csv")

	mustExecute(t, "run", exp, "--out", csvPath, "--max", "10", "--summary=false")
	if rows := readCSVFile(t, csvPath); len(rows) != 11 {
		t.Errorf("CSV rows = %d, want 10 plus header", len(rows))
	}
}

func TestRunCmd_LogsFinishOnce(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	root := newRootCmd()
	var stderr bytes.Buffer
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	root.SetArgs([]string{"run", exp, "--out", filepath.Join(tmpDir, "r.csv"), "--max", "5", "--summary=false", "--log-level", "info"})
	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(stderr.String(), "simulation finished"); n != 1 {
		t.Errorf("\"simulation finished\" logged %d times:\n%s", n, stderr.String())
	}
}

func TestRunCmd_NonPositiveThreshold(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	deep := strings.Replace(testExperiment, "{level: high, value: -50, score: 2}", "{level: high, value: -70, score: 2}", 1)
	exp := writeExperiment(t, tmpDir, deep)
	csvPath := filepath.Join(tmpDir, "r.csv")

	out, err := execute(t, "validate", exp, "--json")
	if err == nil {
		t.Fatal("validate should refuse a threshold perturbed below zero")
	}
	var got struct {
		ConfigurationError bool `json:"configuration_error"`
	}
	decodeJSON(t, out, &got)
	if !got.ConfigurationError {
		t.Errorf("validate --json = %s", out)
	}

	if _, err := execute(t, "run", exp, "--out", csvPath); err == nil {
		t.Error("run should refuse a threshold perturbed below zero")
	}
	if _, err := os.Stat(csvPath); !os.IsNotExist(err) {
		t.Errorf("no CSV should be written, stat err = %v", err)
	}
}

type failingCloser struct{ err error }

func (c failingCloser) Close() error { return c.err }

func TestFinishCSV(t *testing.T) {
	var buf bytes.Buffer
	w := export.NewCSVWriter(&buf, []string{"cost_constraint"})

	if err := finishCSV(w, nil); err != nil {
		t.Fatalf("finishCSV(stdout) = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ID,alpha,cost_constraint") {
		t.Errorf("header not flushed: %q", buf.String())
	}

	diskFull := errors.New("disk full")
	err := finishCSV(export.NewCSVWriter(io.Discard, []string{"c"}), failingCloser{diskFull})
	if !errors.Is(err, diskFull) || !strings.Contains(err.Error(), "close") {
		t.Errorf("finishCSV() = %v, want close error", err)
	}
}

func TestRunCmd_Stdout(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	out := mustExecute(t, "run", exp, "--out", "-", "--max", "3")
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("stdout is not CSV: %v\n%s", err, out)
	}
	if len(rows) != 4 {
		t.Errorf("rows = %d, want 3 plus header", len(rows))
	}
}

func TestRunCmd_InvalidOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	tests := []struct {
		name string
		args []string
	}{
		{"bad mode", []string{"--mode", "chaos"}},
		{"negative max", []string{"--max", "-1"}},
		{"negative workers", []string{"--workers", "-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", exp, "--out", filepath.Join(tmpDir, "x.csv")}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRunCmd_Outputs(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	csvPath := filepath.Join(tmpDir, "results.csv")
	arrowPath := filepath.Join(tmpDir, "results.arrow")
	dbPath := filepath.Join(tmpDir, "db", "results.db")
	archiveDir := filepath.Join(tmpDir, "archives")

	var got runOutput
	decodeJSON(t, mustExecute(t, "run", exp, "--json",
		"--out", csvPath,
		"--arrow", arrowPath,
		"--db", dbPath,
		"--archive", "--archive-dir", archiveDir,
	), &got)

	if got.Arrow != arrowPath {
		t.Errorf("arrow = %q", got.Arrow)
	}
	if got.RunID == "" || got.Database != dbPath {
		t.Errorf("run_id = %q, database = %q", got.RunID, got.Database)
	}
	if got.Archive == "" {
		t.Fatal("archive path missing")
	}
	if err := archive.VerifyChecksum(got.Archive); err != nil {
		t.Errorf("archive checksum: %v", err)
	}
	h, err := archive.ReadHeader(got.Archive)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.RecordCount != 432 || h.Metadata["experiment"] != exp {
		t.Errorf("header = %+v", h)
	}

	// Every source summarizes to the same multi-perturbation table shape.
	type summary struct {
		Records int `json:"records"`
		Multi   struct {
			Series []string          `json:"series"`
			Rows   []json.RawMessage `json:"rows"`
		} `json:"multi"`
	}
	var want summary
	decodeJSON(t, mustExecute(t, "summary", csvPath, "--json"), &want)
	if want.Records != 432 || len(want.Multi.Rows) == 0 {
		t.Fatalf("summary records = %d, rows = %d", want.Records, len(want.Multi.Rows))
	}
	for _, args := range [][]string{
		{"summary", arrowPath, "--json"},
		{"summary", got.Archive, "--json"},
		{"summary", "--db", dbPath, "--json"},
		{"summary", "--db", dbPath, "--run", got.RunID, "--json"},
	} {
		var other summary
		decodeJSON(t, mustExecute(t, args...), &other)
		if other.Records != want.Records || len(other.Multi.Rows) != len(want.Multi.Rows) || len(other.Multi.Series) != len(want.Multi.Series) {
			t.Errorf("%v summary differs from the CSV summary", args)
		}
	}
}

func TestRunCmd_ArchiveRetention(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	archiveDir := filepath.Join(tmpDir, "archives")

	for i := 0; i < 3; i++ {
		mustExecute(t, "run", exp, "--out", filepath.Join(tmpDir, "r.csv"), "--max", "5",
			"--archive", "--archive-dir", archiveDir, "--keep", "2")
		time.Sleep(5 * time.Millisecond)
	}

	archives, err := archive.List(archiveDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(archives) != 2 {
		t.Errorf("archives = %d, want 2", len(archives))
	}
}

func TestCountCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	out := mustExecute(t, "count", exp)
	if !strings.HasPrefix(out, "432 scenarios (3 alphas, cost_constraint 3×3") {
		t.Errorf("count output = %q", out)
	}

	var got struct {
		Scenarios  int `json:"scenarios"`
		Alphas     int `json:"alphas"`
		Dimensions []struct {
			Column        string `json:"column"`
			Baselines     int    `json:"baselines"`
			Perturbations int    `json:"perturbations"`
		} `json:"dimensions"`
	}
	decodeJSON(t, mustExecute(t, "count", exp, "--json"), &got)
	if got.Scenarios != 432 || got.Alphas != 3 || len(got.Dimensions) != 3 {
		t.Fatalf("count = %+v", got)
	}
	if d := got.Dimensions[1]; d.Column != "effort_constraint" || d.Baselines != 2 || d.Perturbations != 2 {
		t.Errorf("effort dimension = %+v", d)
	}
}

func TestValidateCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	validDir := filepath.Join(tmpDir, "valid")
	invalidDir := filepath.Join(tmpDir, "invalid")
	for _, d := range []string{validDir, invalidDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	valid := writeExperiment(t, validDir, testExperiment)
	invalid := writeExperiment(t, invalidDir, strings.Replace(testExperiment, "[0.3, 0.5, 0.7]", "[0.3, 1.5]", 1))

	if out := mustExecute(t, "validate", valid); !strings.Contains(out, "is valid: 5 plans, 3 quality goals, 432 scenarios") {
		t.Errorf("validate output = %q", out)
	}
	if _, err := execute(t, "validate", invalid); err == nil {
		t.Error("validate should fail for alpha 1.5")
	}

	out, err := execute(t, "validate", invalid, "--json")
	if err == nil {
		t.Error("validate --json should still return the error")
	}
	var got struct {
		Valid              bool   `json:"valid"`
		Error              string `json:"error"`
		ConfigurationError bool   `json:"configuration_error"`
	}
	decodeJSON(t, out, &got)
	if got.Valid || got.Error == "" || !got.ConfigurationError {
		t.Errorf("validate --json = %+v", got)
	}
}

func TestMatrixCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)

	var got struct {
		Scenario   int     `json:"scenario"`
		Alpha      float64 `json:"alpha"`
		ValidPlans int     `json:"valid_plans"`
		Pre        struct {
			Thresholds []float64 `json:"thresholds"`
			Rows       []struct {
				PlanID string `json:"plan_id"`
				Valid  bool   `json:"valid"`
			} `json:"rows"`
		} `json:"pre"`
		Choices []json.RawMessage `json:"choices"`
	}
	decodeJSON(t, mustExecute(t, "matrix", exp, "--scenario", "133", "--json"), &got)
	if got.Scenario != 133 || got.Alpha != 0.3 {
		t.Errorf("scenario = %d, alpha = %v", got.Scenario, got.Alpha)
	}
	if len(got.Pre.Thresholds) != 3 || got.Pre.Thresholds[0] != 220 {
		t.Errorf("thresholds = %v", got.Pre.Thresholds)
	}
	if len(got.Pre.Rows) != 5 || !got.Pre.Rows[0].Valid {
		t.Errorf("pre rows = %+v", got.Pre.Rows)
	}
	if got.ValidPlans == 0 || len(got.Choices) != 4 {
		t.Errorf("valid plans = %d, choices = %d", got.ValidPlans, len(got.Choices))
	}

	out := mustExecute(t, "matrix", exp, "--scenario", "1")
	if !strings.Contains(out, "Scenario 1:") || !strings.Contains(out, "Before perturbation:") {
		t.Errorf("matrix text output:\n%s", out)
	}

	if _, err := execute(t, "matrix", exp, "--scenario", "433"); err == nil {
		t.Error("scenario 433 is out of range")
	}
}

func TestSummaryCmd_CSVDir(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	csvPath := filepath.Join(tmpDir, "results.csv")
	summaryDir := filepath.Join(tmpDir, "summary")

	mustExecute(t, "run", exp, "--out", csvPath, "--summary=false")
	out := mustExecute(t, "summary", csvPath, "--csv-dir", summaryDir)
	if !strings.HasPrefix(out, "432 scenarios over cost_constraint, effort_constraint, time_constraint") {
		t.Errorf("summary output = %q", out)
	}

	for _, name := range []string{
		"single_perturbation_cost_constraint.csv",
		"single_perturbation_effort_constraint.csv",
		"single_perturbation_time_constraint.csv",
		"multi_perturbation.csv",
	} {
		if rows := readCSVFile(t, filepath.Join(summaryDir, name)); len(rows) < 2 {
			t.Errorf("%s has %d rows", name, len(rows))
		}
	}
}

func TestSummaryCmd_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := execute(t, "summary"); err == nil {
		t.Error("summary without input should fail")
	}
	if _, err := execute(t, "summary", filepath.Join(tmpDir, "missing.csv")); err == nil {
		t.Error("summary of a missing file should fail")
	}
	if _, err := execute(t, "summary", "x.csv", "--table", "both"); err == nil {
		t.Error("invalid --table should fail")
	}
}

func TestRunsCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	dbPath := filepath.Join(tmpDir, "results.db")

	if out := mustExecute(t, "runs", "--db", dbPath); !strings.HasPrefix(out, "No runs") {
		t.Errorf("empty runs output = %q", out)
	}

	var run runOutput
	decodeJSON(t, mustExecute(t, "run", exp, "--json", "--out", filepath.Join(tmpDir, "r.csv"), "--db", dbPath, "--max", "20"), &run)

	var listed struct {
		Runs []struct {
			ID        string `json:"id"`
			Evaluated int    `json:"evaluated"`
			Total     int    `json:"total"`
		} `json:"runs"`
		Count int `json:"count"`
	}
	decodeJSON(t, mustExecute(t, "runs", "--db", dbPath, "--json"), &listed)
	if listed.Count != 1 || listed.Runs[0].ID != run.RunID {
		t.Fatalf("runs = %+v", listed)
	}
	if listed.Runs[0].Evaluated != 20 || listed.Runs[0].Total != 432 {
		t.Errorf("run counts = %+v", listed.Runs[0])
	}

	mustExecute(t, "runs", "delete", run.RunID, "--db", dbPath)
	if _, err := execute(t, "runs", "delete", run.RunID, "--db", dbPath); err == nil {
		t.Error("deleting a missing run should fail")
	}
	decodeJSON(t, mustExecute(t, "runs", "--db", dbPath, "--json"), &listed)
	if listed.Count != 0 {
		t.Errorf("runs after delete = %d", listed.Count)
	}
}

func TestRunsCmd_SettingsDB(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	dbPath := filepath.Join(tmpDir, "env.db")
	t.Setenv("Q2S_DB", dbPath)

	mustExecute(t, "run", exp, "--out", filepath.Join(tmpDir, "r.csv"), "--max", "5")

	var listed struct {
		Count    int    `json:"count"`
		Database string `json:"database"`
	}
	decodeJSON(t, mustExecute(t, "runs", "--json"), &listed)
	if listed.Count != 1 || listed.Database != dbPath {
		t.Errorf("runs = %+v", listed)
	}
}

func TestArchiveCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	archiveDir := filepath.Join(tmpDir, "archives")

	if out := mustExecute(t, "archive", "list", "--dir", archiveDir); !strings.HasPrefix(out, "No archives") {
		t.Errorf("empty list output = %q", out)
	}

	for i := 0; i < 3; i++ {
		mustExecute(t, "run", exp, "--out", filepath.Join(tmpDir, "r.csv"), "--max", "4",
			"--archive", "--archive-dir", archiveDir)
		time.Sleep(5 * time.Millisecond)
	}

	var listed struct {
		Archives []struct {
			Path        string `json:"path"`
			RecordCount int    `json:"record_count"`
		} `json:"archives"`
		TotalCount int `json:"total_count"`
	}
	decodeJSON(t, mustExecute(t, "archive", "list", "--dir", archiveDir, "--json"), &listed)
	if listed.TotalCount != 3 || listed.Archives[0].RecordCount != 4 {
		t.Fatalf("archive list = %+v", listed)
	}

	newest := listed.Archives[0].Path
	if out := mustExecute(t, "archive", "verify", newest); !strings.Contains(out, "checksum OK") {
		t.Errorf("verify output = %q", out)
	}

	if _, err := execute(t, "archive", "prune", "--dir", archiveDir); err == nil {
		t.Error("prune without a policy should fail")
	}
	var pruned struct {
		Count int `json:"count"`
	}
	decodeJSON(t, mustExecute(t, "archive", "prune", "--dir", archiveDir, "--keep", "1", "--json"), &pruned)
	if pruned.Count != 2 {
		t.Errorf("pruned = %d, want 2", pruned.Count)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Errorf("newest archive should survive: %v", err)
	}
}

func TestArchiveVerify_Corrupt(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	exp := writeExperiment(t, tmpDir, testExperiment)
	archiveDir := filepath.Join(tmpDir, "archives")

	var run runOutput
	decodeJSON(t, mustExecute(t, "run", exp, "--json", "--out", filepath.Join(tmpDir, "r.csv"), "--max", "4",
		"--archive", "--archive-dir", archiveDir), &run)

	data, err := os.ReadFile(run.Archive)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-5] ^= 0xff
	if err := os.WriteFile(run.Archive, data, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "archive", "verify", run.Archive); err == nil {
		t.Error("verify should fail for a corrupted archive")
	}
}

func TestConfigShowCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	t.Setenv("Q2S_WORKERS", "3")

	out := mustExecute(t, "config", "show")
	if !strings.Contains(out, "workers: 3") || !strings.Contains(out, "level: info") {
		t.Errorf("config show output:\n%s", out)
	}

	var got struct {
		Logging struct {
			Level string `json:"level"`
		} `json:"logging"`
	}
	decodeJSON(t, mustExecute(t, "config", "show", "--json", "--log-level", "debug"), &got)
	if got.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", got.Logging.Level)
	}

	if _, err := execute(t, "config", "show", "--log-level", "loud"); err == nil {
		t.Error("an invalid log level should fail validation")
	}
}

func TestConfigShowCmd_File(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	path := filepath.Join(tmpDir, "settings.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  format: json\nsimulation:\n  batch_size: 64\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustExecute(t, "config", "show", "--config", path)
	if !strings.Contains(out, "format: json") || !strings.Contains(out, "batch_size: 64") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestRetentionPolicy(t *testing.T) {
	tests := []struct {
		name    string
		keep    int
		maxAge  string
		want    string
		wantErr bool
	}{
		{"none", 0, "", "<nil>", false},
		{"count", 5, "", "*archive.CountPolicy", false},
		{"age", 0, "30d", "*archive.AgePolicy", false},
		{"both", 5, "2w", "*archive.CompositePolicy", false},
		{"bad age", 0, "soon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := retentionPolicy(tt.keep, tt.maxAge)
			if (err != nil) != tt.wantErr {
				t.Fatalf("retentionPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if typ := fmt.Sprintf("%T", got); typ != tt.want {
				t.Errorf("retentionPolicy() = %s, want %s", typ, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{2048, "2.0KB"},
		{3 * 1024 * 1024, "3.0MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewMCPServerCmd(t *testing.T) {
	cmd := newMCPServerCmd()
	if cmd.Use != "mcp-server <experiment>" {
		t.Errorf("Use = %q", cmd.Use)
	}
	if cmd.Flags().Lookup("audit-dir") == nil {
		t.Error("missing --audit-dir flag")
	}
}
