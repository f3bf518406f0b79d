package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/archive"
	"github.com/nvandessel/q2s/internal/config"
	"github.com/nvandessel/q2s/internal/export"
	"github.com/nvandessel/q2s/internal/logging"
	"github.com/nvandessel/q2s/internal/report"
	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/store"
	"github.com/nvandessel/q2s/internal/strategy"
)

// runOptions are the per-invocation overrides of the run command.
type runOptions struct {
	out        string
	arrowPath  string
	dbPath     string
	archive    bool
	archiveDir string
	keep       int
	maxAge     string
	seed       uint64
	maxScen    int
	workers    int
	mode       string
	decisions  string
	summary    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <experiment>",
		Short: "Simulate every scenario of an experiment",
		Long: `Validate the experiment, enumerate its scenarios, evaluate them in
parallel, and write one CSV row per scenario in scenario ID order.

The CSV goes to the experiment's output_directory/scenarios_filename unless
--out is given ("-" writes to stdout). Results can also be written as an
Arrow IPC file, stored in the results database, or archived.

Examples:
  q2s run meeting.yaml
  q2s run meeting.yaml --out results.csv --arrow results.arrow
  q2s run meeting.yaml --db ~/.q2s/results.db --seed 7
  q2s run meeting.yaml --archive --keep 10 --max-age 30d`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "CSV output path (default from the experiment, \"-\" for stdout)")
	cmd.Flags().StringVar(&opts.arrowPath, "arrow", "", "Also write results as an Arrow IPC file")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Store the run in this SQLite results database (default from settings)")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "Write a compressed results archive")
	cmd.Flags().StringVar(&opts.archiveDir, "archive-dir", "", "Archive directory (default ~/.q2s/archives)")
	cmd.Flags().IntVar(&opts.keep, "keep", 0, "Keep at most this many archives (0 = no limit)")
	cmd.Flags().StringVar(&opts.maxAge, "max-age", "", "Delete archives older than this (e.g. 30d, 2w, 720h)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Override the experiment seed")
	cmd.Flags().IntVar(&opts.maxScen, "max", 0, "Evaluate at most this many scenarios")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent evaluations (default from the experiment, then settings)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Override the perturbation mode: threshold or impact")
	cmd.Flags().StringVar(&opts.decisions, "decisions", "", "Directory for decisions.jsonl at debug/trace level (default: CSV directory)")
	cmd.Flags().BoolVar(&opts.summary, "summary", true, "Print the multi-perturbation summary after the run")

	return cmd
}

// runResult is the JSON output of the run command.
type runResult struct {
	Scenarios  int                `json:"scenarios"`
	Evaluated  int                `json:"evaluated"`
	Infeasible int                `json:"infeasible"`
	Degenerate int                `json:"degenerate"`
	ElapsedMs  int64              `json:"elapsed_ms"`
	Seed       uint64             `json:"seed"`
	Mode       string             `json:"mode"`
	SuccessPct map[string]float64 `json:"success_rate"`
	CSV        string             `json:"csv,omitempty"`
	Arrow      string             `json:"arrow,omitempty"`
	RunID      string             `json:"run_id,omitempty"`
	Database   string             `json:"database,omitempty"`
	Archive    string             `json:"archive,omitempty"`
	Pruned     []string           `json:"pruned_archives,omitempty"`
	Summary    *report.MultiTable `json:"summary,omitempty"`
}

// fanout writes each result to every sink in order.
type fanout []simulation.Sink

func (f fanout) Write(r simulation.Result) error {
	for _, s := range f {
		if err := s.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func runExperiment(cmd *cobra.Command, path string, opts *runOptions) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, settings)

	resolved, err := loadExperiment(path, settings)
	if err != nil {
		return err
	}
	if err := applyRunOverrides(cmd, resolved, opts); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csvPath := opts.out
	if csvPath == "" {
		csvPath = resolved.OutputPath
	}
	if csvPath == "" {
		csvPath = "scenarios.csv"
	}

	decisionsDir := opts.decisions
	if decisionsDir == "" {
		decisionsDir = "."
		if csvPath != "-" {
			decisionsDir = filepath.Dir(csvPath)
		}
	}
	decisions := logging.NewDecisionLogger(decisionsDir, settings.Logging.Level)
	defer decisions.Close()

	sim, err := resolved.NewSimulator(simulation.WithLogger(logger), simulation.WithDecisionLogger(decisions))
	if err != nil {
		return err
	}
	if err := sim.Check(resolved.Space); err != nil {
		return err
	}

	cols := resolved.Columns()
	result := runResult{Seed: sim.Seed(), Mode: string(sim.Mode()), SuccessPct: map[string]float64{}}

	// CSV output
	var (
		csvOut  io.Writer = cmd.OutOrStdout()
		csvFile *os.File
	)
	defer func() {
		if csvFile != nil {
			csvFile.Close()
		}
	}()
	if csvPath != "-" {
		if err := os.MkdirAll(filepath.Dir(csvPath), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", csvPath, err)
		}
		csvFile, csvOut = f, f
		result.CSV = csvPath
	}
	csvWriter := export.NewCSVWriter(csvOut, cols)
	sinks := fanout{csvWriter}

	// Results database
	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = settings.Store.Path
	}
	var (
		rs       *store.ResultStore
		dbWriter *store.RecordWriter
	)
	if dbPath != "" {
		rs, err = store.Open(dbPath)
		if err != nil {
			return err
		}
		defer rs.Close()

		total, err := resolved.Space.Count()
		if err != nil {
			return err
		}
		result.RunID, err = rs.CreateRun(ctx, store.Run{
			Experiment: path,
			Mode:       string(sim.Mode()),
			Seed:       sim.Seed(),
			Columns:    cols,
			Total:      total,
		})
		if err != nil {
			return err
		}
		result.Database = rs.Path()
		dbWriter = rs.Writer(ctx, result.RunID, cols)
		sinks = append(sinks, dbWriter)
	}

	// In-memory records for Arrow, the archive, and the summary
	var records []simulation.Record
	if opts.arrowPath != "" || opts.archive || opts.summary {
		sinks = append(sinks, simulation.SinkFunc(func(r simulation.Result) error {
			records = append(records, r.Record(cols))
			return nil
		}))
	}

	runner := simulation.NewRunner(sim,
		simulation.WithWorkers(resolved.Workers),
		simulation.WithMaxScenarios(resolved.MaxScenarios),
		simulation.WithBatchSize(settings.Simulation.BatchSize),
		simulation.WithRunLogger(logger),
	)
	stats, runErr := runner.Run(ctx, resolved.Space, sinks)

	// Keep whatever was evaluated, even after an interrupt.
	var closer io.Closer
	if csvFile != nil {
		closer = csvFile
	}
	csvErr := finishCSV(csvWriter, closer)
	csvFile = nil
	if csvErr != nil && runErr == nil {
		runErr = csvErr
	}
	if dbWriter != nil {
		if err := dbWriter.Flush(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}
	if rs != nil {
		if err := rs.FinishRun(ctx, result.RunID, stats); err != nil {
			return err
		}
	}

	if opts.arrowPath != "" {
		if err := export.WriteArrow(opts.arrowPath, cols, records); err != nil {
			return fmt.Errorf("failed to write Arrow file: %w", err)
		}
		result.Arrow = opts.arrowPath
	}

	if opts.archive {
		archivePath, pruned, err := writeArchive(path, cols, records, sim, opts)
		if err != nil {
			return err
		}
		result.Archive, result.Pruned = archivePath, pruned
	}

	result.Scenarios = stats.Total
	result.Evaluated = stats.Evaluated
	result.Infeasible = stats.Infeasible
	result.Degenerate = stats.Degenerate
	result.ElapsedMs = stats.Elapsed.Milliseconds()
	for _, k := range strategy.Kinds {
		result.SuccessPct[k.String()] = 100 * stats.SuccessRate(k)
	}
	if opts.summary {
		multi := report.MultiPerturbation(records)
		result.Summary = &multi
	}

	// With the CSV on stdout there is no room for a report.
	if csvPath == "-" {
		return nil
	}
	if jsonOut {
		return writeJSON(cmd, result)
	}
	return printRunResult(cmd.OutOrStdout(), result)
}

// finishCSV flushes w and closes the file under it, reporting the first
// failure. c is nil when the CSV goes to stdout.
func finishCSV(w *export.CSVWriter, c io.Closer) error {
	err := w.Flush()
	if err != nil {
		err = fmt.Errorf("failed to write CSV: %w", err)
	}
	if c != nil {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close CSV: %w", cerr)
		}
	}
	return err
}

func applyRunOverrides(cmd *cobra.Command, r *config.Resolved, opts *runOptions) error {
	if cmd.Flags().Changed("seed") {
		r.Seed = opts.seed
	}
	if opts.maxScen < 0 || opts.workers < 0 {
		return fmt.Errorf("--max and --workers must be non-negative")
	}
	if opts.maxScen > 0 {
		r.MaxScenarios = opts.maxScen
	}
	if opts.workers > 0 {
		r.Workers = opts.workers
	}
	if opts.mode != "" {
		mode, err := simulation.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		r.Mode = mode
	}
	return nil
}

func writeArchive(experiment string, cols []string, records []simulation.Record, sim *simulation.Simulator, opts *runOptions) (string, []string, error) {
	dir := opts.archiveDir
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			return "", nil, fmt.Errorf("failed to get archive directory: %w", err)
		}
		dir = filepath.Join(d, "archives")
	}

	now := time.Now()
	archivePath := archive.GeneratePath(dir, now)
	_, err := archive.Write(archivePath, &archive.Archive{
		CreatedAt: now,
		Columns:   cols,
		Metadata: map[string]string{
			"experiment": experiment,
			"mode":       string(sim.Mode()),
			"seed":       fmt.Sprintf("%d", sim.Seed()),
			"version":    version,
		},
		Records: records,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to write archive: %w", err)
	}

	policy, err := retentionPolicy(opts.keep, opts.maxAge)
	if err != nil {
		return "", nil, err
	}
	if policy == nil {
		return archivePath, nil, nil
	}
	pruned, err := archive.ApplyRetention(dir, policy)
	if err != nil {
		return "", nil, fmt.Errorf("failed to apply retention: %w", err)
	}
	return archivePath, pruned, nil
}

// retentionPolicy combines --keep and --max-age. An archive survives when
// either policy keeps it. Nil means keep everything.
func retentionPolicy(keep int, maxAge string) (archive.RetentionPolicy, error) {
	var policies []archive.RetentionPolicy
	if keep > 0 {
		policies = append(policies, &archive.CountPolicy{MaxCount: keep})
	}
	if maxAge != "" {
		d, err := archive.ParseDuration(maxAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &archive.AgePolicy{MaxAge: d})
	}
	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	}
	return &archive.CompositePolicy{Policies: policies}, nil
}

func printRunResult(w io.Writer, r runResult) error {
	fmt.Fprintf(w, "Evaluated %d of %d scenarios (%d infeasible) in %dms\n", r.Evaluated, r.Scenarios, r.Infeasible, r.ElapsedMs)
	fmt.Fprintf(w, "Mode: %s, seed: %d\n", r.Mode, r.Seed)
	fmt.Fprintln(w, "Success rate over feasible scenarios:")
	for _, k := range strategy.Kinds {
		fmt.Fprintf(w, "  %-7s %6.2f%%\n", k.String(), r.SuccessPct[k.String()])
	}
	if r.Degenerate > 0 {
		fmt.Fprintf(w, "Tie-breaks: %d\n", r.Degenerate)
	}
	if r.CSV != "" {
		fmt.Fprintf(w, "CSV: %s\n", r.CSV)
	}
	if r.Arrow != "" {
		fmt.Fprintf(w, "Arrow: %s\n", r.Arrow)
	}
	if r.RunID != "" {
		fmt.Fprintf(w, "Run %s stored in %s\n", r.RunID, r.Database)
	}
	if r.Archive != "" {
		fmt.Fprintf(w, "Archive: %s\n", r.Archive)
		for _, p := range r.Pruned {
			fmt.Fprintf(w, "  pruned %s\n", filepath.Base(p))
		}
	}
	if r.Summary != nil {
		fmt.Fprintln(w)
		return report.WriteMulti(w, *r.Summary)
	}
	return nil
}
