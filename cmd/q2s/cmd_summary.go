package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/archive"
	"github.com/nvandessel/q2s/internal/export"
	"github.com/nvandessel/q2s/internal/report"
	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/store"
)

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [results]",
		Short: "Summarize a results file or stored run",
		Long: `Print the single- and multi-perturbation robustness tables of a run.

The single-perturbation table of a quality goal covers the scenarios in which
only that goal's threshold changed, grouped by perturbation level. The
multi-perturbation table groups every scenario by its perturbation score.
Infeasible scenarios are left out of both.

Results can be a CSV written by "q2s run", an Arrow file (.arrow), or an
archive (.jsonl.gz). With --db the run is read from the results database.

Examples:
  q2s summary out/scenarios.csv
  q2s summary results.arrow --csv-dir out/summary
  q2s summary --db ~/.q2s/results.db --run <id>`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dbPath, _ := cmd.Flags().GetString("db")
			runID, _ := cmd.Flags().GetString("run")
			csvDir, _ := cmd.Flags().GetString("csv-dir")
			table, _ := cmd.Flags().GetString("table")

			if table != "all" && table != "single" && table != "multi" {
				return fmt.Errorf("invalid --table %q (valid: all, single, multi)", table)
			}

			var (
				records []simulation.Record
				columns []string
				err     error
			)
			switch {
			case len(args) == 1:
				records, columns, err = readResults(args[0])
			case dbPath != "":
				records, columns, err = readStoredRun(cmd, dbPath, runID)
			default:
				return errors.New("a results file or --db is required")
			}
			if err != nil {
				return err
			}

			var singles []report.SingleTable
			var multi *report.MultiTable
			if table != "multi" {
				singles = report.SinglePerturbation(records, columns)
			}
			if table != "single" {
				m := report.MultiPerturbation(records)
				multi = &m
			}

			if csvDir != "" {
				if err := writeSummaryCSV(csvDir, singles, multi); err != nil {
					return err
				}
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"records": len(records),
					"columns": columns,
					"single":  singles,
					"multi":   multi,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d scenarios over %s\n\n", len(records), strings.Join(columns, ", "))
			for _, t := range singles {
				if err := report.WriteSingle(w, t); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			if multi != nil {
				return report.WriteMulti(w, *multi)
			}
			return nil
		},
	}

	cmd.Flags().String("db", "", "Read the run from this results database")
	cmd.Flags().String("run", "", "Run ID (default: the latest run)")
	cmd.Flags().String("csv-dir", "", "Also write the tables as CSV files into this directory")
	cmd.Flags().String("table", "all", "Tables to produce: all, single, multi")

	return cmd
}

// readResults loads records from a CSV, Arrow, or archive file.
func readResults(path string) ([]simulation.Record, []string, error) {
	switch {
	case strings.HasSuffix(path, ".arrow"):
		return export.ReadArrow(path)
	case strings.HasSuffix(path, ".jsonl.gz"):
		a, err := archive.Read(path)
		if err != nil {
			return nil, nil, err
		}
		return a.Records, a.Columns, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	records, columns, err := export.ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, columns, nil
}

func readStoredRun(cmd *cobra.Command, dbPath, runID string) ([]simulation.Record, []string, error) {
	rs, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()

	ctx := cmd.Context()
	var run store.Run
	if runID == "" {
		run, err = rs.LatestRun(ctx)
	} else {
		run, err = rs.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, nil, err
	}
	records, err := rs.LoadRecords(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return records, run.Columns, nil
}

func writeSummaryCSV(dir string, singles []report.SingleTable, multi *report.MultiTable) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	write := func(name string, fn func(f *os.File) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	for _, t := range singles {
		name := "single_perturbation_" + t.Column + ".csv"
		if err := write(name, func(f *os.File) error { return report.WriteSingleCSV(f, t) }); err != nil {
			return err
		}
	}
	if multi != nil {
		return write("multi_perturbation.csv", func(f *os.File) error { return report.WriteMultiCSV(f, *multi) })
	}
	return nil
}
