package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/mcp"
	"github.com/nvandessel/q2s/internal/satisfaction"
	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

func newMatrixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix <experiment>",
		Short: "Explain one scenario",
		Long: `Show the pre- and post-perturbation satisfaction matrices of one
scenario, the plan each strategy selected, and whether it survived.

Examples:
  q2s matrix meeting.yaml --scenario 133
  q2s matrix meeting.yaml --scenario 134 --mode impact`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			id, _ := cmd.Flags().GetInt("scenario")
			modeFlag, _ := cmd.Flags().GetString("mode")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			resolved, err := loadExperiment(args[0], settings)
			if err != nil {
				return err
			}
			if modeFlag != "" {
				if resolved.Mode, err = simulation.ParseMode(modeFlag); err != nil {
					return err
				}
			}

			sc, err := resolved.Space.At(id)
			if err != nil {
				return err
			}
			sim, err := resolved.NewSimulator(simulation.WithLogger(newLogger(cmd, settings)))
			if err != nil {
				return err
			}
			tr, err := sim.Explain(sc)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, mcp.NewMatrixOutput(tr, resolved.Columns()))
			}
			return printTrace(cmd.OutOrStdout(), tr, resolved.Columns(), sim.Mode())
		},
	}
	cmd.Flags().Int("scenario", 1, "Scenario ID (starting at 1)")
	cmd.Flags().String("mode", "", "Override the perturbation mode: threshold or impact")
	return cmd
}

func printTrace(w io.Writer, tr simulation.Trace, columns []string, mode simulation.Mode) error {
	sc := tr.Result.Scenario
	fmt.Fprintf(w, "Scenario %d: alpha %g, mode %s, perturbation score %d\n", sc.ID, sc.Alpha, mode, sc.PerturbationScore())
	for j, col := range columns {
		p := sc.Perturbations[j]
		fmt.Fprintf(w, "  %-20s baseline %-8g %s (%+g)\n", col, sc.Baselines[j], p.Label(), p.Delta)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Before perturbation:")
	printMatrix(w, tr.Pre, sc.Alpha)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "After perturbation:")
	printMatrix(w, tr.Post, sc.Alpha)

	fmt.Fprintln(w)
	if tr.Result.Infeasible() {
		fmt.Fprintln(w, "No plan satisfies every quality goal; the scenario is infeasible.")
		return nil
	}
	fmt.Fprintf(w, "Selections (%d valid plans):\n", tr.Result.ValidPlans)
	for _, k := range strategy.Kinds {
		r := tr.Result.Get(k)
		tie := ""
		if r.Ties > 1 {
			tie = fmt.Sprintf(" (tie-break among %d)", r.Ties)
		}
		fmt.Fprintf(w, "  %-7s %-10s objective %8.4f  margin %8.4f  %s%s\n",
			k.String(), r.PlanID, r.Objective, r.Margin, r.Outcome, tie)
	}
	return nil
}

func printMatrix(w io.Writer, m *satisfaction.Matrix, alpha float64) {
	header := fmt.Sprintf("  %-10s", "Plan")
	for j := 0; j < m.Cols(); j++ {
		header += fmt.Sprintf(" %10s", fmt.Sprintf("%s≤%g", m.GoalID(j), m.Threshold(j)))
	}
	header += fmt.Sprintf(" %8s %8s %8s", "Avg", "Min", "Score")
	fmt.Fprintln(w, header)
	for i := 0; i < m.Rows(); i++ {
		var b strings.Builder
		fmt.Fprintf(&b, "  %-10s", m.PlanID(i))
		for _, d := range m.Row(i) {
			fmt.Fprintf(&b, " %10.4f", d)
		}
		fmt.Fprintf(&b, " %8.4f %8.4f %8.4f", m.AvgSat(i), m.MinSat(i), m.Score(i, alpha))
		if !m.Valid(i) {
			b.WriteString("  invalid")
		}
		fmt.Fprintln(w, b.String())
	}
}
