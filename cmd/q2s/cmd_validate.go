package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/models"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <experiment>",
		Short: "Validate an experiment without simulating it",
		Long: `Load the experiment and its catalog files and check every
configuration rule: quality goals, constraint options, perturbation
severities, alpha range, mode, and event size.

Examples:
  q2s validate meeting.yaml
  q2s validate meeting.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			resolved, err := loadExperiment(args[0], settings)
			if err == nil {
				s, simErr := resolved.NewSimulator()
				if simErr == nil {
					simErr = s.Check(resolved.Space)
				}
				err = simErr
			}

			if jsonOut {
				out := map[string]any{"experiment": args[0], "valid": err == nil}
				if err != nil {
					out["error"] = err.Error()
					out["configuration_error"] = errors.Is(err, models.ErrConfiguration)
				}
				if encErr := writeJSON(cmd, out); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				return err
			}

			n, _ := resolved.Space.Count()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid: %d plans, %d quality goals, %d scenarios\n",
				args[0], len(resolved.Catalog.Plans), len(resolved.Catalog.QualityGoals), n)
			return nil
		},
	}
}
