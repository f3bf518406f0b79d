package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <experiment>",
		Short: "Count the scenarios of an experiment",
		Long: `Print the number of scenarios an experiment expands to, computed from
the option counts without generating any scenario.

Examples:
  q2s count meeting.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			resolved, err := loadExperiment(args[0], settings)
			if err != nil {
				return err
			}
			space := resolved.Space
			n, err := space.Count()
			if err != nil {
				return err
			}

			if jsonOut {
				type dimension struct {
					Column        string `json:"column"`
					Baselines     int    `json:"baselines"`
					Perturbations int    `json:"perturbations"`
				}
				dims := make([]dimension, 0, len(space.Options))
				for _, o := range space.Options {
					dims = append(dims, dimension{o.Column, len(o.Baselines), len(o.Perturbations)})
				}
				return writeJSON(cmd, map[string]any{
					"scenarios":  n,
					"alphas":     len(space.Alphas),
					"dimensions": dims,
				})
			}

			factors := []string{fmt.Sprintf("%d alphas", len(space.Alphas))}
			for _, o := range space.Options {
				factors = append(factors, fmt.Sprintf("%s %d×%d", o.Column, len(o.Baselines), len(o.Perturbations)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios (%s)\n", n, strings.Join(factors, ", "))
			return nil
		},
	}
}
