package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List and manage stored simulation runs",
		Long: `List the runs stored in a results database, newest first.

Examples:
  q2s runs --db ~/.q2s/results.db
  q2s runs delete <id> --db ~/.q2s/results.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			rs, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer rs.Close()

			runs, err := rs.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"runs":     runs,
					"count":    len(runs),
					"database": rs.Path(),
				})
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintf(w, "No runs in %s\n", rs.Path())
				return nil
			}
			fmt.Fprintf(w, "Runs in %s:\n", rs.Path())
			for _, r := range runs {
				status := "unfinished"
				if r.Finished() {
					status = fmt.Sprintf("%d/%d scenarios, %d infeasible, %s", r.Evaluated, r.Total, r.Infeasible, r.Elapsed.Round(time.Millisecond))
				}
				fmt.Fprintf(w, "  %s  %s  %-9s seed %-6d %s  %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), r.ID, r.Mode, r.Seed, r.Experiment, status)
			}
			return nil
		},
	}

	cmd.PersistentFlags().String("db", "", "Results database (default from settings, then ~/.q2s/results.db)")
	cmd.AddCommand(newRunsDeleteCmd())
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored run and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			rs, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer rs.Close()

			if err := rs.DeleteRun(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrRunNotFound) {
					return fmt.Errorf("run %s not found in %s", args[0], rs.Path())
				}
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}

// openRunStore opens --db, falling back to the settings and then the default
// database path.
func openRunStore(cmd *cobra.Command) (*store.ResultStore, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		settings, err := loadSettings(cmd)
		if err != nil {
			return nil, err
		}
		path = settings.Store.Path
	}
	if path == "" {
		p, err := store.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return store.Open(path)
}
