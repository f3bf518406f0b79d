package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/config"
	"github.com/nvandessel/q2s/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "q2s",
		Short: "Q2S - robustness of plan selection under constraint perturbation",
		Long: `q2s measures how well plan selection strategies hold up when quality
goal thresholds change after a plan has been chosen.

It enumerates every scenario of an experiment, selects a plan with the Q2S,
AvgSat, MinSat and Random strategies, perturbs the thresholds, and records
whether each choice still satisfies every quality goal.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: error, warn, info, debug, trace (overrides settings)")
	rootCmd.PersistentFlags().String("config", "", "Settings file (default ~/.q2s/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newCountCmd(),
		newValidateCmd(),
		newMatrixCmd(),
		newSummaryCmd(),
		newRunsCmd(),
		newArchiveCmd(),
		newMCPServerCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "q2s version %s\n", version)
			return nil
		},
	}
}

// loadSettings reads --config (or the default settings file) and applies
// --log-level on top.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		settings *config.Settings
		err      error
	)
	if path != "" {
		settings, err = config.LoadFromFile(path)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		settings.Logging.Level = level
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// newLogger builds the operational logger. Logs go to stderr so stdout stays
// clean for results.
func newLogger(cmd *cobra.Command, settings *config.Settings) *slog.Logger {
	if settings.Logging.Format == "json" {
		return logging.NewJSONLogger(settings.Logging.Level, cmd.ErrOrStderr())
	}
	return logging.NewLogger(settings.Logging.Level, cmd.ErrOrStderr())
}

// loadExperiment loads and resolves the experiment file at path.
func loadExperiment(path string, settings *config.Settings) (*config.Resolved, error) {
	exp, err := config.LoadExperiment(path)
	if err != nil {
		return nil, err
	}
	resolved, err := exp.Build(settings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resolved, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
