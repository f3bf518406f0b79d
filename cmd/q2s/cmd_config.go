package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect q2s settings",
		Long: `View the effective q2s settings.

Settings are read from ~/.q2s/config.yaml (or --config) and overridden by
Q2S_LOG_LEVEL, Q2S_LOG_FORMAT, Q2S_WORKERS, Q2S_MAX_SCENARIOS,
Q2S_BATCH_SIZE and Q2S_DB.

Examples:
  q2s config show
  q2s config show --json`,
	}
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, settings)
			}

			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
