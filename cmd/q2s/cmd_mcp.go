package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/logging"
	"github.com/nvandessel/q2s/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server <experiment>",
		Short: "Serve an experiment over the Model Context Protocol",
		Long: `Start an MCP server on stdin/stdout exposing the experiment to agents.

Tools:
  q2s_count     count scenarios without generating them
  q2s_simulate  run the experiment and report survival per strategy
  q2s_matrix    explain one scenario

Logs go to stderr in JSON so they never mix with the protocol stream.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auditDir, _ := cmd.Flags().GetString("audit-dir")

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:       "q2s",
				Version:    version,
				Experiment: args[0],
				Settings:   settings,
				Logger:     logging.NewJSONLogger(settings.Logging.Level, cmd.ErrOrStderr()),
				AuditDir:   auditDir,
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().String("audit-dir", "", "Directory for audit.jsonl (default ~/.q2s, \"-\" disables)")
	return cmd
}
