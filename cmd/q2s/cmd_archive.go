package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/q2s/internal/archive"
	"github.com/nvandessel/q2s/internal/config"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage results archives",
		Long: `List, verify, and prune the compressed results archives written by
"q2s run --archive".

Examples:
  q2s archive list
  q2s archive verify ~/.q2s/archives/q2s-results-20260101-120000.000.jsonl.gz
  q2s archive prune --keep 5`,
	}
	cmd.PersistentFlags().String("dir", "", "Archive directory (default ~/.q2s/archives)")

	cmd.AddCommand(
		newArchiveListCmd(),
		newArchiveVerifyCmd(),
		newArchivePruneCmd(),
	)
	return cmd
}

func archiveDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	d, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get archive directory: %w", err)
	}
	return filepath.Join(d, "archives"), nil
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archives with their metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			dir, err := archiveDir(cmd)
			if err != nil {
				return err
			}
			archives, err := archive.List(dir)
			if err != nil {
				return err
			}

			type entry struct {
				Path        string            `json:"path"`
				Size        int64             `json:"size_bytes"`
				CreatedAt   string            `json:"created_at"`
				RecordCount int               `json:"record_count"`
				Infeasible  int               `json:"infeasible"`
				Metadata    map[string]string `json:"metadata,omitempty"`
			}
			entries := make([]entry, 0, len(archives))
			for _, a := range archives {
				e := entry{Path: a.Path, Size: a.Size, CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
				if h, err := archive.ReadHeader(a.Path); err == nil {
					e.RecordCount, e.Infeasible, e.Metadata = h.RecordCount, h.Infeasible, h.Metadata
				}
				entries = append(entries, e)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"archives":    entries,
					"total_count": len(entries),
					"directory":   dir,
				})
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(w, "No archives found in %s\n", dir)
				return nil
			}
			fmt.Fprintf(w, "Archives in %s:\n", dir)
			var totalSize int64
			for i, e := range entries {
				totalSize += e.Size
				fmt.Fprintf(w, "  %s  %6d records  %5d infeasible  %8s  %s  %s\n",
					archives[i].CreatedAt.Local().Format("2006-01-02 15:04"),
					e.RecordCount, e.Infeasible, formatBytes(e.Size),
					e.Metadata["experiment"], filepath.Base(e.Path))
			}
			fmt.Fprintf(w, "Total: %d archives, %s\n", len(entries), formatBytes(totalSize))
			return nil
		},
	}
}

func newArchiveVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>",
		Short: "Verify an archive's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			err := archive.VerifyChecksum(args[0])
			if jsonOut {
				out := map[string]any{"path": args[0], "valid": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				if encErr := writeJSON(cmd, out); encErr != nil {
					return encErr
				}
				return err
			}
			if errors.Is(err, archive.ErrChecksum) {
				return fmt.Errorf("%s is corrupt: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s checksum OK\n", args[0])
			return nil
		},
	}
}

func newArchivePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archives outside the retention policy",
		Long: `Delete archives that neither --keep nor --max-age retains. An archive
is kept when either policy keeps it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			policy, err := retentionPolicy(keep, maxAge)
			if err != nil {
				return err
			}
			if policy == nil {
				return errors.New("--keep or --max-age is required")
			}
			dir, err := archiveDir(cmd)
			if err != nil {
				return err
			}
			deleted, err := archive.ApplyRetention(dir, policy)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"deleted": deleted, "count": len(deleted)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d archives\n", len(deleted))
			return nil
		},
	}
	cmd.Flags().Int("keep", 0, "Keep at most this many archives")
	cmd.Flags().String("max-age", "", "Keep archives newer than this (e.g. 30d, 2w, 720h)")
	return cmd
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case b >= mb:
		return fmt.Sprintf("%.1fMB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1fKB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
