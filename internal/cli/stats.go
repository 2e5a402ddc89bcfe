package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show timing, failure and token statistics collected by the server
since it started.

Examples:
  resumerank stats`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("get server stats: %w", err)
		}
		printServerStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show request quota usage",
	Long: `Show how much of the per-minute and per-day request quotas the server
has used and when the next request could be admitted.

Examples:
  resumerank limits`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient.Limits(context.Background())
		if err != nil {
			return fmt.Errorf("get limits: %w", err)
		}
		printLimits(cmd.OutOrStdout(), status)
		return nil
	},
}

func printLimits(w io.Writer, s *ratelimit.Status) {
	fmt.Fprintf(w, "Request Quotas (%s)\n", s.Day)
	fmt.Fprintf(w, "═══════════════════════════════\n")
	fmt.Fprintf(w, "Last minute: %d/%d\n", s.MinuteUsed, s.MinuteLimit)
	fmt.Fprintf(w, "Today:       %d/%d\n", s.DayUsed, s.DayLimit)
	fmt.Fprintf(w, "Spacing:     %dms\n", s.SpacingMs)
	switch {
	case s.NextSlotMs < 0:
		fmt.Fprintln(w, "Next slot:   tomorrow (daily quota spent)")
	case s.NextSlotMs == 0:
		fmt.Fprintln(w, "Next slot:   now")
	default:
		fmt.Fprintf(w, "Next slot:   in %dms\n", s.NextSlotMs)
	}
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, stats *metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", stats.UptimeSeconds)

	sections := []struct {
		title string
		op    *metrics.OperationSnapshot
	}{
		{"Runs", stats.Run},
		{"Scoring", stats.Score},
		{"Document Fetch", stats.DocumentFetch},
		{"Limiter Wait", stats.LimiterWait},
	}
	for _, s := range sections {
		if s.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", s.title)
		printOpStats(w, s.op)
		printTokenStats(w, s.op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Tokens In:  %d total\n", *op.TotalInputTokens)
	fmt.Fprintf(w, "  Tokens Out: %d total\n", *op.TotalOutputTokens)
}
