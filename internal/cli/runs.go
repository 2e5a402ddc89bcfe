package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/resumerank/internal/client"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect runs",
	Long: `List recent runs or inspect a specific run by ID.

Examples:
  resumerank runs            # List runs, most recent first
  resumerank runs 3f9a1c2e   # Show status and ranking for run 3f9a1c2e`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		run, err := apiClient.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		printRun(out, run)
		return nil
	}

	runs, err := apiClient.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []client.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-10s %-10s %-10s %-20s %s\n", "ID", "STATUS", "PROGRESS", "STARTED", "SOURCE")
	fmt.Fprintln(w, "--------------------------------------------------------------------------")

	for _, run := range runs {
		progress := fmt.Sprintf("%d/%d", run.Progress.Completed, run.Progress.Total)
		source := "inline"
		if run.Locator != nil {
			source = *run.Locator
		}
		started := run.StartedAt.Local().Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "%-10s %-10s %-10s %-20s %s\n", run.ID, run.Status, progress, started, source)
	}
}

func printRun(w io.Writer, run *client.Run) {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "  Status: %s\n", run.Status)
	if run.Locator != nil {
		fmt.Fprintf(w, "  Source: %s\n", *run.Locator)
	}
	fmt.Fprintf(w, "  Progress: %d/%d", run.Progress.Completed, run.Progress.Total)
	if run.Progress.TotalBatches > 0 && !run.Progress.Done {
		fmt.Fprintf(w, " (batch %d/%d)", run.Progress.BatchIndex, run.Progress.TotalBatches)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", run.Error)
	}

	fmt.Fprintf(w, "\nDescription:\n  %s\n\n", truncate(run.Description, 200))
	printRanking(w, run.Outcomes)
}
