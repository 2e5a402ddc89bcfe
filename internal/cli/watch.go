package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/resumerank/internal/progress"
)

var watchWS bool

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a run's progress",
	Long: `Attach to a run's progress stream and show it until the run finishes.

A run has one observer at a time: watching a run takes over from any
earlier observer. Leaving the display does not stop the run.

Examples:
  resumerank watch 3f9a1c2e
  resumerank watch 3f9a1c2e --ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watchRun(ctx, cmd, args[0], watchWS)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchWS, "ws", false, "use the WebSocket stream instead of server-sent events")
}

// watchRun streams a server run's events into the progress display, then
// prints the ranking once the run has completed.
func watchRun(ctx context.Context, cmd *cobra.Command, runID string, useWS bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan progress.Event, 16)
	streamErr := make(chan error, 1)
	go func() {
		defer close(events)
		forward := func(ev progress.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if useWS {
			streamErr <- apiClient.WatchWS(ctx, runID, forward)
		} else {
			streamErr <- apiClient.StreamEvents(ctx, runID, forward)
		}
	}()

	out := cmd.OutOrStdout()
	var res ProgressResult
	if isTerminal(os.Stdout) {
		var err error
		res, err = RunProgress(runID, events, true)
		if err != nil {
			return err
		}
		if res.Quit {
			return nil
		}
	} else {
		res = PrintProgress(out, events)
	}

	cancel()
	if err := <-streamErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	if res.Final == nil || res.Final.Status == progress.StatusSuperseded {
		return nil
	}

	run, err := apiClient.GetRun(context.Background(), runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	fmt.Fprintln(out)
	printRanking(out, run.Outcomes)
	return nil
}
