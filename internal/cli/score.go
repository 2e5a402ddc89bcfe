package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/resumerank/internal/config"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/parser"
	"github.com/raphaelgruber/resumerank/internal/progress"
	"github.com/raphaelgruber/resumerank/internal/service"
)

var (
	scoreDescription string
	scoreDetailed    bool
	scorePlain       bool
)

var scoreCmd = &cobra.Command{
	Use:   "score <dir>",
	Short: "Score the resumes in a directory",
	Long: `Score every resume (PDF, text or Markdown) directly inside a directory
against a job description, in this process, and print the ranking.

The description file is plain text, Markdown, or YAML with title,
description and requirements.

Examples:
  resumerank score ./applicants --description job.yaml
  resumerank score ./applicants -d job.txt --detailed
  resumerank score ./applicants -d job.md --plain > ranking.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreDescription, "description", "d", "", "job description file")
	scoreCmd.Flags().BoolVar(&scoreDetailed, "detailed", false, "print each resume's full assessment")
	scoreCmd.Flags().BoolVar(&scorePlain, "plain", false, "plain progress lines instead of the interactive display")
	_ = scoreCmd.MarkFlagRequired("description")
}

func runScore(cmd *cobra.Command, args []string) error {
	description, err := parser.LoadDescription(scoreDescription)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := !scorePlain && isTerminal(os.Stdout)

	// The progress UI owns the terminal, so logs only go to the log file.
	logger, cleanup := scoreLogger(interactive)
	defer func() { _ = cleanup() }()

	app, err := service.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			warnf("close: %v", err)
		}
	}()

	run, err := app.Prepare(ctx, service.SubmitRequest{
		Locator:     args[0],
		Description: description,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	outcomes, runErr := scoreRun(ctx, app, run, out, interactive)

	fmt.Fprintln(out)
	printRanking(out, outcomes)
	if scoreDetailed {
		printDetails(out, outcomes)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

type runResult struct {
	outcomes []models.Outcome
	err      error
}

// scoreRun executes run while showing its progress and returns the ranked
// outcomes. Leaving the interactive display cancels the run.
func scoreRun(ctx context.Context, app *service.App, run *service.Run, out io.Writer, interactive bool) ([]models.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := progress.NewChanSink(64)
	sub, err := app.Subscribe(ctx, run.ID, sink)
	if err != nil {
		return nil, err
	}
	defer app.Registry.Unsubscribe(sub)

	done := make(chan runResult, 1)
	go func() {
		outcomes, err := app.RunSync(ctx, run)
		done <- runResult{outcomes: outcomes, err: err}
	}()

	if interactive {
		res, err := RunProgress(run.ID, sink.Events(), false)
		if err != nil {
			cancel()
			<-done
			return nil, err
		}
		if res.Quit {
			cancel()
		}
	} else {
		PrintProgress(out, sink.Events())
	}

	res := <-done
	return res.outcomes, res.err
}

func scoreLogger(interactive bool) (*slog.Logger, func() error) {
	if !interactive {
		return config.SetupLogger(cfg)
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return config.QuietLogger(io.Discard, cfg.LogLevel), func() error { return nil }
	}
	logger := config.QuietLogger(file, cfg.LogLevel)
	slog.SetDefault(logger)
	return logger, file.Close
}
