package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/resumerank/internal/client"
	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/parser"
)

var (
	submitDescription string
	submitRunID       string
	submitUpload      bool
	submitWatch       bool
	submitSync        bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <dir>",
	Short: "Submit a scoring run to the server",
	Long: `Submit the resumes in a directory to a resumerank server.

By default the directory is resolved on the server. With --upload the
resumes are read here and their text is sent with the request.

Examples:
  resumerank submit applicants/2024-q3 -d job.yaml
  resumerank submit ./applicants -d job.yaml --upload --watch
  resumerank submit ./applicants -d job.yaml --upload --sync`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "job description file")
	submitCmd.Flags().StringVar(&submitRunID, "run-id", "", "run id (generated by the server if empty)")
	submitCmd.Flags().BoolVar(&submitUpload, "upload", false, "read resumes locally and send their text")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow the run's progress")
	submitCmd.Flags().BoolVar(&submitSync, "sync", false, "wait for the ranking in the request itself")
	_ = submitCmd.MarkFlagRequired("description")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitWatch && submitSync {
		return fmt.Errorf("--watch and --sync cannot be combined")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	description, err := parser.LoadDescription(submitDescription)
	if err != nil {
		return err
	}

	req := client.SubmitRequest{
		RunID:       submitRunID,
		Description: description,
		Mode:        "async",
	}
	if submitSync {
		req.Mode = "sync"
	}

	if submitUpload {
		req.Documents, err = readDocuments(ctx, args[0])
		if err != nil {
			return err
		}
	} else {
		req.Locator = args[0]
	}

	resp, err := apiClient.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	out := cmd.OutOrStdout()
	if submitSync {
		printRanking(out, resp.Outcomes)
		if resp.Error != "" {
			return fmt.Errorf("run %s %s: %s", resp.RunID, resp.Status, resp.Error)
		}
		return nil
	}

	fmt.Fprintf(out, "Run %s %s\n", resp.RunID, resp.Status)
	if !submitWatch {
		fmt.Fprintf(out, "Use 'resumerank watch %s' to follow progress.\n", resp.RunID)
		return nil
	}

	return watchRun(ctx, cmd, resp.RunID, false)
}

// readDocuments extracts the text of every resume in dir.
func readDocuments(ctx context.Context, dir string) ([]client.Document, error) {
	src := documents.NewDirSource("")
	docs, err := src.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	result := make([]client.Document, 0, len(docs))
	for _, d := range docs {
		text, err := src.FetchText(ctx, d.ID)
		if err != nil {
			warnf("skipping %s: %v", d.Name, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			warnf("skipping %s: no text", d.Name)
			continue
		}
		result = append(result, client.Document{Name: d.Name, Text: text})
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no readable resumes in %s", dir)
	}
	return result, nil
}
