package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/resumerank/internal/models"
)

// CreateRun stores a new run in the created state. A duplicate id returns
// ErrAlreadyExists.
func (c *Client) CreateRun(ctx context.Context, id, description string, locator *string, total int) error {
	content := map[string]any{
		"status":      string(models.RunStatusCreated),
		"description": description,
		"total":       total,
	}
	// option<> fields reject NULL, so absent values are left out entirely.
	if locator != nil {
		content["locator"] = *locator
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("run", $id) CONTENT $content
	`, map[string]any{"id": id, "content": content})
	if err != nil {
		return fmt.Errorf("create run: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateRunProgress records the status and completed count of a live run.
func (c *Client) UpdateRunProgress(ctx context.Context, id string, status models.RunStatus, completed int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("run", $id) SET
			status = $status,
			completed = $completed
	`, map[string]any{"id": id, "status": string(status), "completed": completed})
	if err != nil {
		return fmt.Errorf("update run progress: %w", wrapQueryError(err))
	}
	return nil
}

// CompleteRun stores the final status and ranked outcomes of a run.
func (c *Client) CompleteRun(ctx context.Context, id string, status models.RunStatus, outcomes []models.Outcome, runErr error) error {
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	completed := 0
	for _, o := range outcomes {
		if o.ErrorKind != models.ErrorKindAborted {
			completed++
		}
	}

	sql := `
		UPDATE type::record("run", $id) SET
			status = $status,
			completed = $completed,
			outcomes = $outcomes,
			completed_at = time::now()
	`
	vars := map[string]any{
		"id":        id,
		"status":    string(status),
		"completed": completed,
		"outcomes":  outcomes,
	}
	if runErr != nil {
		sql += `, error = $error`
		vars["error"] = runErr.Error()
	}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("complete run: %w", wrapQueryError(err))
	}
	return nil
}

// GetRun loads one run. Returns ErrNotFound if it does not exist.
func (c *Client) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	results, err := surrealdb.Query[[]models.RunRecord](ctx, c.db, `
		SELECT * FROM type::record("run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return &(*results)[0].Result[0], nil
}

// ListRuns returns the most recent runs first, without outcomes.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	results, err := surrealdb.Query[[]models.RunRecord](ctx, c.db, `
		SELECT * OMIT outcomes FROM run ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.RunRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// FailInterruptedRuns marks runs left unfinished by a previous process as
// failed and returns their ids. Runs cannot be resumed: the limiter state and
// in-flight calls died with that process.
func (c *Client) FailInterruptedRuns(ctx context.Context) ([]string, error) {
	results, err := surrealdb.Query[[]models.RunRecord](ctx, c.db, `
		UPDATE run SET
			status = "failed",
			error = "interrupted by server restart",
			completed_at = time::now()
		WHERE status IN ["created", "running"]
		RETURN AFTER
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("fail interrupted runs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return ids, fmt.Errorf("fail interrupted runs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
