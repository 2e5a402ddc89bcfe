// Package client provides an HTTP client for the resumerank server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/progress"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

// ErrNotFound is returned when the server reports an unknown run.
var ErrNotFound = errors.New("not found")

// errStop ends a stream early without reporting an error.
var errStop = errors.New("stop")

// Client talks to a resumerank server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; progress streams last as long as the run.
	streamClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses RESUMERANK_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via RESUMERANK_CLIENT_TIMEOUT (default 10m for sync runs).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("RESUMERANK_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("RESUMERANK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// Document is a document submitted with its text.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// SubmitRequest is the body of a run submission.
type SubmitRequest struct {
	RunID       string     `json:"runId,omitempty"`
	Locator     string     `json:"locator,omitempty"`
	Documents   []Document `json:"documents,omitempty"`
	Description string     `json:"description"`
	Mode        string     `json:"mode,omitempty"` // "async" (default) or "sync"
}

// SubmitResponse is the server's answer to a submission.
type SubmitResponse struct {
	RunID    string           `json:"runId"`
	Status   string           `json:"status"`
	Outcomes []models.Outcome `json:"outcomes,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Run is a run as reported by the server.
type Run struct {
	ID          string             `json:"runId"`
	Status      models.RunStatus   `json:"status"`
	Description string             `json:"description"`
	Locator     *string            `json:"locator,omitempty"`
	Progress    models.RunProgress `json:"progress"`
	Outcomes    []models.Outcome   `json:"outcomes,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return responseError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func responseError(resp *http.Response, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("server error: %s - %s", resp.Status, msg)
}

// Submit creates a run.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun fetches one run with its outcomes.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists runs, most recent first.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var result struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/runs", nil, &result); err != nil {
		return nil, err
	}
	return result.Runs, nil
}

// Limits returns the server's quota usage.
func (c *Client) Limits(ctx context.Context) (*ratelimit.Status, error) {
	var status ratelimit.Status
	if err := c.do(ctx, http.MethodGet, "/limits", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// PROGRESS STREAMS
// =============================================================================

// StreamEvents reads a run's server-sent events and calls onEvent for each,
// until the complete event, ctx cancellation, or an error from onEvent.
func (c *Client) StreamEvents(ctx context.Context, runID string, onEvent func(progress.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(runID)+"/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return responseError(resp, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev progress.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := handle(ev, onEvent); err != nil {
			return filterStop(err)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// WatchWS is StreamEvents over the WebSocket endpoint.
func (c *Client) WatchWS(ctx context.Context, runID string, onEvent func(progress.Event) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/runs/" + url.PathEscape(runID) + "/ws")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := handle(ev, onEvent); err != nil {
			return filterStop(err)
		}
	}
}

// handle delivers ev and returns errStop after the terminal event.
func handle(ev progress.Event, onEvent func(progress.Event) error) error {
	if onEvent != nil {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if ev.Terminal() {
		return errStop
	}
	return nil
}

func filterStop(err error) error {
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}
