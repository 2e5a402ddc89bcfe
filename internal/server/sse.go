package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/raphaelgruber/resumerank/internal/progress"
)

const sseWriteTimeout = 10 * time.Second

// sseSink writes events as "data: <json>\n\n" frames.
type sseSink struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) Send(ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return progress.ErrSinkClosed
	}
	// A client that stops reading fails the write and is dropped.
	_ = s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Close stops further writes. The response itself ends when the handler
// returns.
func (s *sseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	if _, err := s.app.Runs.Get(ctx, runID); err != nil {
		s.writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout; each event sets its own.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("streaming unsupported", "run_id", runID, "error", err)
		return
	}

	sub, err := s.app.Subscribe(ctx, runID, newSSESink(w))
	if err != nil {
		s.logger.Warn("subscribe failed", "run_id", runID, "error", err)
		return
	}

	select {
	case <-sub.Done():
	case <-ctx.Done():
		s.logger.Debug("event stream disconnected", "run_id", runID)
	}
	s.app.Registry.Unsubscribe(sub)
}
