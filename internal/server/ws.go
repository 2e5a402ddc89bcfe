package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/resumerank/internal/progress"
)

const wsWriteTimeout = 10 * time.Second

// wsSink writes each event as one JSON text message.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSink) Send(ev progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return progress.ErrSinkClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(ev)
}

// Close sends a normal close frame and closes the connection.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	if _, err := s.app.Runs.Get(r.Context(), runID); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}

	sink := &wsSink{conn: conn}
	sub, err := s.app.Subscribe(r.Context(), runID, sink)
	if err != nil {
		s.logger.Warn("subscribe failed", "run_id", runID, "error", err)
		_ = sink.Close()
		return
	}

	// Clients never send data; reading surfaces their disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-sub.Done():
	case <-gone:
		s.logger.Debug("websocket disconnected", "run_id", runID)
	}
	s.app.Registry.Unsubscribe(sub)
}
