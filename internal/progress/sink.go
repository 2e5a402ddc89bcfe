package progress

import (
	"errors"
	"sync"
)

// ErrSinkClosed is returned by Send after the sink was closed.
var ErrSinkClosed = errors.New("sink closed")

// Sink is an observer's delivery channel. Transports implement it; the
// registry owns it from Subscribe until it closes it.
//
// Send must not block for long: it is called from scheduler goroutines.
// A Send error is treated as a disconnect.
type Sink interface {
	Send(Event) error
	Close() error
}

// ChanSink delivers events to an in-process reader through a buffered
// channel. Events that do not fit in the buffer are dropped.
type ChanSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Events is closed once the registry closes the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

func (s *ChanSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- ev:
	default:
	}
	return nil
}

func (s *ChanSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
