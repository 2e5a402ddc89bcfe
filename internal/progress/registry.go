package progress

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultKeepaliveInterval is the ping period used when none is configured.
const DefaultKeepaliveInterval = 30 * time.Second

// Registry maps run ids to at most one observer sink each. Events for runs
// without a sink are dropped; nothing is buffered.
//
// A second Subscribe for the same run replaces the first sink. The replaced
// sink receives a complete event with status "superseded" and is closed.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	keepalive time.Duration
	logger    *slog.Logger
}

type entry struct {
	runID string
	sink  Sink

	// sendMu serializes delivery so one sink never sees interleaved sends.
	sendMu sync.Mutex
	closed bool

	done          chan struct{}
	finishOnce    sync.Once
	keepaliveOnce sync.Once
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	runID string
	e     *entry
}

// RunID returns the subscribed run.
func (s *Subscription) RunID() string { return s.runID }

// Done is closed once the sink is unregistered, whether by Close, by a
// replacing subscriber, by Unsubscribe, or by a failed send.
func (s *Subscription) Done() <-chan struct{} { return s.e.done }

// Option configures a Registry.
type Option func(*Registry)

// WithKeepaliveInterval sets the ping period.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.keepalive = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		keepalive: DefaultKeepaliveInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "progress")
	return r
}

// Subscribe registers sink for runID and sends it the connected event.
// The connected event is always the first event the sink receives.
func (r *Registry) Subscribe(runID string, sink Sink) *Subscription {
	e := &entry{runID: runID, sink: sink, done: make(chan struct{})}

	// Hold the new entry's send lock until connected is delivered so a
	// concurrent Publish cannot overtake it.
	e.sendMu.Lock()
	r.mu.Lock()
	prev := r.entries[runID]
	r.entries[runID] = e
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("replacing observer", "run_id", runID)
		_ = prev.send(Complete(StatusSuperseded, nil))
		prev.finish()
	}

	err := sink.Send(Connected(runID))
	e.sendMu.Unlock()
	if err != nil {
		r.logger.Debug("observer gone before connect", "run_id", runID, "error", err)
		r.drop(e)
	} else {
		r.logger.Debug("observer subscribed", "run_id", runID)
	}

	return &Subscription{runID: runID, e: e}
}

// Publish delivers ev to the run's sink, if any. A failed send unregisters
// the sink.
func (r *Registry) Publish(runID string, ev Event) {
	e := r.lookup(runID)
	if e == nil {
		return
	}
	if err := e.send(ev); err != nil {
		r.logger.Debug("observer disconnected", "run_id", runID, "error", err)
		r.drop(e)
	}
}

// Keepalive pings the run's current sink every interval until that sink is
// unregistered or replaced. It is a no-op when no sink is registered.
func (r *Registry) Keepalive(runID string) {
	e := r.lookup(runID)
	if e == nil {
		return
	}
	e.keepaliveOnce.Do(func() {
		go r.ping(e)
	})
}

func (r *Registry) ping(e *entry) {
	ticker := time.NewTicker(r.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			if err := e.send(Ping()); err != nil {
				r.drop(e)
				return
			}
		}
	}
}

// Close delivers the terminal event and unregisters the sink. It is a no-op
// when nothing is registered for runID.
func (r *Registry) Close(runID string, ev Event) {
	r.mu.Lock()
	e := r.entries[runID]
	delete(r.entries, runID)
	r.mu.Unlock()

	if e == nil {
		return
	}
	_ = e.send(ev)
	e.finish()
	r.logger.Debug("observer closed", "run_id", runID, "status", ev.Status)
}

// Unsubscribe removes the subscription after a transport-level disconnect.
// A sink that already replaced it is left untouched.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.drop(sub.e)
}

// Active returns the number of registered sinks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(runID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[runID]
}

// drop unregisters e if it is still the current entry for its run, then
// closes it.
func (r *Registry) drop(e *entry) {
	r.mu.Lock()
	if r.entries[e.runID] == e {
		delete(r.entries, e.runID)
	}
	r.mu.Unlock()
	e.finish()
}

func (e *entry) send(ev Event) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.closed {
		return ErrSinkClosed
	}
	return e.sink.Send(ev)
}

func (e *entry) finish() {
	e.finishOnce.Do(func() {
		e.sendMu.Lock()
		e.closed = true
		_ = e.sink.Close()
		e.sendMu.Unlock()
		close(e.done)
	})
}
