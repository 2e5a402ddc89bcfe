// Package progress delivers run status events to at most one observer per run.
package progress

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of a progress event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventPing      EventType = "ping"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
)

// Terminal statuses carried by complete events.
const (
	StatusCompleted  = "completed"
	StatusAborted    = "aborted"
	StatusFailed     = "failed"
	StatusSuperseded = "superseded"
)

// Event is one message on a run's progress stream. Only the fields that
// belong to the event's type are encoded.
type Event struct {
	Type         EventType `json:"type"`
	RunID        string    `json:"runId,omitempty"`
	Completed    int       `json:"completed,omitempty"`
	Total        int       `json:"total,omitempty"`
	BatchIndex   int       `json:"batchIndex,omitempty"`
	TotalBatches int       `json:"totalBatches,omitempty"`
	CurrentItem  string    `json:"currentItem,omitempty"`
	Status       string    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Connected acknowledges a new subscription.
func Connected(runID string) Event {
	return Event{Type: EventConnected, RunID: runID}
}

// Ping is the keepalive event.
func Ping() Event {
	return Event{Type: EventPing}
}

// Progress reports run advancement. batchIndex is 1-based.
func Progress(completed, total, batchIndex, totalBatches int, currentItem string) Event {
	return Event{
		Type:         EventProgress,
		Completed:    completed,
		Total:        total,
		BatchIndex:   batchIndex,
		TotalBatches: totalBatches,
		CurrentItem:  currentItem,
	}
}

// Complete is the terminal event. An empty status encodes as a bare
// {"type":"complete"}.
func Complete(status string, err error) Event {
	ev := Event{Type: EventComplete, Status: status}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Terminal reports whether the stream ends after this event.
func (e Event) Terminal() bool {
	return e.Type == EventComplete
}

// MarshalJSON keeps each event type to its documented shape. Progress
// counters are always present, even when zero.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventConnected:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			RunID string    `json:"runId"`
		}{e.Type, e.RunID})
	case EventPing:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	case EventProgress:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			Completed    int       `json:"completed"`
			Total        int       `json:"total"`
			BatchIndex   int       `json:"batchIndex"`
			TotalBatches int       `json:"totalBatches"`
			CurrentItem  string    `json:"currentItem"`
		}{e.Type, e.Completed, e.Total, e.BatchIndex, e.TotalBatches, e.CurrentItem})
	case EventComplete:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Status string    `json:"status,omitempty"`
			Error  string    `json:"error,omitempty"`
		}{e.Type, e.Status, e.Error})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
