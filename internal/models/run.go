package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted || s == RunStatusFailed
}

// RunProgress is the live progress of a run as seen by observers.
type RunProgress struct {
	RunID        string `json:"runId"`
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	BatchIndex   int    `json:"batchIndex"`
	TotalBatches int    `json:"totalBatches"`
	CurrentItem  string `json:"currentItem"`
	Done         bool   `json:"done"`
}

// RunRecord is a persisted run with its outcomes.
type RunRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	Status      string                 `json:"status"`
	Description string                 `json:"description"`
	Locator     *string                `json:"locator,omitempty"`
	Total       int                    `json:"total"`
	Completed   int                    `json:"completed"`
	Outcomes    []Outcome              `json:"outcomes,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}
