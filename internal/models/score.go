// Package models defines data structures shared by the resumerank services.
package models

// ScoreResult is the structured assessment returned by the scoring service
// for one document against one description.
type ScoreResult struct {
	Subscores    map[string]float64 `json:"subscores"`
	Strengths    []string           `json:"strengths"`
	Improvements []string           `json:"improvements"`
	TotalScore   float64            `json:"totalScore"`
	Narrative    string             `json:"narrative"`
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindDailyQuota        ErrorKind = "daily_quota"
	ErrorKindScoringRejected   ErrorKind = "scoring_rejected"
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
	ErrorKindScoringFatal      ErrorKind = "scoring_fatal"
	ErrorKindDocumentFetch     ErrorKind = "document_fetch"
	ErrorKindAborted           ErrorKind = "aborted"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// Outcome is the terminal record for one job of a run.
type Outcome struct {
	JobID     string       `json:"jobId"`
	Name      string       `json:"name"`
	Index     int          `json:"index"` // position in the submitted job list
	Success   bool         `json:"success"`
	Score     *ScoreResult `json:"score,omitempty"`
	ErrorKind ErrorKind    `json:"errorKind,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// TotalScore returns the outcome's total score, or 0 for failures.
func (o Outcome) TotalScore() float64 {
	if !o.Success || o.Score == nil {
		return 0
	}
	return o.Score.TotalScore
}
