package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/resumerank/internal/client"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

func TestPrintRanking(t *testing.T) {
	outcomes := []models.Outcome{
		{Name: "carol.pdf", Success: true, Score: &models.ScoreResult{TotalScore: 91.5, Strengths: []string{"Go experience"}}},
		{Name: "alice.pdf", Success: true, Score: &models.ScoreResult{TotalScore: 72}},
		{Name: "bob.pdf", ErrorKind: models.ErrorKindDailyQuota, Error: "daily quota exceeded"},
	}

	var buf bytes.Buffer
	printRanking(&buf, outcomes)
	out := buf.String()

	assert.Contains(t, out, "carol.pdf")
	assert.Contains(t, out, "91.5")
	assert.Contains(t, out, "Go experience")
	assert.Contains(t, out, "72.0")
	assert.Contains(t, out, "daily_quota: daily quota exceeded")
	assert.Contains(t, out, "2 scored, 1 failed")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("carol.pdf")), bytes.Index(buf.Bytes(), []byte("bob.pdf")))
}

func TestPrintRankingEmpty(t *testing.T) {
	var buf bytes.Buffer
	printRanking(&buf, nil)
	assert.Equal(t, "No results\n", buf.String())
}

func TestPrintDetails(t *testing.T) {
	var buf bytes.Buffer
	printDetails(&buf, []models.Outcome{
		{Name: "failed.pdf"},
		{Name: "alice.pdf", Success: true, Score: &models.ScoreResult{
			TotalScore:   80,
			Narrative:    "Solid backend profile.",
			Subscores:    map[string]float64{"skills": 40, "experience": 30},
			Strengths:    []string{"APIs"},
			Improvements: []string{"No cloud work"},
		}},
	})

	out := buf.String()
	assert.NotContains(t, out, "failed.pdf")
	assert.Contains(t, out, "2. alice.pdf (80.0)")
	assert.Contains(t, out, "+ APIs")
	assert.Contains(t, out, "- No cloud work")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("experience")), bytes.Index(buf.Bytes(), []byte("skills")))
}

func TestTruncateFlattensNewlines(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 20, "line one line two"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.maxLen))
	}
}

func TestPrintRuns(t *testing.T) {
	locator := "applicants"
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	runs := []client.Run{
		{ID: "abc12345", Status: models.RunStatusRunning, Locator: &locator, Progress: models.RunProgress{Completed: 2, Total: 5}, StartedAt: started},
		{ID: "def67890", Status: models.RunStatusCompleted, Progress: models.RunProgress{Completed: 1, Total: 1}, StartedAt: started},
	}

	var buf bytes.Buffer
	printRuns(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "2/5")
	assert.Contains(t, out, "applicants")
	assert.Contains(t, out, "inline")

	buf.Reset()
	printRuns(&buf, nil)
	assert.Equal(t, "No runs found\n", buf.String())
}

func TestPrintRun(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	run := &client.Run{
		ID:          "abc12345",
		Status:      models.RunStatusAborted,
		Description: "Backend engineer",
		Progress:    models.RunProgress{Completed: 1, Total: 3, BatchIndex: 1, TotalBatches: 2, Done: true},
		Error:       "run aborted",
		StartedAt:   started,
		CompletedAt: &completed,
		Outcomes:    []models.Outcome{{Name: "a.pdf", Success: true, Score: &models.ScoreResult{TotalScore: 50}}},
	}

	var buf bytes.Buffer
	printRun(&buf, run)
	out := buf.String()

	assert.Contains(t, out, "Status: aborted")
	assert.Contains(t, out, "Progress: 1/3\n")
	assert.Contains(t, out, "Duration: 1m30s")
	assert.Contains(t, out, "Error: run aborted")
	assert.Contains(t, out, "Backend engineer")
	assert.Contains(t, out, "a.pdf")
}

func TestPrintLimits(t *testing.T) {
	tests := []struct {
		name string
		next int64
		want string
	}{
		{"available", 0, "Next slot:   now"},
		{"waiting", 1500, "Next slot:   in 1500ms"},
		{"spent", -1, "daily quota spent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printLimits(&buf, &ratelimit.Status{MinuteUsed: 3, MinuteLimit: 15, DayUsed: 40, DayLimit: 1500, Day: "2024-05-01", NextSlotMs: tt.next})
			assert.Contains(t, buf.String(), "Today:       40/1500")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
