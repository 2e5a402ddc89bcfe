package cli

import (
	"bytes"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/resumerank/internal/progress"
)

func update(t *testing.T, m progressModel, msg tea.Msg) (progressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(progressModel)
	require.True(t, ok)
	return pm, cmd
}

func TestProgressModelTracksEvents(t *testing.T) {
	events := make(chan progress.Event, 4)
	m := newProgressModel("run1", events, false)
	assert.Contains(t, m.renderContent(), "[waiting]")

	m, cmd := update(t, m, eventMsg{ev: progress.Connected("run1"), ok: true})
	assert.NotNil(t, cmd)

	m, _ = update(t, m, eventMsg{ev: progress.Progress(2, 5, 1, 3, "alice.pdf"), ok: true})
	view := m.renderContent()
	assert.Contains(t, view, "[batch 1/3]")
	assert.Contains(t, view, "2/5 resumes")
	assert.Contains(t, view, "alice.pdf")
	assert.Contains(t, view, "cancel the run")

	m, _ = update(t, m, eventMsg{ev: progress.Ping(), ok: true})
	assert.Equal(t, 2, m.last.Completed)

	m, _ = update(t, m, eventMsg{ev: progress.Progress(1, 5, 1, 3, "bob.pdf"), ok: true})
	assert.Equal(t, 2, m.last.Completed)
	assert.Contains(t, m.renderContent(), "2/5 resumes")

	m, _ = update(t, m, eventMsg{ev: progress.Complete(progress.StatusCompleted, nil), ok: true})
	require.NotNil(t, m.final)
	assert.Contains(t, m.renderContent(), "Completed")
}

func TestProgressModelFinalViews(t *testing.T) {
	tests := []struct {
		name       string
		detachable bool
		msg        tea.Msg
		want       string
	}{
		{"aborted", false, eventMsg{ev: progress.Complete(progress.StatusAborted, assert.AnError), ok: true}, "Run aborted: " + assert.AnError.Error()},
		{"superseded", true, eventMsg{ev: progress.Complete(progress.StatusSuperseded, nil), ok: true}, "Another observer"},
		{"stream closed", true, eventMsg{ok: false}, "Progress stream closed"},
		{"quit detached", true, tea.KeyPressMsg{Code: 'q', Text: "q"}, "continues in background"},
		{"quit local", false, tea.KeyPressMsg{Code: 'q', Text: "q"}, "Cancelling run run1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newProgressModel("run1", nil, tt.detachable)
			m, cmd := update(t, m, tt.msg)
			assert.NotNil(t, cmd)
			assert.Contains(t, m.renderContent(), tt.want)
		})
	}
}

func TestWaitForEvent(t *testing.T) {
	events := make(chan progress.Event, 1)
	events <- progress.Ping()
	msg := waitForEvent(events)()
	assert.Equal(t, eventMsg{ev: progress.Ping(), ok: true}, msg)

	close(events)
	assert.Equal(t, eventMsg{}, waitForEvent(events)())
}

func TestPrintProgress(t *testing.T) {
	events := make(chan progress.Event, 4)
	events <- progress.Connected("run1")
	events <- progress.Progress(1, 2, 1, 1, "bob.txt")
	events <- progress.Complete(progress.StatusAborted, assert.AnError)
	close(events)

	var buf bytes.Buffer
	res := PrintProgress(&buf, events)

	require.NotNil(t, res.Final)
	assert.Equal(t, progress.StatusAborted, res.Final.Status)
	assert.Equal(t, "Watching run run1\n[batch 1/1] 1/2 bob.txt\nRun aborted: "+assert.AnError.Error()+"\n", buf.String())
}
