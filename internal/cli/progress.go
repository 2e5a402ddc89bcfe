package cli

import (
	"fmt"
	"io"

	progressbar "charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/resumerank/internal/progress"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries the next event from the run's stream. ok is false once
// the stream is closed.
type eventMsg struct {
	ev progress.Event
	ok bool
}

// progressModel is the bubbletea model for a run's progress stream.
type progressModel struct {
	runID  string
	events <-chan progress.Event
	bar    progressbar.Model
	theme  Theme

	// detachable runs keep going on the server when the UI is left.
	detachable bool

	last     progress.Event
	final    *progress.Event
	closed   bool
	quitting bool
}

func newProgressModel(runID string, events <-chan progress.Event, detachable bool) progressModel {
	bar := progressbar.New(
		progressbar.WithDefaultBlend(),
		progressbar.WithWidth(40),
	)

	return progressModel{
		runID:      runID,
		events:     events,
		bar:        bar,
		theme:      defaultTheme,
		detachable: detachable,
	}
}

// Init starts reading the stream.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.events),
		m.bar.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		if !msg.ok {
			m.closed = true
			return m, tea.Quit
		}

		switch msg.ev.Type {
		case progress.EventProgress:
			// Jobs of one batch may report out of order.
			if msg.ev.Completed >= m.last.Completed {
				m.last = msg.ev
			}
		case progress.EventComplete:
			ev := msg.ev
			m.final = &ev
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case progressbar.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.quitting || m.final != nil || m.closed {
		return m.finalView()
	}

	if m.last.Type == "" {
		return m.theme.statusStyle().Render("[waiting]") + " " + m.bar.ViewAs(0) + "\n"
	}

	var pct float64
	if m.last.Total > 0 {
		pct = float64(m.last.Completed) / float64(m.last.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[batch %d/%d]", m.last.BatchIndex, m.last.TotalBatches))
	counts := fmt.Sprintf("%d/%d resumes", m.last.Completed, m.last.Total)

	var current string
	if m.last.CurrentItem != "" {
		current = "  " + m.last.CurrentItem + "\n"
	}

	hint := "Press Ctrl+C to cancel the run"
	if m.detachable {
		hint = "Press Ctrl+C to continue in background"
	}

	return fmt.Sprintf("%s %s %s\n%s%s\n", status, m.bar.ViewAs(pct), counts, current, m.theme.hintStyle().Render(hint))
}

func (m progressModel) finalView() string {
	if m.quitting {
		if m.detachable {
			msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'resumerank runs %s' to check status.\n",
				m.runID, m.runID)
			return m.theme.hintStyle().Render(msg)
		}
		return m.theme.hintStyle().Render(fmt.Sprintf("\nCancelling run %s...\n", m.runID))
	}

	if m.final == nil {
		return m.theme.hintStyle().Render("\nProgress stream closed.\n")
	}

	switch m.final.Status {
	case progress.StatusCompleted, "":
		return m.theme.completedStyle().Render("✓ Completed") + "\n"
	case progress.StatusSuperseded:
		return m.theme.hintStyle().Render("\nAnother observer took over this run.\n")
	default:
		msg := fmt.Sprintf("✗ Run %s", m.final.Status)
		if m.final.Error != "" {
			msg += ": " + m.final.Error
		}
		return m.theme.errorStyle().Render(msg) + "\n"
	}
}

// waitForEvent reads one event in a command so Update never blocks.
func waitForEvent(events <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return eventMsg{ev: ev, ok: ok}
	}
}

// ProgressResult is how a progress display ended.
type ProgressResult struct {
	// Final is the run's complete event, nil if the stream ended without one.
	Final *progress.Event
	// Quit is set when the user left the display before the run finished.
	Quit bool
}

// RunProgress runs the interactive progress UI for a run until its complete
// event, the end of the stream, or the user quitting.
func RunProgress(runID string, events <-chan progress.Event, detachable bool) (ProgressResult, error) {
	p := tea.NewProgram(newProgressModel(runID, events, detachable))

	finalModel, err := p.Run()
	if err != nil {
		return ProgressResult{}, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return ProgressResult{}, nil
	}
	return ProgressResult{Final: m.final, Quit: m.quitting}, nil
}

// PrintProgress writes one line per event for non-interactive output and
// returns once the stream closes.
func PrintProgress(w io.Writer, events <-chan progress.Event) ProgressResult {
	var res ProgressResult
	for ev := range events {
		switch ev.Type {
		case progress.EventConnected:
			fmt.Fprintf(w, "Watching run %s\n", ev.RunID)
		case progress.EventProgress:
			fmt.Fprintf(w, "[batch %d/%d] %d/%d %s\n",
				ev.BatchIndex, ev.TotalBatches, ev.Completed, ev.Total, ev.CurrentItem)
		case progress.EventComplete:
			final := ev
			res.Final = &final
			fmt.Fprintf(w, "Run %s", statusOrCompleted(ev.Status))
			if ev.Error != "" {
				fmt.Fprintf(w, ": %s", ev.Error)
			}
			fmt.Fprintln(w)
		}
	}
	return res
}

func statusOrCompleted(status string) string {
	if status == "" {
		return progress.StatusCompleted
	}
	return status
}
