package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/raphaelgruber/resumerank/internal/models"
)

// printRanking writes outcomes, already in ranked order, as a table.
func printRanking(w io.Writer, outcomes []models.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	failed := cell.Foreground(defaultTheme.Error)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "RESUME", "SCORE", "RESULT").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row >= 0 && row < len(outcomes) && !outcomes[row].Success && col == 3:
				return failed
			default:
				return cell
			}
		})

	for i, o := range outcomes {
		t.Row(strconv.Itoa(i+1), o.Name, formatScore(o), outcomeSummary(o))
	}

	fmt.Fprintln(w, t.Render())

	var ok int
	for _, o := range outcomes {
		if o.Success {
			ok++
		}
	}
	fmt.Fprintf(w, "%d scored, %d failed\n", ok, len(outcomes)-ok)
}

func formatScore(o models.Outcome) string {
	if !o.Success {
		return "-"
	}
	return strconv.FormatFloat(o.TotalScore(), 'f', 1, 64)
}

// outcomeSummary is the first strength for a scored resume, or the failure
// kind and message.
func outcomeSummary(o models.Outcome) string {
	if !o.Success {
		msg := string(o.ErrorKind)
		if o.Error != "" {
			msg += ": " + truncate(o.Error, 60)
		}
		return msg
	}
	if o.Score != nil && len(o.Score.Strengths) > 0 {
		return truncate(o.Score.Strengths[0], 60)
	}
	return "ok"
}

// printDetails writes the full assessment for each scored outcome.
func printDetails(w io.Writer, outcomes []models.Outcome) {
	for i, o := range outcomes {
		if !o.Success || o.Score == nil {
			continue
		}
		fmt.Fprintf(w, "\n%d. %s (%.1f)\n", i+1, o.Name, o.Score.TotalScore)
		if o.Score.Narrative != "" {
			fmt.Fprintf(w, "   %s\n", o.Score.Narrative)
		}
		for _, name := range slices.Sorted(maps.Keys(o.Score.Subscores)) {
			fmt.Fprintf(w, "   %-20s %5.1f\n", name, o.Score.Subscores[name])
		}
		for _, s := range o.Score.Strengths {
			fmt.Fprintf(w, "   + %s\n", s)
		}
		for _, s := range o.Score.Improvements {
			fmt.Fprintf(w, "   - %s\n", s)
		}
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
