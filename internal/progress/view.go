package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lumenimaging/segrunner/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	cancelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var stateLabels = map[domain.RunState]string{
	domain.StateIdle:                    "Preparing",
	domain.StateExporting:               "Exporting source series",
	domain.StateBuildingConfiguration:   "Building run configuration",
	domain.StateEnsuringDependencies:    "Checking Python environment",
	domain.StateLaunching:               "Launching segmentation",
	domain.StateRunning:                 "Segmenting",
	domain.StateValidating:              "Validating output",
	domain.StateClassifyingAndImporting: "Classifying results",
	domain.StateConverting:              "Converting to RT structures",
	domain.StateImporting:               "Importing results",
	domain.StateVisualizing:             "Updating viewer",
	domain.StateAuditing:                "Writing audit trail",
	domain.StateDone:                    "Done",
	domain.StateFailed:                  "Failed",
}

func stateLabel(s domain.RunState) string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return string(s)
}

// View renders the progress screen
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	elapsed := time.Since(m.started).Round(time.Second)
	header := fmt.Sprintf(" segrunner │ run %s │ %s ", shortID(m.runID), elapsed)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderState())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderOutput()))
	b.WriteString("\n")

	b.WriteString(m.renderFooter())
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderState() string {
	label := stateLabel(m.state)
	switch {
	case m.finished && m.failure != "":
		return failedStyle.Render(" ✗ " + m.failure)
	case m.finished:
		return doneStyle.Render(fmt.Sprintf(" ✓ Done, %d files imported", m.imported))
	case m.cancelRequested:
		return cancelStyle.Render(" " + label + " (cancelling...)")
	default:
		return stateStyle.Render(" " + label + "...")
	}
}

func (m Model) renderOutput() string {
	visible := m.height - 8
	if visible < 3 {
		visible = 3
	}

	lines := m.lines
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	if len(lines) == 0 {
		return dimmedStyle.Render("(no output yet)")
	}

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(outputStyle.Render(truncate(line, m.width-6)))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	switch {
	case m.finished:
		return dimmedStyle.Render(" q: quit")
	case m.cancelRequested:
		return dimmedStyle.Render(" cancel requested, waiting for the run to wind down")
	default:
		return dimmedStyle.Render(" c: cancel run")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	return s[:width-1] + "…"
}
