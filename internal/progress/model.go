// Package progress renders a live view of a segmentation run: the
// pipeline state, elapsed time, and the tail of the tool's output. A
// plain reporter covers terminals where the TUI cannot run.
package progress

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lumenimaging/segrunner/internal/domain"
)

// maxLines bounds the retained output tail.
const maxLines = 200

// TransitionMsg mirrors a pipeline state change into the UI.
type TransitionMsg struct {
	RunID string
	State domain.RunState
}

// OutputMsg carries a chunk of tool output.
type OutputMsg string

// FinishedMsg is sent when the run's Execute returns.
type FinishedMsg struct {
	Err      error
	Imported int
}

// TickMsg drives the elapsed-time clock.
type TickMsg time.Time

// Model is the run progress view.
type Model struct {
	runID   string
	state   domain.RunState
	started time.Time
	lines   []string
	partial string

	// cancel requests cooperative cancellation of the run. It is
	// armed exactly once; after the first press the affordance is
	// disabled.
	cancel          func()
	cancelRequested bool

	finished bool
	failure  string
	imported int

	width  int
	height int
}

// NewModel creates the progress model for one run. cancel may be nil.
func NewModel(runID string, cancel func()) Model {
	return Model{
		runID:   runID,
		state:   domain.StateIdle,
		started: time.Now(),
		cancel:  cancel,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.finished {
				return m, tea.Quit
			}
			return m.requestCancel()
		case "c", "ctrl+c":
			if m.finished {
				return m, tea.Quit
			}
			return m.requestCancel()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TransitionMsg:
		if msg.RunID == m.runID {
			m.state = msg.State
		}

	case OutputMsg:
		m.appendOutput(string(msg))
		return m, nil

	case FinishedMsg:
		m.finished = true
		m.imported = msg.Imported
		if msg.Err != nil {
			m.failure = msg.Err.Error()
		}
		return m, tea.Quit

	case TickMsg:
		if m.finished {
			return m, nil
		}
		return m, tickCmd()
	}

	return m, nil
}

// requestCancel arms cooperative cancellation. Single-shot: repeated
// presses do nothing.
func (m Model) requestCancel() (tea.Model, tea.Cmd) {
	if m.cancelRequested {
		return m, nil
	}
	m.cancelRequested = true
	if m.cancel != nil {
		m.cancel()
	}
	return m, nil
}

// appendOutput folds a chunk of tool output into the line tail. Chunks
// arrive mid-line, so the trailing fragment is kept until its newline
// shows up.
func (m *Model) appendOutput(text string) {
	text = m.partial + text
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	m.lines = append(m.lines, parts[:len(parts)-1]...)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}
