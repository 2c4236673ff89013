package progress

import (
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lumenimaging/segrunner/internal/domain"
)

// Reporter receives run progress: tool output chunks via Write (it is
// a procexec.Sink), state changes via Transition, and the final result
// via Finish.
type Reporter interface {
	Write(text string)
	Transition(runID string, state domain.RunState)
	Finish(err error, imported int)
}

// UI drives the bubbletea progress screen for one run.
type UI struct {
	prog *tea.Program
}

// NewUI builds the screen for a run. cancel is invoked on the first
// cancel keypress.
func NewUI(runID string, cancel func()) *UI {
	return &UI{prog: tea.NewProgram(NewModel(runID, cancel))}
}

// Run blocks until the screen exits. Call Finish from another
// goroutine when the run completes.
func (u *UI) Run() error {
	_, err := u.prog.Run()
	return err
}

func (u *UI) Write(text string) {
	u.prog.Send(OutputMsg(text))
}

func (u *UI) Transition(runID string, state domain.RunState) {
	u.prog.Send(TransitionMsg{RunID: runID, State: state})
}

func (u *UI) Finish(err error, imported int) {
	u.prog.Send(FinishedMsg{Err: err, Imported: imported})
}

// Plain reports progress through the standard logger, for batch runs
// and terminals without TUI support.
type Plain struct{}

func (Plain) Write(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line != "" {
			log.Printf("[tool] %s", line)
		}
	}
}

func (Plain) Transition(runID string, state domain.RunState) {
	log.Printf("[run %s] %s", shortID(runID), stateLabel(state))
}

func (Plain) Finish(err error, imported int) {
	if err != nil {
		log.Printf("[run] failed: %v", err)
		return
	}
	log.Printf("[run] done, %d files imported", imported)
}
