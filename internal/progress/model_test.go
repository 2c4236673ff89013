package progress

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lumenimaging/segrunner/internal/domain"
)

func keyMsg(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_TransitionUpdatesState(t *testing.T) {
	model := NewModel("run-1", nil)

	newModel, _ := model.Update(TransitionMsg{RunID: "run-1", State: domain.StateRunning})
	model = newModel.(Model)
	if model.state != domain.StateRunning {
		t.Errorf("state = %s, want running", model.state)
	}

	// Transitions for other runs are ignored
	newModel, _ = model.Update(TransitionMsg{RunID: "run-2", State: domain.StateFailed})
	model = newModel.(Model)
	if model.state != domain.StateRunning {
		t.Errorf("state = %s after foreign transition, want running", model.state)
	}
}

func TestModel_CancelIsSingleShot(t *testing.T) {
	calls := 0
	model := NewModel("run-1", func() { calls++ })

	newModel, _ := model.Update(keyMsg("c"))
	model = newModel.(Model)
	if calls != 1 {
		t.Fatalf("cancel calls = %d after first press, want 1", calls)
	}
	if !model.cancelRequested {
		t.Error("cancelRequested not set")
	}

	// Repeated presses, including ctrl+c, do not re-arm
	newModel, _ = model.Update(keyMsg("c"))
	model = newModel.(Model)
	newModel, _ = model.Update(keyMsg("ctrl+c"))
	model = newModel.(Model)
	if calls != 1 {
		t.Errorf("cancel calls = %d after repeated presses, want 1", calls)
	}
}

func TestModel_QuitOnlyWhenFinished(t *testing.T) {
	model := NewModel("run-1", func() {})

	// Before the run finishes, q requests cancel instead of quitting
	newModel, cmd := model.Update(keyMsg("q"))
	model = newModel.(Model)
	if cmd != nil {
		t.Error("q quit a running screen")
	}

	newModel, cmd = model.Update(FinishedMsg{Imported: 4})
	model = newModel.(Model)
	if cmd == nil {
		t.Fatal("FinishedMsg produced no quit command")
	}
	if !model.finished || model.imported != 4 {
		t.Errorf("finished = %v imported = %d", model.finished, model.imported)
	}
}

func TestModel_OutputTail(t *testing.T) {
	model := NewModel("run-1", nil)

	// Chunks split mid-line are reassembled
	newModel, _ := model.Update(OutputMsg("Processing liv"))
	model = newModel.(Model)
	newModel, _ = model.Update(OutputMsg("er\nProcessing spleen\n"))
	model = newModel.(Model)

	if len(model.lines) != 2 {
		t.Fatalf("lines = %v, want 2 entries", model.lines)
	}
	if model.lines[0] != "Processing liver" {
		t.Errorf("lines[0] = %q", model.lines[0])
	}

	// The tail is bounded
	for i := 0; i < maxLines+50; i++ {
		newModel, _ = model.Update(OutputMsg("x\n"))
		model = newModel.(Model)
	}
	if len(model.lines) != maxLines {
		t.Errorf("lines = %d, want %d", len(model.lines), maxLines)
	}
}

func TestModel_View(t *testing.T) {
	model := NewModel("0a1b2c3d-ffff", nil)
	model.width = 100
	model.height = 30
	model.state = domain.StateRunning

	view := model.View()
	if !strings.Contains(view, "0a1b2c3d") {
		t.Error("view missing run id")
	}
	if !strings.Contains(view, "Segmenting") {
		t.Error("view missing state label")
	}

	model.finished = true
	model.failure = errors.New("tool exited with status 1").Error()
	view = model.View()
	if !strings.Contains(view, "tool exited with status 1") {
		t.Error("view missing failure message")
	}
}
