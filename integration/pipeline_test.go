//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lumenimaging/segrunner/internal/audit"
	"github.com/lumenimaging/segrunner/internal/domain"
	"github.com/lumenimaging/segrunner/internal/export"
	"github.com/lumenimaging/segrunner/internal/hostbridge"
	"github.com/lumenimaging/segrunner/internal/orchestrator"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
	"github.com/lumenimaging/segrunner/internal/runstore"
)

// buildPipeline wires a headless pipeline around a fake interpreter,
// the way cmd/segrunner does without a bridge URL.
func buildPipeline(t *testing.T, interpreter, storeDir, auditPath string) (*orchestrator.Orchestrator, *runstore.Store, func()) {
	t.Helper()

	runs, err := runstore.New(TempDBPath(t))
	if err != nil {
		t.Fatalf("opening run store: %v", err)
	}
	dispatch := hostbridge.NewSerialDispatcher()
	headless := &hostbridge.HeadlessHost{Store: hostbridge.FileStore{Root: storeDir}}
	auditW := audit.NewWriter(auditPath)
	engine := procexec.NewEngine()

	orch := &orchestrator.Orchestrator{
		Exporter: &export.DirectoryExporter{WorkRoot: t.TempDir()},
		Resolver: &pyenv.StaticResolver{Runtime: pyenv.Runtime{Program: interpreter}},
		Engine:   engine,
		Importer: &hostbridge.Importer{Store: headless, Dispatch: dispatch},
		Visualizer: &hostbridge.Visualizer{
			Viewers:  headless,
			Browser:  headless,
			Waiter:   &hostbridge.RegistryPoller{Registry: headless},
			Dispatch: dispatch,
		},
		Runs:  runs,
		Audit: auditW,
	}
	t.Cleanup(func() { runs.Close() })
	cleanup := func() {
		auditW.Close()
		dispatch.Close()
	}
	return orch, runs, cleanup
}

func TestPipeline_EndToEnd(t *testing.T) {
	interpreter := FakeInterpreter(t, fakeInterpreterScript)
	series := SampleSeries(t, 3)
	storeDir := t.TempDir()
	auditPath := filepath.Join(t.TempDir(), "audit.ndjson")

	orch, runs, cleanup := buildPipeline(t, interpreter, storeDir, auditPath)
	run := orch.NewRun(domain.RunConfiguration{Task: "total"})

	outcome, err := run.Execute(context.Background(), export.SeriesRef{
		Directory: series,
		Modality:  domain.ModalityCT,
	})
	cleanup()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := len(outcome.Import.AddedFilePaths); got != 2 {
		t.Errorf("imported %d files, want 2", got)
	}
	if got := len(outcome.Import.RTStructPaths); got != 1 {
		t.Errorf("imported %d structure sets, want 1", got)
	}

	// Both artifacts landed in the content-addressed store
	entries, err := os.ReadDir(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	stored := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			stored++
		}
	}
	if stored != 2 {
		t.Errorf("store holds %d objects, want 2", stored)
	}

	// The run record reached its terminal state
	record, err := runs.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if record.State != domain.StateDone {
		t.Errorf("state = %s, want done", record.State)
	}
	if record.ImportedCount != 2 || record.RTStructCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", record.ImportedCount, record.RTStructCount)
	}

	// The audit trail recorded the run with the probed tool version
	auditEntries, err := audit.ReadAll(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(auditEntries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(auditEntries))
	}
	entry := auditEntries[0]
	if entry.RunID != run.ID {
		t.Errorf("audit run id = %s, want %s", entry.RunID, run.ID)
	}
	if entry.ToolVersion != "2.4.0" {
		t.Errorf("tool version = %q, want 2.4.0", entry.ToolVersion)
	}
	if len(entry.Series) != 1 || entry.Series[0].SliceCount != 3 {
		t.Errorf("series audit = %+v, want one series with 3 slices", entry.Series)
	}
}

func TestPipeline_MissingTool(t *testing.T) {
	interpreter := FakeInterpreter(t, brokenInterpreterScript)
	series := SampleSeries(t, 1)
	auditPath := filepath.Join(t.TempDir(), "audit.ndjson")

	orch, runs, cleanup := buildPipeline(t, interpreter, t.TempDir(), auditPath)
	defer cleanup()
	run := orch.NewRun(domain.RunConfiguration{})

	_, err := run.Execute(context.Background(), export.SeriesRef{
		Directory: series,
		Modality:  domain.ModalityCT,
	})
	if err == nil {
		t.Fatal("expected a failure for the missing tool")
	}

	var runErr *orchestrator.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %T, want *RunError", err)
	}
	if runErr.State != domain.StateEnsuringDependencies {
		t.Errorf("failed at %s, want ensuring_dependencies", runErr.State)
	}
	if !strings.Contains(runErr.Message, "pip install") {
		t.Errorf("message = %q, want the install remediation", runErr.Message)
	}

	record, err := runs.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if record.State != domain.StateFailed {
		t.Errorf("state = %s, want failed", record.State)
	}
}

func TestPipeline_RejectsUnsupportedModality(t *testing.T) {
	interpreter := FakeInterpreter(t, fakeInterpreterScript)
	auditPath := filepath.Join(t.TempDir(), "audit.ndjson")

	orch, _, cleanup := buildPipeline(t, interpreter, t.TempDir(), auditPath)
	defer cleanup()
	run := orch.NewRun(domain.RunConfiguration{})

	_, err := run.Execute(context.Background(), export.SeriesRef{
		Directory: SampleSeries(t, 1),
		Modality:  domain.Modality("US"),
	})
	var runErr *orchestrator.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %v, want *RunError", err)
	}
	if runErr.State != domain.StateExporting {
		t.Errorf("failed at %s, want exporting", runErr.State)
	}
}
