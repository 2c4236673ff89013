package hostbridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenimaging/segrunner/internal/classify"
	"github.com/lumenimaging/segrunner/internal/domain"
)

// fakeStore records import batches and hands out scripted handles.
type fakeStore struct {
	batches [][]string
	ids     [][]ObjectID
	err     error
}

func (s *fakeStore) ImportFiles(paths []string) ([]ObjectID, error) {
	s.batches = append(s.batches, paths)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.ids) == 0 {
		return nil, nil
	}
	ids := s.ids[0]
	s.ids = s.ids[1:]
	return ids, nil
}

func TestImporter_TwoPassesAndDedupe(t *testing.T) {
	store := &fakeStore{ids: [][]ObjectID{
		{"series", "series"},
		{"rtstruct", "series"},
	}}
	im := &Importer{Store: store, Dispatch: DirectDispatcher{}}

	// rt.dcm appears in both lists, the way the classifier reports it
	c := classify.Classification{
		DICOMFiles:    []string{"a.dcm", "b.dcm", "rt.dcm"},
		RTStructFiles: []string{"rt.dcm"},
	}
	result, err := im.ImportClassified(c, domain.OutputDICOM)
	if err != nil {
		t.Fatalf("ImportClassified: %v", err)
	}

	if len(store.batches) != 2 {
		t.Fatalf("got %d import batches, want 2", len(store.batches))
	}
	if store.batches[0][0] != "a.dcm" || store.batches[1][0] != "rt.dcm" {
		t.Errorf("batch order wrong: %v", store.batches)
	}

	want := []string{"series", "rtstruct"}
	if len(result.ImportedObjectIDs) != len(want) {
		t.Fatalf("got handles %v, want %v", result.ImportedObjectIDs, want)
	}
	for i, id := range want {
		if result.ImportedObjectIDs[i] != id {
			t.Errorf("handle[%d] = %s, want %s", i, result.ImportedObjectIDs[i], id)
		}
	}
	if len(result.RTStructPaths) != 1 {
		t.Errorf("RTStructPaths = %v, want 1 entry", result.RTStructPaths)
	}
}

func TestImporter_NothingImportable(t *testing.T) {
	im := &Importer{Store: &fakeStore{}, Dispatch: DirectDispatcher{}}
	_, err := im.ImportClassified(classify.Classification{}, domain.OutputDICOM)
	if !errors.Is(err, ErrNothingImportable) {
		t.Errorf("err = %v, want ErrNothingImportable", err)
	}
}

// countingRegistry reports the task present for the first n polls.
type countingRegistry struct {
	remaining int
	polls     int
}

func (r *countingRegistry) HasTask(string) (bool, error) {
	r.polls++
	if r.remaining > 0 {
		r.remaining--
		return true, nil
	}
	return false, nil
}

func TestRegistryPoller_CompletesAndTimesOut(t *testing.T) {
	reg := &countingRegistry{remaining: 3}
	p := &RegistryPoller{Registry: reg, Interval: time.Millisecond, Timeout: time.Second}
	if err := p.AwaitCompletion(context.Background(), "Region Conversion"); err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if reg.polls < 4 {
		t.Errorf("polls = %d, want at least 4", reg.polls)
	}

	stuck := &countingRegistry{remaining: 1 << 30}
	p = &RegistryPoller{Registry: stuck, Interval: time.Millisecond, Timeout: 10 * time.Millisecond}
	err := p.AwaitCompletion(context.Background(), "Region Conversion")
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("err = %v, want ErrWaitTimeout", err)
	}
}

// scriptedViewer records calls.
type scriptedViewer struct {
	calls []string
}

func (v *scriptedViewer) ApplyOverlay([]ObjectID) error {
	v.calls = append(v.calls, "apply")
	return nil
}
func (v *scriptedViewer) ReloadROIs() error {
	v.calls = append(v.calls, "reload")
	return nil
}
func (v *scriptedViewer) PersistROIs() error {
	v.calls = append(v.calls, "persist")
	return nil
}

type viewerHost struct {
	viewer    Viewer
	requested []ObjectID
	selected  []ObjectID
}

func (h *viewerHost) FindOrOpenViewer(id ObjectID) (Viewer, bool) {
	h.requested = append(h.requested, id)
	return h.viewer, h.viewer != nil
}
func (h *viewerHost) SelectStudy(id ObjectID) error {
	h.selected = append(h.selected, id)
	return nil
}

type timeoutWaiter struct{}

func (timeoutWaiter) AwaitCompletion(context.Context, string) error { return ErrWaitTimeout }

type doneWaiter struct{}

func (doneWaiter) AwaitCompletion(context.Context, string) error { return nil }

func TestVisualizer_FullSequence(t *testing.T) {
	viewer := &scriptedViewer{}
	host := &viewerHost{viewer: viewer}
	v := &Visualizer{Viewers: host, Browser: host, Waiter: doneWaiter{}, Dispatch: DirectDispatcher{}}

	if err := v.Visualize(context.Background(), []ObjectID{"x", "y"}); err != nil {
		t.Fatalf("Visualize: %v", err)
	}

	want := []string{"apply", "reload", "persist"}
	if len(viewer.calls) != len(want) {
		t.Fatalf("viewer calls = %v, want %v", viewer.calls, want)
	}
	for i := range want {
		if viewer.calls[i] != want[i] {
			t.Errorf("call[%d] = %s, want %s", i, viewer.calls[i], want[i])
		}
	}
	if len(host.selected) != 1 || host.selected[0] != "x" {
		t.Errorf("selected = %v, want [x]", host.selected)
	}
	// The viewer lookup names the imported object so the host can open
	// a viewer on its series when none shows it.
	if len(host.requested) != 1 || host.requested[0] != "x" {
		t.Errorf("viewer lookups = %v, want [x]", host.requested)
	}
}

func TestVisualizer_SoftConditions(t *testing.T) {
	// A host that cannot present a viewer is not an error
	host := &viewerHost{}
	v := &Visualizer{Viewers: host, Browser: host, Waiter: doneWaiter{}, Dispatch: DirectDispatcher{}}
	if err := v.Visualize(context.Background(), []ObjectID{"x"}); err != nil {
		t.Errorf("missing viewer should be soft, got %v", err)
	}

	// Wait timeout is not an error, but the refresh sequence is skipped
	viewer := &scriptedViewer{}
	host = &viewerHost{viewer: viewer}
	v = &Visualizer{Viewers: host, Browser: host, Waiter: timeoutWaiter{}, Dispatch: DirectDispatcher{}}
	if err := v.Visualize(context.Background(), []ObjectID{"x"}); err != nil {
		t.Errorf("wait timeout should be soft, got %v", err)
	}
	if len(viewer.calls) != 1 || viewer.calls[0] != "apply" {
		t.Errorf("viewer calls = %v, want only apply", viewer.calls)
	}
}

func TestSerialDispatcher_Order(t *testing.T) {
	d := NewSerialDispatcher()
	defer d.Close()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		d.Sync(func() { order = append(order, i) })
	}
	for i := range order {
		if order[i] != i {
			t.Fatalf("order = %v, not sequential", order)
		}
	}
}

func TestFileStore_ContentAddressedDedupe(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "slice.dcm")
	if err := os.WriteFile(src, []byte("DICM payload"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &FileStore{Root: filepath.Join(dir, "store")}
	first, err := store.ImportFiles([]string{src})
	if err != nil {
		t.Fatalf("ImportFiles: %v", err)
	}
	second, err := store.ImportFiles([]string{src})
	if err != nil {
		t.Fatalf("ImportFiles again: %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("handles differ for identical content: %v vs %v", first, second)
	}

	entries, err := os.ReadDir(store.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("store holds %d objects, want 1", len(entries))
	}
}
