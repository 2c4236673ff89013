package batch

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reacts to series folders dropped into the watch directory. A
// series arrives file by file, so each folder is debounced: it is
// handed to the processor only after settle time passes with no further
// writes under it.
type Watcher struct {
	watchDir string
	settle   time.Duration
	process  func(dir string)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	cancel context.CancelFunc
}

// NewWatcher creates a watcher over the given directory.
func NewWatcher(watchDir string, settle time.Duration, process func(dir string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(watchDir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		watchDir: watchDir,
		settle:   settle,
		process:  process,
		watcher:  fsw,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching for dropped folders.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[batch] watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching. Pending settle timers are discarded.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, timer := range w.pending {
		timer.Stop()
		delete(w.pending, dir)
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	dir := w.seriesDir(event.Name)
	if dir == "" || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	// Watch inside a freshly created series folder so per-file writes
	// keep resetting the settle timer.
	if event.Op&fsnotify.Create != 0 && dir == event.Name {
		if err := w.watcher.Add(dir); err != nil {
			log.Printf("[batch] watching %s: %v", dir, err)
		}
	}

	w.touch(dir)
}

// seriesDir maps an event path to its top-level series folder, or ""
// for events on the watch directory itself.
func (w *Watcher) seriesDir(path string) string {
	rel, err := filepath.Rel(w.watchDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	return filepath.Join(w.watchDir, parts[0])
}

// touch resets the settle timer for a series folder.
func (w *Watcher) touch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[dir]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[dir] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, dir)
		w.mu.Unlock()

		if IsDone(dir) {
			return
		}
		w.process(dir)
	})
}
