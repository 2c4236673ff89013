// Package batch segments series dropped into a watch folder, either as
// soon as they finish arriving (fsnotify) or on a cron-driven sweep
// that picks up anything the watcher missed.
package batch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// doneMarker is written into a series folder after a successful run so
// sweeps never reprocess it.
const doneMarker = ".segrunner-done"

// RunFolder processes one dropped series directory.
type RunFolder func(dir string) error

// Scheduler sweeps the watch folder on a cron schedule.
type Scheduler struct {
	watchDir string
	schedule cron.Schedule
	run      RunFolder

	mu      sync.Mutex
	lastRun time.Time
	running map[string]bool

	stopChan chan struct{}
}

// NewScheduler parses the cron expression and prepares a sweep loop.
// Standard five-field expressions and descriptors like "@every 1m" are
// accepted.
func NewScheduler(watchDir, cronExpr string, run RunFolder) (*Scheduler, error) {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return &Scheduler{
		watchDir: watchDir,
		schedule: schedule,
		run:      run,
		running:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}, nil
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled sweep time.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastRun
	if last.IsZero() {
		last = time.Now()
	}
	return s.schedule.Next(last)
}

// ShouldRun reports whether a sweep is due.
func (s *Scheduler) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastRun
	if last.IsZero() {
		// First tick after startup sweeps immediately
		return true
	}
	return now.After(s.schedule.Next(last))
}

// Start begins the sweep loop. Blocks until Stop.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			if !s.ShouldRun(now) {
				continue
			}
			s.mu.Lock()
			s.lastRun = now
			s.mu.Unlock()
			s.Sweep()
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Sweep processes every pending series folder once.
func (s *Scheduler) Sweep() {
	pending, err := PendingFolders(s.watchDir)
	if err != nil {
		log.Printf("[batch] sweep failed: %v", err)
		return
	}
	for _, dir := range pending {
		s.Process(dir)
	}
}

// Process runs one folder unless it is already in flight, and marks it
// done on success.
func (s *Scheduler) Process(dir string) {
	s.mu.Lock()
	if s.running[dir] {
		s.mu.Unlock()
		return
	}
	s.running[dir] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, dir)
		s.mu.Unlock()
	}()

	log.Printf("[batch] processing %s", dir)
	if err := s.run(dir); err != nil {
		log.Printf("[batch] %s failed: %v", filepath.Base(dir), err)
		return
	}
	if err := MarkDone(dir); err != nil {
		log.Printf("[batch] marking %s done: %v", filepath.Base(dir), err)
	}
}

// PendingFolders lists the watch folder's unprocessed series directories.
func PendingFolders(watchDir string) ([]string, error) {
	entries, err := os.ReadDir(watchDir)
	if err != nil {
		return nil, fmt.Errorf("reading watch folder: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(watchDir, e.Name())
		if IsDone(dir) {
			continue
		}
		pending = append(pending, dir)
	}
	return pending, nil
}

// IsDone reports whether a folder already carries the done marker.
func IsDone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, doneMarker))
	return err == nil
}

// MarkDone stamps a folder as processed.
func MarkDone(dir string) error {
	return os.WriteFile(filepath.Join(dir, doneMarker), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644)
}
