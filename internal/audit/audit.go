// Package audit appends one immutable JSON line per successful run to
// the installation's audit log. Writes are funneled through a single
// goroutine so concurrent runs never interleave lines, and failures are
// logged but never surfaced to the caller: a broken audit log must not
// fail a segmentation run.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// Writer serializes audit entries onto a single append-only log file.
type Writer struct {
	path    string
	entries chan domain.AuditEntry
	done    chan struct{}
}

// NewWriter starts the write goroutine. Close must be called to flush.
func NewWriter(path string) *Writer {
	w := &Writer{
		path:    path,
		entries: make(chan domain.AuditEntry, 16),
		done:    make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

// Record queues an entry. Never blocks the run for long and never
// returns an error; if the queue is full the entry is written inline.
func (w *Writer) Record(entry domain.AuditEntry) {
	select {
	case w.entries <- entry:
	default:
		w.append(entry)
	}
}

// Close drains pending entries and stops the writer.
func (w *Writer) Close() {
	close(w.entries)
	<-w.done
}

func (w *Writer) writeLoop() {
	defer close(w.done)
	for entry := range w.entries {
		w.append(entry)
	}
}

func (w *Writer) append(entry domain.AuditEntry) {
	if err := w.appendLine(entry); err != nil {
		log.Printf("[audit] failed to record run %s: %v", entry.RunID, err)
	}
}

func (w *Writer) appendLine(entry domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ReadAll loads every entry from an audit log. Used by the audit
// subcommand; malformed lines are skipped with a log message.
func ReadAll(path string) ([]domain.AuditEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var entries []domain.AuditEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry domain.AuditEntry
		if err := dec.Decode(&entry); err != nil {
			log.Printf("[audit] skipping malformed entry: %v", err)
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
