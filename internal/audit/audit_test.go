package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lumenimaging/segrunner/internal/domain"
)

func TestWriter_ConcurrentRecordsProduceValidLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.ndjson")
	w := NewWriter(path)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Record(domain.AuditEntry{
				Timestamp:         time.Now().UTC(),
				RunID:             fmt.Sprintf("run-%d", i),
				OutputType:        domain.OutputDICOM,
				ImportedFileCount: i,
			})
		}(i)
	}
	wg.Wait()
	w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry domain.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("malformed line %q: %v", scanner.Text(), err)
		}
		if seen[entry.RunID] {
			t.Errorf("run %s recorded twice", entry.RunID)
		}
		seen[entry.RunID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d entries, want %d", len(seen), n)
	}
}

func TestWriter_FailureIsSoft(t *testing.T) {
	// Point the log at a path under a regular file so appends fail
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(filepath.Join(blocker, "audit.ndjson"))
	w.Record(domain.AuditEntry{RunID: "doomed"})
	w.Close() // must not panic or block
}

func TestReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	w := NewWriter(path)
	w.Record(domain.AuditEntry{RunID: "a", ImportedFileCount: 3})
	w.Record(domain.AuditEntry{RunID: "b", RTStructCount: 1})
	w.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].RunID != "a" || entries[1].RunID != "b" {
		t.Errorf("entries out of order: %v", entries)
	}

	missing, err := ReadAll(filepath.Join(t.TempDir(), "nope.ndjson"))
	if err != nil || missing != nil {
		t.Errorf("missing log should yield (nil, nil), got (%v, %v)", missing, err)
	}
}
