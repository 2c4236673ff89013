package procexec

import (
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// chunkReader returns each chunk from exactly one Read call, so tests
// can place a multi-byte rune across read boundaries.
type chunkReader struct{ chunks [][]byte }

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestMergeEnv_OverridesWin(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/a", "LANG=C"}
	env := MergeEnv(base, map[string]string{"HOME": "/home/b", "EXTRA": "1"})

	got := make(map[string]string)
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		got[k] = v
	}

	if got["HOME"] != "/home/b" {
		t.Errorf("HOME = %q, want override /home/b", got["HOME"])
	}
	if got["PATH"] != "/usr/bin" {
		t.Errorf("PATH = %q, want base /usr/bin", got["PATH"])
	}
	if got["EXTRA"] != "1" {
		t.Errorf("EXTRA = %q, want 1", got["EXTRA"])
	}
	if got["PYTHONUNBUFFERED"] != "1" {
		t.Errorf("PYTHONUNBUFFERED = %q, want forced 1", got["PYTHONUNBUFFERED"])
	}
}

func TestMergeEnv_UnbufferedCannotBeDisabled(t *testing.T) {
	env := MergeEnv(nil, map[string]string{"PYTHONUNBUFFERED": "0"})
	found := false
	for _, kv := range env {
		if kv == "PYTHONUNBUFFERED=1" {
			found = true
		}
	}
	if !found {
		t.Errorf("unbuffered flag not forced: %v", env)
	}
}

func TestSplitCompleteUTF8(t *testing.T) {
	cases := []struct {
		name         string
		input        []byte
		wantComplete string
		wantRest     []byte
	}{
		{"ascii", []byte("hello"), "hello", nil},
		{"complete multibyte", []byte("häuser"), "häuser", nil},
		{"partial two-byte tail", append([]byte("ab"), 0xC3), "ab", []byte{0xC3}},
		{"partial three-byte tail", append([]byte("x"), 0xE2, 0x82), "x", []byte{0xE2, 0x82}},
		{"lone continuation flows through", []byte{0x80, 'a'}, "\x80a", nil},
		{"empty", nil, "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			complete, rest := splitCompleteUTF8(tc.input)
			if string(complete) != tc.wantComplete {
				t.Errorf("complete = %q, want %q", complete, tc.wantComplete)
			}
			if string(rest) != string(tc.wantRest) {
				t.Errorf("rest = %v, want %v", rest, tc.wantRest)
			}
		})
	}
}

func TestPump_BufferStaysByteExact(t *testing.T) {
	var buf lockedBuffer
	var forwarded strings.Builder
	var mu sync.Mutex
	sink := SinkFunc(func(s string) {
		mu.Lock()
		forwarded.WriteString(s)
		mu.Unlock()
	})

	p := newPump("stdout", sink, &buf)
	// Split a three-byte rune (€ = E2 82 AC) across read boundaries
	r := &chunkReader{chunks: [][]byte{
		{'o', 'k', 0xE2},
		{0x82, 0xAC, '!'},
	}}
	p.consume(r)
	p.flush()

	if got := string(buf.Bytes()); got != "ok€!" {
		t.Errorf("accumulated = %q, want %q", got, "ok€!")
	}
	if got := forwarded.String(); got != "ok€!" {
		t.Errorf("forwarded = %q, want %q", got, "ok€!")
	}
}

func TestRun_LaunchFailureSentinel(t *testing.T) {
	engine := NewEngine()
	result := engine.Run(Spec{Program: "/nonexistent/segmentation-tool"}, Discard)

	if result.Status != domain.StatusNotStarted {
		t.Errorf("Status = %d, want %d", result.Status, domain.StatusNotStarted)
	}
	if result.LaunchErr == nil {
		t.Errorf("LaunchErr = nil, want launch error")
	}
	if !result.Valid() {
		t.Errorf("launch-failure result violates invariant: %+v", result)
	}
}

func TestRun_CapturesOutputAndStatus(t *testing.T) {
	engine := NewEngine()
	var lines []string
	var mu sync.Mutex
	sink := SinkFunc(func(s string) {
		mu.Lock()
		lines = append(lines, s)
		mu.Unlock()
	})

	result := engine.Run(Spec{
		Program: "/bin/sh",
		Args:    []string{"-c", "printf out; printf err >&2; exit 3"},
	}, sink)

	if result.Status != 3 {
		t.Errorf("Status = %d, want 3", result.Status)
	}
	if string(result.Stdout) != "out" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "out")
	}
	if string(result.Stderr) != "err" {
		t.Errorf("Stderr = %q, want %q", result.Stderr, "err")
	}
	if !result.Valid() {
		t.Errorf("result violates invariant: %+v", result)
	}

	mu.Lock()
	joined := strings.Join(lines, "")
	mu.Unlock()
	if !strings.Contains(joined, "out") || !strings.Contains(joined, "err") {
		t.Errorf("sink missed stream text: %q", joined)
	}
}

func TestCancel_CompletionPathStillRuns(t *testing.T) {
	engine := NewEngine()
	h, err := engine.Start(Spec{Program: "/bin/sh", Args: []string{"-c", "sleep 30"}}, Discard)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Cancel()
	h.Cancel() // single-shot; second call is a no-op

	result := h.Wait()
	if result.Status == 0 {
		t.Errorf("Status = 0 after cancellation, want non-zero")
	}
	if !result.Valid() {
		t.Errorf("cancelled result violates invariant: %+v", result)
	}
}

func TestCancel_TerminatesSpawnedChildren(t *testing.T) {
	engine := NewEngine()
	// The inner shell inherits the output pipes; unless the whole process
	// group is signalled, Wait would block on pump EOF until the sleep ends.
	h, err := engine.Start(Spec{
		Program: "/bin/sh",
		Args:    []string{"-c", "/bin/sh -c 'sleep 30'; exit 0"},
	}, Discard)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Cancel()

	done := make(chan domain.ProcessExecutionResult, 1)
	go func() { done <- h.Wait() }()

	select {
	case result := <-done:
		if result.Status != 128+int(syscall.SIGTERM) {
			t.Errorf("Status = %d, want %d", result.Status, 128+int(syscall.SIGTERM))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Wait still blocked after cancellation; child processes survived")
	}
}
