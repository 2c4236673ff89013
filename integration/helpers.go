//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeInterpreterScript stands in for python3. It answers the import
// and version probes on -c, and otherwise behaves like the bridge
// launch: it extracts output_dir from the run configuration and drops
// a segmentation file plus a structure set there.
const fakeInterpreterScript = `#!/bin/sh
if [ "$1" = "-c" ]; then
  case "$2" in
    *__version__*) echo "2.4.0" ;;
  esac
  exit 0
fi
out=$(sed -n 's/.*"output_dir": *"\([^"]*\)".*/\1/p' "$2")
mkdir -p "$out"
echo "segmenting..."
printf 'seg' > "$out/liver.dcm"
printf 'rs' > "$out/structures_rtstruct.dcm"
exit 0
`

// brokenInterpreterScript stands in for an interpreter without the
// tool installed: every probe fails.
const brokenInterpreterScript = `#!/bin/sh
echo "ModuleNotFoundError: No module named 'totalsegmentator'" >&2
exit 1
`

// FakeInterpreter writes an executable stand-in for python3.
func FakeInterpreter(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake interpreter: %v", err)
	}
	return path
}

// SampleSeries creates a directory of placeholder DICOM slices.
func SampleSeries(t *testing.T, slices int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < slices; i++ {
		name := filepath.Join(dir, fmt.Sprintf("slice%03d.dcm", i))
		if err := os.WriteFile(name, []byte(fmt.Sprintf("slice %d", i)), 0644); err != nil {
			t.Fatalf("writing slice: %v", err)
		}
	}
	return dir
}

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "runs.db")
}
