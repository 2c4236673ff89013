package domain

import (
	"fmt"
	"os"
	"sync"
)

// ExportResult owns the run's temporary workspace. Scripts, configuration
// and conversion output all live under TempDir, and the directory is removed
// exactly once when the run ends, regardless of outcome.
type ExportResult struct {
	TempDir string
	Series  []ExportedSeries

	destroyOnce sync.Once
}

// Reference returns the series used as the reference for any NIfTI to DICOM
// conversion. The first exported series is the reference by convention.
func (r *ExportResult) Reference() (ExportedSeries, error) {
	if len(r.Series) == 0 {
		return ExportedSeries{}, fmt.Errorf("export result has no series")
	}
	return r.Series[0], nil
}

// Destroy removes the workspace. Safe to call more than once; only the
// first call deletes.
func (r *ExportResult) Destroy() {
	r.destroyOnce.Do(func() {
		if r.TempDir == "" {
			return
		}
		if err := os.RemoveAll(r.TempDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: removing run workspace %s: %v\n", r.TempDir, err)
		}
	})
}
