// Package export copies source series out of the host store into the
// run's private workspace.
package export

import (
	"errors"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// Export failure reasons
var (
	ErrNoCompatibleSeries = errors.New("no compatible series: only CT and MR can be segmented")
	ErrNoSlices           = errors.New("series contains no exportable slices")
)

// SeriesRef identifies a source series to export
type SeriesRef struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	Directory         string
	Modality          domain.Modality
}

// Exporter produces an ExportResult owning a fresh workspace, or fails
// with a reason. On failure no workspace is left behind.
type Exporter interface {
	Export(ref SeriesRef) (*domain.ExportResult, error)
}
