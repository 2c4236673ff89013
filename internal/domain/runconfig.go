package domain

import (
	"sort"
	"strings"
)

// RunConfiguration holds the user-selected parameters for one segmentation run
type RunConfiguration struct {
	Task                string
	UseFast             bool
	Device              string
	LicenseKey          string
	AdditionalArguments string
	SelectedClassNames  map[string]struct{}
	OutputDirectory     string
	SuppressROIs        bool
}

// RestrictionApplies reports whether the selected class names may be
// translated into a CLI restriction. Class subsets are only meaningful for
// the default task family; for any other task they are silently dropped.
func (c RunConfiguration) RestrictionApplies() bool {
	if len(c.SelectedClassNames) == 0 {
		return false
	}
	return c.Task == "" || strings.HasPrefix(c.Task, "total")
}

// SortedClassNames returns the selected class names in deterministic order
func (c RunConfiguration) SortedClassNames() []string {
	names := make([]string, 0, len(c.SelectedClassNames))
	for name := range c.SelectedClassNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExportedSeries references one source series copied out of the host store
type ExportedSeries struct {
	SourceID          string
	Modality          Modality
	ExportedDirectory string
	ExportedFiles     []string
	SeriesInstanceUID string
	StudyInstanceUID  string
}

// SegmentationImportResult summarizes what a run added to the host store
type SegmentationImportResult struct {
	AddedFilePaths    []string
	RTStructPaths     []string
	ImportedObjectIDs []string
	OutputType        OutputType
}
