// Package hostbridge abstracts the imaging host application the runner
// feeds its results into: the object store that owns imported DICOM
// files, the viewer that renders segmentation overlays, and the task
// registry the host uses to track background imports.
package hostbridge

import "errors"

// ObjectID identifies an object inside the host's data store. The host
// assigns these on import; the zero value is never a valid handle.
type ObjectID string

// ErrNothingImportable indicates the classifier produced no file the
// host store would accept.
var ErrNothingImportable = errors.New("no importable output files")

// Store is the host's managed object store.
type Store interface {
	// ImportFiles copies the given files into the store and returns one
	// handle per distinct imported object. Importing the same content
	// twice yields the same handle.
	ImportFiles(paths []string) ([]ObjectID, error)
}

// Viewer renders imported objects and their segmentation overlays.
type Viewer interface {
	// ApplyOverlay attaches the segmentation objects to the currently
	// displayed series.
	ApplyOverlay(ids []ObjectID) error
	// ReloadROIs refreshes the region-of-interest list after an
	// RT structure set import.
	ReloadROIs() error
	// PersistROIs writes the viewer's ROI state back into the store.
	PersistROIs() error
}

// ViewerProvider locates a viewer for imported results. A headless
// host returns (nil, false).
type ViewerProvider interface {
	// FindOrOpenViewer returns a viewer showing the series that contains
	// the given object, opening one when none does. ok is false only
	// when the host cannot present a viewer at all.
	FindOrOpenViewer(id ObjectID) (Viewer, bool)
}

// Browser is the host's study browser.
type Browser interface {
	// SelectStudy focuses the study containing the given object so the
	// user lands on the freshly imported results.
	SelectStudy(id ObjectID) error
}

// TaskRegistry exposes the host's background task table. Imports show
// up as named tasks and disappear once the host finishes ingesting.
type TaskRegistry interface {
	HasTask(name string) (bool, error)
}
