// Package classify inspects the files a segmentation run produced and
// sorts them into importable DICOM artifacts and RT structure sets.
package classify

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// parseWorkers bounds concurrent header parses
const parseWorkers = 4

// Classification is the sorted view of a run's output directory
type Classification struct {
	// DICOMFiles holds every DICOM file, structure sets included
	DICOMFiles []string
	// RTStructFiles is the subset classified as RT structure sets
	RTStructFiles []string
}

// UnsupportedOutputTypeError rejects encodings the pipeline cannot import
type UnsupportedOutputTypeError struct {
	OutputType domain.OutputType
}

func (e *UnsupportedOutputTypeError) Error() string {
	return fmt.Sprintf("unsupported output type %q: only dicom and nifti outputs can be integrated", e.OutputType)
}

// ClassifyOutput enumerates the output directory and classifies every
// regular file for the declared output type. The NIfTI branch is handled
// by the conversion subsystem before import; here it only validates the
// declared type.
func ClassifyOutput(dir string, outputType domain.OutputType) (*Classification, error) {
	switch outputType {
	case domain.OutputDICOM:
		return classifyDICOM(dir)
	case domain.OutputNIfTI:
		return nil, fmt.Errorf("nifti output reached the dicom classifier; conversion must run first")
	default:
		return nil, &UnsupportedOutputTypeError{OutputType: outputType}
	}
}

func classifyDICOM(dir string) (*Classification, error) {
	var candidates []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && IsDICOMFile(path) {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating output directory: %w", err)
	}
	sort.Strings(candidates)

	cls := &Classification{DICOMFiles: candidates}

	isRTStruct := make([]bool, len(candidates))
	var g errgroup.Group
	g.SetLimit(parseWorkers)
	var mu sync.Mutex
	for i, path := range candidates {
		g.Go(func() error {
			rt := classifyFile(path)
			mu.Lock()
			isRTStruct[i] = rt
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for i, path := range candidates {
		if isRTStruct[i] {
			cls.RTStructFiles = append(cls.RTStructFiles, path)
		}
	}
	return cls, nil
}

// classifyFile decides whether one DICOM file is a structure set. Header
// signals are authoritative; the filename is consulted only when the
// header cannot be parsed.
func classifyFile(path string) bool {
	h, err := parseHeader(path)
	if err != nil {
		log.Printf("[classify] unparseable header %s, falling back to filename: %v", filepath.Base(path), err)
		return isRTStructFilename(path)
	}
	return isRTStructHeader(h)
}

// HasRegularFile reports whether a directory exists and contains at least
// one regular file, recursively.
func HasRegularFile(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
