package export

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// ProbeSeries builds a SeriesRef for a directory of DICOM slices by
// reading the identifying attributes from the first slice. Unreadable
// headers leave the UIDs empty; the modality then defaults to CT so a
// plainly named directory of slices still runs.
func ProbeSeries(dir string) (SeriesRef, error) {
	slices, err := listSliceFiles(dir)
	if err != nil {
		return SeriesRef{}, fmt.Errorf("reading series directory: %w", err)
	}
	if len(slices) == 0 {
		return SeriesRef{}, ErrNoSlices
	}

	ref := SeriesRef{Directory: dir, Modality: domain.ModalityCT}

	ds, err := dicom.ParseFile(slices[0], nil, dicom.SkipPixelData())
	if err != nil {
		return ref, nil
	}
	if m := elementString(ds, tag.Modality); m != "" {
		ref.Modality = domain.Modality(m)
	}
	ref.StudyInstanceUID = elementString(ds, tag.StudyInstanceUID)
	ref.SeriesInstanceUID = elementString(ds, tag.SeriesInstanceUID)
	return ref, nil
}

func elementString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if values, ok := el.Value.GetValue().([]string); ok && len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
