package classify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// RT Structure Set Storage SOP Class UID
const rtStructSOPClassUID = "1.2.840.10008.5.1.4.1.1.481.3"

// dicomMagicOffset is where the "DICM" marker sits in a part-10 file
const dicomMagicOffset = 128

// IsDICOMFile reports whether a file looks like DICOM: format sniffing
// confirms it, or its extension claims it.
func IsDICOMFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dcm", ".dicom":
		return true
	}
	return hasDICOMMagic(path)
}

func hasDICOMMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, dicomMagicOffset); err != nil {
		return false
	}
	return string(buf) == "DICM"
}

// header holds the attributes RT-Struct detection inspects
type header struct {
	SOPClassUID       string
	Modality          string
	SeriesDescription string
}

// parseHeader reads the metadata of a DICOM file, skipping pixel data
func parseHeader(path string) (header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return header{}, err
	}
	return header{
		SOPClassUID:       firstString(ds, tag.SOPClassUID),
		Modality:          firstString(ds, tag.Modality),
		SeriesDescription: firstString(ds, tag.SeriesDescription),
	}, nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if values, ok := el.Value.GetValue().([]string); ok && len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// isRTStructHeader applies the structure-set detection rules to a parsed
// header. Any single signal is sufficient.
func isRTStructHeader(h header) bool {
	if h.SOPClassUID == rtStructSOPClassUID {
		return true
	}
	if strings.EqualFold(h.Modality, "RTSTRUCT") {
		return true
	}
	desc := strings.ToLower(h.SeriesDescription)
	return strings.Contains(desc, "rtstruct") || strings.Contains(desc, "rt struct")
}

// isRTStructFilename is the fallback signal when the header is unreadable
func isRTStructFilename(path string) bool {
	return strings.Contains(strings.ToLower(filepath.Base(path)), "rtstruct")
}
