package hostbridge

import (
	"fmt"
	"log"

	"github.com/lumenimaging/segrunner/internal/classify"
	"github.com/lumenimaging/segrunner/internal/domain"
)

// Importer pushes classified output files into the host store. Imports
// run in two passes: the image series first, then any RT structure
// sets, so the structure sets can resolve their referenced series.
type Importer struct {
	Store    Store
	Dispatch Dispatcher
}

// ImportClassified imports the classification's files and returns the
// deduplicated object handles, image series before structure sets. The
// classifier reports structure sets as a subset of the DICOM list; the
// first pass imports only the plain files so nothing is imported twice.
func (im *Importer) ImportClassified(c classify.Classification, outputType domain.OutputType) (*domain.SegmentationImportResult, error) {
	plain := excluding(c.DICOMFiles, c.RTStructFiles)
	if len(plain) == 0 && len(c.RTStructFiles) == 0 {
		return nil, ErrNothingImportable
	}

	var ids []ObjectID
	if len(plain) > 0 {
		imported, err := im.importBatch(plain)
		if err != nil {
			return nil, fmt.Errorf("importing image series: %w", err)
		}
		ids = append(ids, imported...)
	}
	if len(c.RTStructFiles) > 0 {
		imported, err := im.importBatch(c.RTStructFiles)
		if err != nil {
			return nil, fmt.Errorf("importing rt structure sets: %w", err)
		}
		ids = append(ids, imported...)
	}

	ids = dedupe(ids)
	log.Printf("[hostbridge] imported %d files as %d objects (%d rtstruct)",
		len(plain)+len(c.RTStructFiles), len(ids), len(c.RTStructFiles))

	result := &domain.SegmentationImportResult{
		AddedFilePaths: append(append([]string{}, plain...), c.RTStructFiles...),
		RTStructPaths:  append([]string{}, c.RTStructFiles...),
		OutputType:     outputType,
	}
	for _, id := range ids {
		result.ImportedObjectIDs = append(result.ImportedObjectIDs, string(id))
	}
	return result, nil
}

func (im *Importer) importBatch(paths []string) ([]ObjectID, error) {
	var ids []ObjectID
	var err error
	im.Dispatch.Sync(func() {
		ids, err = im.Store.ImportFiles(paths)
	})
	return ids, err
}

// excluding returns the members of paths not present in remove.
func excluding(paths, remove []string) []string {
	if len(remove) == 0 {
		return paths
	}
	drop := make(map[string]struct{}, len(remove))
	for _, p := range remove {
		drop[p] = struct{}{}
	}
	var out []string
	for _, p := range paths {
		if _, ok := drop[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// dedupe drops repeated handles while keeping first-seen order.
func dedupe(ids []ObjectID) []ObjectID {
	seen := make(map[ObjectID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
