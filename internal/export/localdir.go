package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenimaging/segrunner/internal/domain"
)

// DirectoryExporter exports a series that already lives on disk as a
// directory of DICOM slices. It is the exporter used by the CLI and by
// batch mode; an embedded host deployment supplies its own Exporter.
type DirectoryExporter struct {
	// WorkRoot is where run workspaces are created; empty means the
	// system temp directory.
	WorkRoot string
}

// Export copies the slice files into a fresh, uniquely named workspace.
// The workspace is cleaned up here only when the export itself fails;
// afterwards the returned ExportResult owns it.
func (e *DirectoryExporter) Export(ref SeriesRef) (*domain.ExportResult, error) {
	if !ref.Modality.Supported() {
		return nil, fmt.Errorf("%w (got %q)", ErrNoCompatibleSeries, ref.Modality)
	}

	slices, err := listSliceFiles(ref.Directory)
	if err != nil {
		return nil, fmt.Errorf("reading series directory: %w", err)
	}
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}

	root := e.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating work root: %w", err)
	}
	workspace := filepath.Join(root, "segrun-"+uuid.NewString())
	seriesDir := filepath.Join(workspace, "dicom")
	if err := os.MkdirAll(seriesDir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	exported := make([]string, 0, len(slices))
	for _, src := range slices {
		dst := filepath.Join(seriesDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			os.RemoveAll(workspace)
			return nil, fmt.Errorf("copying slice %s: %w", filepath.Base(src), err)
		}
		exported = append(exported, dst)
	}

	return &domain.ExportResult{
		TempDir: workspace,
		Series: []domain.ExportedSeries{{
			SourceID:          ref.Directory,
			Modality:          ref.Modality,
			ExportedDirectory: seriesDir,
			ExportedFiles:     exported,
			SeriesInstanceUID: ref.SeriesInstanceUID,
			StudyInstanceUID:  ref.StudyInstanceUID,
		}},
	}, nil
}

// listSliceFiles returns the DICOM slice files of a directory in a stable
// order.
func listSliceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var slices []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".dcm") || strings.HasSuffix(name, ".dicom") {
			slices = append(slices, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(slices)
	return slices, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
