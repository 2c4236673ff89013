package hostbridge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore is a Store backed by a plain managed directory. Objects are
// content-addressed, so re-importing identical files returns the same
// handles. The CLI uses it when no host bridge is configured.
type FileStore struct {
	Root string
}

func (s *FileStore) ImportFiles(paths []string) ([]ObjectID, error) {
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	ids := make([]ObjectID, 0, len(paths))
	for _, path := range paths {
		id, err := s.importFile(path)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *FileStore) importFile(path string) (ObjectID, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer src.Close()

	hash := sha256.New()
	tmp, err := os.CreateTemp(s.Root, ".import-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(io.MultiWriter(hash, tmp), src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copying %s into store: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	id := ObjectID(hex.EncodeToString(hash.Sum(nil)))
	dest := filepath.Join(s.Root, string(id)+filepath.Ext(path))
	if _, err := os.Stat(dest); err == nil {
		return id, nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("placing %s into store: %w", filepath.Base(path), err)
	}
	return id, nil
}

// HeadlessHost is the no-viewer host used by the CLI: imports land in a
// FileStore, there is no viewer to drive, and no background tasks run.
type HeadlessHost struct {
	Store FileStore
}

func (h *HeadlessHost) FindOrOpenViewer(ObjectID) (Viewer, bool) { return nil, false }
func (h *HeadlessHost) SelectStudy(ObjectID) error               { return nil }
func (h *HeadlessHost) HasTask(string) (bool, error)             { return false, nil }
func (h *HeadlessHost) ImportFiles(p []string) ([]ObjectID, error) {
	return h.Store.ImportFiles(p)
}
