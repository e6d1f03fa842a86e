package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hyperjump/kotae/internal/models"
)

// SourcePath returns where the uploaded file for id is archived.
func SourcePath(documentsDir, id string) string {
	return filepath.Join(documentsDir, id+".pdf")
}

// IndexPath returns the index directory for id.
func IndexPath(indexDir, id string) string {
	return filepath.Join(indexDir, id)
}

// SaveSource archives content as the source file for id.
func SaveSource(documentsDir, id string, content []byte) (string, error) {
	if err := os.MkdirAll(documentsDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create documents dir: %v", models.ErrStorage, err)
	}
	path := SourcePath(documentsDir, id)
	if err := WriteFileAtomic(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it, and renames
// it over path. A crash leaves either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", models.ErrStorage, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", models.ErrStorage, path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: sync %s: %v", models.ErrStorage, path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", models.ErrStorage, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", models.ErrStorage, path, err)
	}
	return nil
}

// removeArtifacts deletes the source file and index directory of doc.
// Artifacts that are already gone are not an error.
func removeArtifacts(doc *models.Document) error {
	if doc.SourcePath != "" {
		if err := os.Remove(doc.SourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: remove source file for %s: %v", models.ErrStorage, doc.ID, err)
		}
	}
	if doc.IndexPath != "" {
		if err := os.RemoveAll(doc.IndexPath); err != nil {
			return fmt.Errorf("%w: remove index for %s: %v", models.ErrStorage, doc.ID, err)
		}
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; errors during the walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
	}
	return total, nil
}
