package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// ManifestFile names the file that describes a saved index. It is written
// last, so a directory without it holds no usable index.
const ManifestFile = "manifest.json"

// Manifest describes a saved index.
type Manifest struct {
	Type       string    `json:"type"`
	Dimensions int       `json:"dimensions"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
}

func writeManifest(dir string, idx VectorIndex) error {
	m := Manifest{
		Type:       idx.Type(),
		Dimensions: idx.Dimensions(),
		Count:      idx.Size(),
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest returns the manifest in dir, or models.ErrIndexNotFound when
// the directory holds no saved index.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// LoadIndex opens the index saved in dir, whatever its type.
func LoadIndex(dir string) (VectorIndex, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	idx, err := NewVectorIndex(m.Type, m.Dimensions)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(dir); err != nil {
		_ = idx.Close()
		return nil, err
	}
	if idx.Size() != m.Count {
		_ = idx.Close()
		return nil, fmt.Errorf("index %s holds %d entries, manifest says %d", dir, idx.Size(), m.Count)
	}
	return idx, nil
}
