package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/hyperjump/kotae/internal/models"
)

const lockRetryDelay = 50 * time.Millisecond

// registry is the on-disk layout of metadata.json.
type registry struct {
	NextID    int                `json:"next_id"`
	Documents []*models.Document `json:"documents"`
}

// JSONStore implements MetadataStore as a single JSON file. The file is the
// source of truth: every operation re-reads it under an exclusive file lock,
// so several processes can share one data directory.
type JSONStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewJSONStore opens or creates the registry at path. Parent directories are
// created if they do not exist.
func NewJSONStore(path string) (*JSONStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}
	s := &JSONStore{path: path, lock: flock.New(path + ".lock")}

	err := s.withLock(context.Background(), func() error {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return s.save(&registry{NextID: 1})
		}
		_, err := s.load()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// withLock runs fn holding both the in-process mutex and the registry file lock.
func (s *JSONStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		locked, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: cannot acquire registry lock: %v", models.ErrStorage, err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: registry lock %s: %v", models.ErrStorage, s.lock.Path(), ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func (s *JSONStore) load() (*registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &registry{NextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read registry: %v", models.ErrStorage, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: parse registry: %v", models.ErrStorage, err)
	}
	if _, ok := top["documents"]; !ok && len(top) > 0 {
		if _, ok := top["next_id"]; !ok {
			return legacyRegistry(top, filepath.Join(filepath.Dir(s.path), "documents"))
		}
	}

	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: parse registry: %v", models.ErrStorage, err)
	}
	if reg.NextID < 1 {
		reg.NextID = 1
	}
	return &reg, nil
}

// legacyRegistry converts a registry written as an object keyed by id, with
// the index location under "vectorstore_path". Legacy records do not store
// the source file; it lives at documentsDir/<id>.pdf.
func legacyRegistry(entries map[string]json.RawMessage, documentsDir string) (*registry, error) {
	reg := &registry{NextID: 1}
	for id, raw := range entries {
		var rec struct {
			models.Document
			UploadDate      string `json:"upload_date"`
			VectorstorePath string `json:"vectorstore_path"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: parse legacy record %s: %v", models.ErrStorage, id, err)
		}
		doc := rec.Document
		doc.ID = id
		if doc.IndexPath == "" {
			doc.IndexPath = rec.VectorstorePath
		}
		if doc.SourcePath == "" {
			doc.SourcePath = SourcePath(documentsDir, id)
		}
		if t, err := time.Parse("2006-01-02T15:04:05.999999", rec.UploadDate); err == nil {
			doc.UploadDate = t.UTC()
		} else if t, err := time.Parse(time.RFC3339Nano, rec.UploadDate); err == nil {
			doc.UploadDate = t.UTC()
		}
		reg.Documents = append(reg.Documents, &doc)
		if n, err := strconv.Atoi(id); err == nil && n >= reg.NextID {
			reg.NextID = n + 1
		}
	}
	sort.SliceStable(reg.Documents, func(i, j int) bool {
		return idLess(reg.Documents[i].ID, reg.Documents[j].ID)
	})
	return reg, nil
}

func (s *JSONStore) save(reg *registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal registry: %v", models.ErrStorage, err)
	}
	return WriteFileAtomic(s.path, data, 0644)
}

// NextID allocates and persists the next id.
func (s *JSONStore) NextID(ctx context.Context) (string, error) {
	var id string
	err := s.withLock(ctx, func() error {
		reg, err := s.load()
		if err != nil {
			return err
		}
		id = strconv.Itoa(reg.NextID)
		reg.NextID++
		return s.save(reg)
	})
	return id, err
}

// Create registers doc.
func (s *JSONStore) Create(ctx context.Context, doc *models.Document) error {
	return s.withLock(ctx, func() error {
		reg, err := s.load()
		if err != nil {
			return err
		}
		if doc.ID == "" {
			doc.ID = strconv.Itoa(reg.NextID)
			reg.NextID++
		} else {
			if find(reg, doc.ID) >= 0 {
				return fmt.Errorf("%w: document %s already exists", models.ErrStorage, doc.ID)
			}
			if n, err := strconv.Atoi(doc.ID); err == nil && n >= reg.NextID {
				reg.NextID = n + 1
			}
		}
		if doc.UploadDate.IsZero() {
			doc.UploadDate = time.Now().UTC()
		}
		rec := *doc
		reg.Documents = append(reg.Documents, &rec)
		return s.save(reg)
	})
}

// Get returns the record for id.
func (s *JSONStore) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc *models.Document
	err := s.withLock(ctx, func() error {
		reg, err := s.load()
		if err != nil {
			return err
		}
		i := find(reg, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		doc = reg.Documents[i]
		return nil
	})
	return doc, err
}

// List returns all records in insertion order.
func (s *JSONStore) List(ctx context.Context) ([]*models.Document, error) {
	var docs []*models.Document
	err := s.withLock(ctx, func() error {
		reg, err := s.load()
		if err != nil {
			return err
		}
		docs = reg.Documents
		return nil
	})
	return docs, err
}

// Count returns the number of records.
func (s *JSONStore) Count(ctx context.Context) (int, error) {
	docs, err := s.List(ctx)
	return len(docs), err
}

// Delete removes the artifacts of id and then its record. The registry lock is
// held throughout, so no reader sees the record after its artifacts are gone.
func (s *JSONStore) Delete(ctx context.Context, id string) error {
	return s.withLock(ctx, func() error {
		reg, err := s.load()
		if err != nil {
			return err
		}
		i := find(reg, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		if err := removeArtifacts(reg.Documents[i]); err != nil {
			return err
		}
		reg.Documents = append(reg.Documents[:i], reg.Documents[i+1:]...)
		return s.save(reg)
	})
}

// Close releases the registry lock file handle.
func (s *JSONStore) Close() error {
	return s.lock.Close()
}

func find(reg *registry, id string) int {
	for i, d := range reg.Documents {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// idLess orders numeric ids numerically and anything else lexically after them.
func idLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
