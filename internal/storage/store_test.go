package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

type storeFactory func(t *testing.T, dir string) MetadataStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"json": func(t *testing.T, dir string) MetadataStore {
			s, err := NewJSONStore(filepath.Join(dir, "metadata.json"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
		"sqlite": func(t *testing.T, dir string) MetadataStore {
			s, err := NewSQLiteStore(filepath.Join(dir, "metadata.db"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
	}
}

// artifacts creates a source file and index dir for id under dir.
func artifacts(t *testing.T, dir, id string) (string, string) {
	t.Helper()
	src, err := SaveSource(filepath.Join(dir, "documents"), id, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	idx := IndexPath(filepath.Join(dir, "vectorstore"), id)
	if err := os.MkdirAll(idx, 0755); err != nil {
		t.Fatal(err)
	}
	return src, idx
}

func TestMetadataStore_CRUD(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := open(t, dir)
			defer store.Close()
			ctx := context.Background()

			src, idx := artifacts(t, dir, "1")
			doc := &models.Document{
				FileName:    "handbook.pdf",
				Title:       "Handbook",
				Description: "Student handbook",
				FileSize:    2048,
				SourcePath:  src,
				IndexPath:   idx,
				ChunkCount:  4,
			}
			if err := store.Create(ctx, doc); err != nil {
				t.Fatal(err)
			}
			if doc.ID != "1" {
				t.Errorf("first id = %q, want 1", doc.ID)
			}
			if doc.UploadDate.IsZero() || doc.UploadDate.Location().String() != "UTC" {
				t.Errorf("upload date should be set in UTC, got %v", doc.UploadDate)
			}

			got, err := store.Get(ctx, "1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "Handbook" || got.FileSize != 2048 || got.ChunkCount != 4 || got.IndexPath != idx {
				t.Errorf("got %+v", got)
			}

			if _, err := store.Get(ctx, "99"); !errors.Is(err, models.ErrDocumentNotFound) {
				t.Errorf("Get missing: err = %v, want ErrDocumentNotFound", err)
			}

			if err := store.Delete(ctx, "1"); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(src); !os.IsNotExist(err) {
				t.Error("source file should be removed by delete")
			}
			if _, err := os.Stat(idx); !os.IsNotExist(err) {
				t.Error("index dir should be removed by delete")
			}
			if _, err := store.Get(ctx, "1"); !errors.Is(err, models.ErrDocumentNotFound) {
				t.Errorf("Get after delete: err = %v", err)
			}
			if err := store.Delete(ctx, "1"); !errors.Is(err, models.ErrDocumentNotFound) {
				t.Errorf("second Delete: err = %v, want ErrDocumentNotFound", err)
			}
		})
	}
}

func TestMetadataStore_idsNeverReused(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := open(t, dir)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				if err := store.Create(ctx, &models.Document{FileName: "a.pdf", Title: "A"}); err != nil {
					t.Fatal(err)
				}
			}
			if err := store.Delete(ctx, "3"); err != nil {
				t.Fatal(err)
			}
			_ = store.Close()

			// Reopen: the counter is persisted, not derived from the record count.
			store = open(t, dir)
			defer store.Close()
			doc := &models.Document{FileName: "b.pdf", Title: "B"}
			if err := store.Create(ctx, doc); err != nil {
				t.Fatal(err)
			}
			if doc.ID != "4" {
				t.Errorf("id after delete+reopen = %q, want 4", doc.ID)
			}
			id, err := store.NextID(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if id != "5" {
				t.Errorf("NextID = %q, want 5", id)
			}
		})
	}
}

func TestMetadataStore_listOrder(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()
			ctx := context.Background()

			for _, title := range []string{"first", "second", "third"} {
				if err := store.Create(ctx, &models.Document{FileName: title + ".pdf", Title: title}); err != nil {
					t.Fatal(err)
				}
			}
			docs, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) != 3 {
				t.Fatalf("len = %d, want 3", len(docs))
			}
			for i, want := range []string{"first", "second", "third"} {
				if docs[i].Title != want {
					t.Errorf("docs[%d] = %q, want %q", i, docs[i].Title, want)
				}
			}
			n, err := store.Count(ctx)
			if err != nil || n != 3 {
				t.Errorf("Count = %d, %v", n, err)
			}
		})
	}
}

func TestMetadataStore_reservedID(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()
			ctx := context.Background()

			id, err := store.NextID(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if err := store.Create(ctx, &models.Document{ID: id, FileName: "a.pdf", Title: "A"}); err != nil {
				t.Fatal(err)
			}
			if err := store.Create(ctx, &models.Document{ID: id, FileName: "a.pdf", Title: "A"}); !errors.Is(err, models.ErrStorage) {
				t.Errorf("duplicate Create: err = %v, want ErrStorage", err)
			}
			doc := &models.Document{FileName: "b.pdf", Title: "B"}
			if err := store.Create(ctx, doc); err != nil {
				t.Fatal(err)
			}
			if doc.ID == id {
				t.Errorf("allocated id %q collides with reserved id", doc.ID)
			}
		})
	}
}

func TestMetadataStore_deleteFailureKeepsRecord(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := open(t, dir)
			defer store.Close()
			ctx := context.Background()

			src, idx := artifacts(t, dir, "1")
			if err := store.Create(ctx, &models.Document{FileName: "a.pdf", Title: "A", SourcePath: src, IndexPath: idx}); err != nil {
				t.Fatal(err)
			}
			docsDir := filepath.Dir(src)
			if err := os.Chmod(docsDir, 0555); err != nil {
				t.Fatal(err)
			}
			defer os.Chmod(docsDir, 0755)

			if err := store.Delete(ctx, "1"); !errors.Is(err, models.ErrStorage) {
				t.Fatalf("Delete: err = %v, want ErrStorage", err)
			}
			if _, err := store.Get(ctx, "1"); err != nil {
				t.Errorf("record should survive a failed delete: %v", err)
			}
			if _, err := os.Stat(idx); err != nil {
				t.Errorf("index should survive a failed delete: %v", err)
			}
		})
	}
}

func TestMetadataStore_concurrentCreate(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer store.Close()
			ctx := context.Background()

			const n = 20
			var wg sync.WaitGroup
			ids := make(chan string, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					doc := &models.Document{FileName: "x.pdf", Title: "X"}
					if err := store.Create(ctx, doc); err != nil {
						t.Error(err)
						return
					}
					ids <- doc.ID
				}()
			}
			wg.Wait()
			close(ids)

			seen := make(map[string]bool)
			for id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
			}
			if len(seen) != n {
				t.Errorf("got %d unique ids, want %d", len(seen), n)
			}
		})
	}
}

func TestJSONStore_legacyRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	legacy := `{
  "1": {"file_name": "a.pdf", "title": "A", "description": "", "file_size": 10,
        "upload_date": "2024-05-01T10:11:12.123456", "vectorstore_path": "data/vectorstore/1"},
  "3": {"file_name": "c.pdf", "title": "C", "description": "", "file_size": 30,
        "upload_date": "2024-05-02T10:11:12.123456", "vectorstore_path": "data/vectorstore/3"}
}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	docs, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "1" || docs[1].ID != "3" {
		t.Fatalf("legacy docs = %+v", docs)
	}
	if docs[1].IndexPath != "data/vectorstore/3" {
		t.Errorf("index path = %q", docs[1].IndexPath)
	}
	if docs[0].UploadDate.Year() != 2024 {
		t.Errorf("upload date = %v", docs[0].UploadDate)
	}
	id, err := store.NextID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "4" {
		t.Errorf("NextID after legacy = %q, want 4", id)
	}
}

func TestJSONStore_legacyDeleteRemovesSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	indexDir := filepath.Join(dir, "vectorstore", "1")
	legacy := fmt.Sprintf(`{"1": {"file_name": "a.pdf", "title": "A", "file_size": 10,
  "upload_date": "2024-05-01T10:11:12.123456", "vectorstore_path": %q}}`, indexDir)
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	pdfPath, err := SaveSource(filepath.Join(dir, "documents"), "1", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		t.Fatal(err)
	}

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	doc, err := store.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.SourcePath != pdfPath {
		t.Errorf("SourcePath = %q, want %q", doc.SourcePath, pdfPath)
	}
	if err := store.Delete(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{pdfPath, indexDir} {
		if _, err := os.Stat(p); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s still present after delete (err=%v)", p, err)
		}
	}
}

func TestNewMetadataStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMetadataStore(config.StorageConfig{Backend: "json", MetadataPath: filepath.Join(dir, "m.json")})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if _, err := NewMetadataStore(config.StorageConfig{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
