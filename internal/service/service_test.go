package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

const pdfHeader = "%PDF-1.4\n"

func pdfBytes(body string) []byte {
	return []byte(pdfHeader + body)
}

// bodyExtractor returns everything after the PDF header as the document text.
type bodyExtractor struct {
	mu    sync.Mutex
	calls int
}

func (b *bodyExtractor) Extract(content []byte) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	text := strings.TrimPrefix(string(content), pdfHeader)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty document", models.ErrExtraction)
	}
	return text, nil
}

// pagesExtractor joins fixed page texts the way the PDF extractor does.
type pagesExtractor struct {
	pages []string
}

func (p pagesExtractor) NumPage() int { return len(p.pages) }
func (p pagesExtractor) PageText(n int) (string, error) {
	return p.pages[n-1], nil
}
func (p pagesExtractor) Extract([]byte) (string, error) {
	return extract.NewExtractor().JoinPages(p)
}

type failingEmbedder struct {
	*embedding.MockEmbedder
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: 503 Service Unavailable", models.ErrEmbeddingProvider)
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.Backend = backend
	cfg.Storage.DataDir = dir
	cfg.Storage.MetadataPath = filepath.Join(dir, "metadata."+map[string]string{"json": "json", "sqlite": "db"}[backend])
	cfg.Storage.DocumentsDir = filepath.Join(dir, "documents")
	cfg.Storage.IndexDir = filepath.Join(dir, "vectorstore")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 32
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	cfg       *config.Config
	svc       *Service
	store     storage.MetadataStore
	embedder  *embedding.MockEmbedder
	extractor *bodyExtractor
}

func newFixture(t *testing.T, backend string, opts ...Option) *fixture {
	t.Helper()
	cfg := testConfig(t, backend)
	store, err := storage.NewMetadataStore(cfg.Storage)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	ext := &bodyExtractor{}
	svc, err := New(cfg, store, emb, append([]Option{WithExtractor(ext)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{cfg: cfg, svc: svc, store: store, embedder: emb, extractor: ext}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestService_uploadAndAnswer(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()
			body := strings.Repeat("Enrollment opens in May. ", 40) + strings.Repeat("Tuition is due in August. ", 60)
			content := pdfBytes(body)

			doc, err := f.svc.UploadDocument(ctx, models.UploadRequest{
				Content: content, FileName: "/tmp/handbook.pdf", Title: "  Handbook ", Description: "student guide",
			})
			if err != nil {
				t.Fatal(err)
			}
			if doc.ID != "1" || doc.Title != "Handbook" || doc.FileName != "handbook.pdf" {
				t.Errorf("doc = %+v", doc)
			}
			if doc.FileSize != int64(len(content)) || doc.Checksum != fileid.ContentHash(content) {
				t.Errorf("size/checksum = %d/%s", doc.FileSize, doc.Checksum)
			}
			if doc.ChunkCount < 2 {
				t.Errorf("ChunkCount = %d", doc.ChunkCount)
			}
			if doc.IndexPath != filepath.Join(f.cfg.Storage.IndexDir, "1") {
				t.Errorf("IndexPath = %s", doc.IndexPath)
			}
			archived, err := os.ReadFile(doc.SourcePath)
			if err != nil || !bytes.Equal(archived, content) {
				t.Errorf("source archive = %v", err)
			}

			chunks, err := f.svc.splitter.Split(body)
			if err != nil {
				t.Fatal(err)
			}
			target := chunks[1]
			rc, err := f.svc.AnswerQuestion(ctx, "1", target.Content, 2)
			if err != nil {
				t.Fatal(err)
			}
			if rc.DocumentID != "1" || len(rc.Chunks) != 2 {
				t.Fatalf("context = %+v", rc)
			}
			if rc.Chunks[0].Position != target.Position || rc.Chunks[0].Content != target.Content {
				t.Errorf("exact chunk text not top-1: %+v", rc.Chunks[0])
			}

			// Empty id falls back to the first document; k defaults to 3.
			rc, err = f.svc.AnswerQuestion(ctx, "", "when is tuition due?", 0)
			if err != nil {
				t.Fatal(err)
			}
			if rc.DocumentID != "1" || len(rc.Chunks) != min(3, doc.ChunkCount) {
				t.Errorf("default query = %s with %d chunks", rc.DocumentID, len(rc.Chunks))
			}
		})
	}
}

func TestService_uploadReloadsFromDisk(t *testing.T) {
	f := newFixture(t, "json")
	ctx := context.Background()
	doc, err := f.svc.UploadDocument(ctx, models.UploadRequest{Content: pdfBytes("alpha beta gamma"), Title: "greek"})
	if err != nil {
		t.Fatal(err)
	}

	// A second service over the same data directory starts with an empty cache.
	other, err := New(f.cfg, f.store, f.embedder, WithExtractor(f.extractor))
	if err != nil {
		t.Fatal(err)
	}
	rc, err := other.AnswerQuestion(ctx, doc.ID, "alpha beta gamma", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Chunks) != 1 || rc.Chunks[0].Content != "alpha beta gamma" {
		t.Errorf("chunks = %+v", rc.Chunks)
	}
}

func TestService_upload_tooLarge(t *testing.T) {
	f := newFixture(t, "json")
	f.cfg.Upload.MaxFileSizeMB = 1
	svc, err := New(f.cfg, f.store, f.embedder, WithExtractor(f.extractor))
	if err != nil {
		t.Fatal(err)
	}
	content := pdfBytes(strings.Repeat("x", 1024*1024))

	_, err = svc.UploadDocument(context.Background(), models.UploadRequest{Content: content, Title: "big"})
	if !errors.Is(err, models.ErrFileTooLarge) || !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	if f.extractor.calls != 0 {
		t.Error("extraction ran for an oversized file")
	}
	if f.embedder.Calls() != 0 {
		t.Error("embedding ran for an oversized file")
	}
	if names := dirEntries(t, f.cfg.Storage.IndexDir); len(names) != 0 {
		t.Errorf("index dir not empty: %v", names)
	}
	if n, _ := f.store.Count(context.Background()); n != 0 {
		t.Errorf("records = %d", n)
	}
}

func TestService_upload_rejections(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	tests := []struct {
		name    string
		req     models.UploadRequest
		wantErr error
	}{
		{"missing title", models.UploadRequest{Content: pdfBytes("text"), Title: "  "}, models.ErrValidation},
		{"renamed png", models.UploadRequest{Content: png, FileName: "photo.pdf", Title: "photo"}, models.ErrValidation},
		{"declared size too large", models.UploadRequest{Content: pdfBytes("text"), Title: "t", DeclaredSize: 11 << 20}, models.ErrFileTooLarge},
		{"no text", models.UploadRequest{Content: pdfBytes("   "), Title: "scan"}, models.ErrExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "json")
			_, err := f.svc.UploadDocument(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.embedder.Calls() != 0 {
				t.Error("embedding ran for a rejected upload")
			}
			if names := dirEntries(t, f.cfg.Storage.IndexDir); len(names) != 0 {
				t.Errorf("index dir not empty: %v", names)
			}
			if names := dirEntries(t, f.cfg.Storage.DocumentsDir); len(names) != 0 {
				t.Errorf("documents dir not empty: %v", names)
			}
		})
	}
}

func TestService_upload_buildFailureLeavesNothing(t *testing.T) {
	cfg := testConfig(t, "json")
	store, err := storage.NewMetadataStore(cfg.Storage)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	failing, err := New(cfg, store, failingEmbedder{embedding.NewMockEmbedder(32)}, WithExtractor(&bodyExtractor{}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = failing.UploadDocument(ctx, models.UploadRequest{Content: pdfBytes("some text"), Title: "doc"})
	if !errors.Is(err, models.ErrEmbeddingProvider) {
		t.Fatalf("err = %v, want ErrEmbeddingProvider", err)
	}
	if names := dirEntries(t, cfg.Storage.IndexDir); len(names) != 0 {
		t.Errorf("index dir not empty: %v", names)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("records = %d", n)
	}

	// Failed builds do not consume ids.
	working, err := New(cfg, store, embedding.NewMockEmbedder(32), WithExtractor(&bodyExtractor{}))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := working.UploadDocument(ctx, models.UploadRequest{Content: pdfBytes("some text"), Title: "doc"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "1" {
		t.Errorf("ID = %s, want 1", doc.ID)
	}
}

func TestService_threePageScenario(t *testing.T) {
	f := newFixture(t, "json")
	pages := pagesExtractor{pages: []string{strings.Repeat("A", 1500), "", strings.Repeat("B", 800)}}
	svc, err := New(f.cfg, f.store, f.embedder, WithExtractor(pages))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := svc.UploadDocument(context.Background(), models.UploadRequest{Content: pdfBytes("pages"), Title: "ab"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ChunkCount != 3 {
		t.Errorf("ChunkCount = %d, want 3", doc.ChunkCount)
	}
	rc, err := svc.AnswerQuestion(context.Background(), doc.ID, strings.Repeat("B", 700), 1)
	if err != nil {
		t.Fatal(err)
	}
	if rc.Chunks[0].Position != 2 {
		t.Errorf("last chunk should match, got position %d", rc.Chunks[0].Position)
	}
}

func TestService_deleteThenQuery(t *testing.T) {
	f := newFixture(t, "json")
	ctx := context.Background()
	doc, err := f.svc.UploadDocument(ctx, models.UploadRequest{Content: pdfBytes("first document"), Title: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AnswerQuestion(ctx, doc.ID, "first", 1); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(doc.IndexPath); !os.IsNotExist(err) {
		t.Errorf("index dir still present: %v", err)
	}
	if _, err := os.Stat(doc.SourcePath); !os.IsNotExist(err) {
		t.Errorf("source file still present: %v", err)
	}
	if _, err := f.svc.AnswerQuestion(ctx, doc.ID, "first", 1); !errors.Is(err, models.ErrIndexNotFound) {
		t.Errorf("query after delete: err = %v, want ErrIndexNotFound", err)
	}
	if _, err := f.svc.GetDocument(ctx, doc.ID); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("get after delete: err = %v", err)
	}
	if err := f.svc.DeleteDocument(ctx, doc.ID); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("second delete: err = %v, want ErrDocumentNotFound", err)
	}

	// Ids are never reused.
	next, err := f.svc.UploadDocument(ctx, models.UploadRequest{Content: pdfBytes("second document"), Title: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != "2" {
		t.Errorf("ID = %s, want 2", next.ID)
	}
}

func TestService_answer_noDocuments(t *testing.T) {
	f := newFixture(t, "json")
	_, err := f.svc.AnswerQuestion(context.Background(), "", "anything", 3)
	if !errors.Is(err, models.ErrIndexNotFound) {
		t.Errorf("err = %v, want ErrIndexNotFound", err)
	}
	if _, err := f.svc.AnswerQuestion(context.Background(), "1", "   ", 3); !errors.Is(err, models.ErrValidation) {
		t.Errorf("blank question: err = %v, want ErrValidation", err)
	}
}

func TestService_concurrentUploads(t *testing.T) {
	f := newFixture(t, "json")
	const n = 8
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := f.svc.UploadDocument(context.Background(), models.UploadRequest{
				Content: pdfBytes(fmt.Sprintf("document number %d", i)), Title: fmt.Sprintf("doc %d", i),
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids <- doc.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d ids, want %d", len(seen), n)
	}
	docs, _ := f.svc.ListDocuments(context.Background())
	if len(docs) != n {
		t.Errorf("listed %d documents", len(docs))
	}
}

func TestService_deleteRacingUploadLeavesNoCachedIndex(t *testing.T) {
	f := newFixture(t, "json")
	ctx := context.Background()
	const n = 10

	uploaded := make(chan struct{})
	var ids []string
	go func() {
		defer close(uploaded)
		for i := 0; i < n; i++ {
			doc, err := f.svc.UploadDocument(ctx, models.UploadRequest{
				Content: pdfBytes(fmt.Sprintf("racing document %d", i)), Title: fmt.Sprintf("race %d", i),
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids = append(ids, doc.ID)
		}
	}()

	finished := false
	for {
		select {
		case <-uploaded:
			finished = true
		default:
		}
		docs, err := f.svc.ListDocuments(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range docs {
			if err := f.svc.DeleteDocument(ctx, d.ID); err != nil && !errors.Is(err, models.ErrDocumentNotFound) {
				t.Fatalf("delete %s: %v", d.ID, err)
			}
		}
		if finished && len(docs) == 0 {
			break
		}
	}

	if got := f.svc.cache.Len(); got != 0 {
		t.Errorf("cache holds %d indexes after every document was deleted", got)
	}
	for _, id := range ids {
		if _, err := f.svc.AnswerQuestion(ctx, id, "racing document", 1); !errors.Is(err, models.ErrIndexNotFound) {
			t.Errorf("AnswerQuestion(%s) = %v, want ErrIndexNotFound", id, err)
		}
	}
}

func TestService_FindByChecksumAndStatus(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, "json", WithMetrics(m))
	ctx := context.Background()
	content := pdfBytes("checksum me")
	doc, err := f.svc.UploadDocument(ctx, models.UploadRequest{Content: content, Title: "c"})
	if err != nil {
		t.Fatal(err)
	}

	found, err := f.svc.FindByChecksum(ctx, fileid.ContentHash(content))
	if err != nil || found == nil || found.ID != doc.ID {
		t.Errorf("FindByChecksum = %v, %v", found, err)
	}
	missing, err := f.svc.FindByChecksum(ctx, fileid.ContentHash([]byte("other")))
	if err != nil || missing != nil {
		t.Errorf("FindByChecksum(other) = %v, %v", missing, err)
	}

	st, err := f.svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 1 || st.CachedIndexes != 1 || st.DiskUsageBytes <= 0 {
		t.Errorf("status = %+v", st)
	}
	if st.ChunkSize != 1000 || st.ChunkOverlap != 200 || st.DefaultK != 3 || st.Dimensions != 32 {
		t.Errorf("status settings = %+v", st)
	}
	if f.svc.MaxUploadBytes() != 10<<20 {
		t.Errorf("MaxUploadBytes = %d", f.svc.MaxUploadBytes())
	}
}

func TestNew_removesStaleStaging(t *testing.T) {
	f := newFixture(t, "json")
	stale := filepath.Join(f.cfg.Storage.IndexDir, stagingPrefix+"leftover")
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := New(f.cfg, f.store, f.embedder); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staging directory not removed")
	}
}
