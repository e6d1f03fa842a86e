package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// Uploader is the part of the service the inbox needs.
type Uploader interface {
	UploadDocument(ctx context.Context, req models.UploadRequest) (*models.Document, error)
	FindByChecksum(ctx context.Context, checksum string) (*models.Document, error)
}

// Ingester uploads inbox files. A file is removed from the inbox once it is
// registered, or when an identical document is already registered. Files that
// fail are left in place.
type Ingester struct {
	uploader Uploader
	maxBytes int64
	logger   *zap.Logger
	// mu serialises ingestion so a file reported twice is only uploaded once.
	mu sync.Mutex
}

// NewIngester creates an ingester. maxBytes skips oversized files without reading them (0 = no limit).
func NewIngester(uploader Uploader, maxBytes int64, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{uploader: uploader, maxBytes: maxBytes, logger: logger}
}

// Ingest uploads the file at path with its stem as the title. It returns the
// new document, or nil when the file was a duplicate or had already gone.
func (in *Ingester) Ingest(ctx context.Context, path string) (*models.Document, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if in.maxBytes > 0 && info.Size() > in.maxBytes {
		return nil, fmt.Errorf("%w: %w: %s is %d bytes", models.ErrValidation, models.ErrFileTooLarge, path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	checksum := fileid.ContentHash(content)
	existing, err := in.uploader.FindByChecksum(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		in.logger.Info("inbox file already ingested",
			zap.String("path", path), zap.String("doc_id", existing.ID))
		in.remove(path)
		return nil, nil
	}

	name := filepath.Base(path)
	doc, err := in.uploader.UploadDocument(ctx, models.UploadRequest{
		Content:      content,
		FileName:     name,
		Title:        strings.TrimSuffix(name, filepath.Ext(name)),
		DeclaredSize: info.Size(),
	})
	if err != nil {
		return nil, err
	}
	in.remove(path)
	return doc, nil
}

// Handle is a watcher callback: it ingests path and logs the outcome.
func (in *Ingester) Handle(ctx context.Context) func(path string) {
	return func(path string) {
		doc, err := in.Ingest(ctx, path)
		switch {
		case err != nil:
			in.logger.Warn("inbox ingestion failed",
				zap.String("path", path), zap.String("kind", models.ErrorKind(err)), zap.Error(err))
		case doc != nil:
			in.logger.Info("inbox file ingested", zap.String("path", path), zap.String("doc_id", doc.ID))
		}
	}
}

func (in *Ingester) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.logger.Warn("could not remove inbox file", zap.String("path", path), zap.Error(err))
	}
}
