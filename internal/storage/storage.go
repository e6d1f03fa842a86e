// Package storage defines the document registry and the on-disk artifacts it owns.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// MetadataStore is the durable registry of ingested documents.
// Ids come from a persisted counter and are never reused, even after delete.
type MetadataStore interface {
	// NextID allocates the next unused id.
	NextID(ctx context.Context) (string, error)
	// Create registers doc. An empty doc.ID is allocated with NextID; a zero
	// UploadDate is set to the current UTC time.
	Create(ctx context.Context, doc *models.Document) error
	// Get returns models.ErrDocumentNotFound when id is not registered.
	Get(ctx context.Context, id string) (*models.Document, error)
	// List returns all records in insertion order.
	List(ctx context.Context) ([]*models.Document, error)
	// Delete removes the source file and index directory, then the record.
	// If either removal fails the record is kept.
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewMetadataStore opens the registry backend named in cfg.
func NewMetadataStore(cfg config.StorageConfig) (MetadataStore, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(cfg.MetadataPath)
	case "sqlite":
		return NewSQLiteStore(cfg.MetadataPath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
