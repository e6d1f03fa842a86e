package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/storage"
)

// Status summarises the registry, the cache and the effective settings.
type Status struct {
	Documents         int    `json:"documents"`
	CachedIndexes     int    `json:"cached_indexes"`
	DiskUsageBytes    int64  `json:"disk_usage_bytes"`
	DataDir           string `json:"data_dir"`
	StorageBackend    string `json:"storage_backend"`
	IndexType         string `json:"index_type"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Dimensions        int    `json:"dimensions"`
	ChunkStrategy     string `json:"chunk_strategy"`
	ChunkSize         int    `json:"chunk_size"`
	ChunkOverlap      int    `json:"chunk_overlap"`
	DefaultK          int    `json:"default_k"`
	MaxFileSizeMB     int    `json:"max_file_size_mb"`
}

// Status reports the current state of the service.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	c := s.cfg
	usage, err := storage.DiskUsageBytes(c.Storage.MetadataPath, c.Storage.DocumentsDir, c.Storage.IndexDir)
	if err != nil {
		s.logger.Warn("disk usage unavailable", zap.Error(err))
		usage = 0
	}
	return &Status{
		Documents:         count,
		CachedIndexes:     s.cache.Len(),
		DiskUsageBytes:    usage,
		DataDir:           c.Storage.DataDir,
		StorageBackend:    c.Storage.Backend,
		IndexType:         s.builder.IndexType(),
		EmbeddingProvider: c.Embedding.Provider,
		EmbeddingModel:    c.Embedding.Model,
		Dimensions:        s.embedder.Dimensions(),
		ChunkStrategy:     c.Chunking.Strategy,
		ChunkSize:         c.Chunking.ChunkSize,
		ChunkOverlap:      c.Chunking.ChunkOverlap,
		DefaultK:          c.Retrieval.DefaultK,
		MaxFileSizeMB:     c.Upload.MaxFileSizeMB,
	}, nil
}
