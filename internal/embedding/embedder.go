// Package embedding provides text embedding providers: hosted HTTP APIs, a local
// ONNX model, and a deterministic mock.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// Embedder produces vector embeddings for text. Embed is used for queries and
// EmbedBatch for document chunks; providers that distinguish the two roles use
// this to pick the input type. Every vector has Dimensions() entries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg.Provider. Query embeddings are
// cached when cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "cohere", "openai":
		e, err = NewHTTPEmbedder(HTTPConfig{
			Provider:          cfg.Provider,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey(),
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        cfg.MaxRetries,
		}, WithLogger(logger))
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachingEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
