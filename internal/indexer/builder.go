package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// Builder embeds a document's chunks and assembles them into a vector index.
// A build either yields an index holding every chunk or fails with nothing kept.
type Builder struct {
	embedder  embedding.Embedder
	indexType string
	logger    *zap.Logger // optional; when set, logs debug events
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithIndexType selects the vector index implementation ("memory" or "chromem").
func WithIndexType(indexType string) BuilderOption {
	return func(b *Builder) { b.indexType = indexType }
}

// NewBuilder creates a builder that embeds with embedder.
func NewBuilder(embedder embedding.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{embedder: embedder, indexType: string(vector.IndexTypeMemory)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IndexType returns the type of index Build produces.
func (b *Builder) IndexType() string {
	return b.indexType
}

// Build embeds every chunk and returns an index with one entry per chunk.
// Embedding failures are reported as models.ErrEmbeddingProvider.
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk) (vector.VectorIndex, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: nothing to index", models.ErrExtraction)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	if b.logger != nil {
		b.logger.Debug("builder embedding chunks", zap.Int("chunks", len(chunks)))
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, models.ErrEmbeddingProvider) {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		return nil, fmt.Errorf("%w: failed to generate embeddings: %v", models.ErrEmbeddingProvider, err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks",
			models.ErrEmbeddingProvider, len(vecs), len(chunks))
	}

	dims := b.embedder.Dimensions()
	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		if len(vecs[i]) != dims {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				models.ErrEmbeddingProvider, i, len(vecs[i]), dims)
		}
		entries[i] = vector.Entry{Position: ch.Position, Text: ch.Content, Vector: vecs[i]}
	}

	idx, err := vector.NewVectorIndex(b.indexType, dims)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, entries); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	if b.logger != nil {
		b.logger.Debug("builder index ready", zap.String("type", idx.Type()), zap.Int("size", idx.Size()))
	}
	return idx, nil
}
