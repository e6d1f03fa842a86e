package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// DefaultK is the number of chunks returned when the caller does not ask for a count.
const DefaultK = 3

// Retriever embeds questions and finds the nearest chunks of one document.
type Retriever struct {
	cache        *Cache
	embedder     embedding.Embedder
	queryTimeout time.Duration
	defaultK     int
	logger       *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithQueryTimeout bounds each query embedding call. Zero means no bound.
func WithQueryTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) { r.queryTimeout = d }
}

// WithDefaultK sets the count used when Query is called with k <= 0.
func WithDefaultK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

// WithRetrieverLogger sets the logger for query events.
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever over cache.
func NewRetriever(cache *Cache, embedder embedding.Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		cache:    cache,
		embedder: embedder,
		defaultK: DefaultK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Query returns up to k chunks of idx nearest to text, nearest first.
// Chunks with equal scores keep document order.
func (r *Retriever) Query(ctx context.Context, idx vector.VectorIndex, text string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = r.defaultK
	}
	qctx := ctx
	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}
	vec, err := r.embedder.Embed(qctx, text)
	if err != nil {
		if errors.Is(err, models.ErrEmbeddingProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: embed query: %v", models.ErrEmbeddingProvider, err)
	}
	if len(vec) != idx.Dimensions() {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, index expects %d",
			models.ErrEmbeddingProvider, len(vec), idx.Dimensions())
	}

	results, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	chunks := make([]models.RetrievedChunk, len(results))
	for i, res := range results {
		chunks[i] = models.RetrievedChunk{Position: res.Position, Content: res.Text, Score: res.Score}
	}
	return chunks, nil
}

// Retrieve answers text against the index of document id.
// It returns models.ErrIndexNotFound when the document has no index.
func (r *Retriever) Retrieve(ctx context.Context, id, text string, k int) ([]models.RetrievedChunk, error) {
	idx, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, id)
	}
	chunks, err := r.Query(ctx, idx, text, k)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("retrieved chunks", zap.String("doc_id", id), zap.Int("count", len(chunks)))
	return chunks, nil
}
