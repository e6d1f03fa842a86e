// Package retrieval keeps loaded document indexes in memory and answers
// similarity queries against them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kotae/internal/locker"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// DocumentGetter looks up the registry record for an id.
type DocumentGetter interface {
	Get(ctx context.Context, id string) (*models.Document, error)
}

// Cache maps document ids to loaded indexes for the life of the process.
// Loads for an id run under that id's read lock, so a concurrent delete
// (which holds the write lock) either sees the index cached and evicts it,
// or runs first and the load finds nothing.
type Cache struct {
	docs   DocumentGetter
	locks  *locker.Keyed
	group  singleflight.Group
	logger *zap.Logger

	mu      sync.RWMutex // protects indexes
	indexes map[string]vector.VectorIndex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger for load events.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates an empty cache that resolves index locations through docs.
// locks must be the same locker used by writers of the registry.
func NewCache(docs DocumentGetter, locks *locker.Keyed, opts ...CacheOption) *Cache {
	c := &Cache{
		docs:    docs,
		locks:   locks,
		logger:  zap.NewNop(),
		indexes: make(map[string]vector.VectorIndex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loadResult struct {
	idx   vector.VectorIndex
	found bool
}

// Get returns the index for id, loading it from disk on a miss. It reports
// false with a nil error when the document or its index does not exist.
// A caller whose ctx ends returns early; the load carries on for the others.
func (c *Cache) Get(ctx context.Context, id string) (vector.VectorIndex, bool, error) {
	c.mu.RLock()
	idx, ok := c.indexes[id]
	c.mu.RUnlock()
	if ok {
		return idx, true, nil
	}

	// The load is shared by every waiter on id, so it must outlive the
	// caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		return c.load(loadCtx, id)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(loadResult)
		return res.idx, res.found, nil
	}
}

func (c *Cache) load(ctx context.Context, id string) (loadResult, error) {
	unlock := c.locks.RLock(id)
	defer unlock()

	// A load that finished while we waited for the lock.
	c.mu.RLock()
	idx, ok := c.indexes[id]
	c.mu.RUnlock()
	if ok {
		return loadResult{idx: idx, found: true}, nil
	}

	doc, err := c.docs.Get(ctx, id)
	if errors.Is(err, models.ErrDocumentNotFound) {
		return loadResult{}, nil
	}
	if err != nil {
		return loadResult{}, fmt.Errorf("lookup document %s: %w", id, err)
	}

	idx, err = vector.LoadIndex(doc.IndexPath)
	if errors.Is(err, models.ErrIndexNotFound) {
		c.logger.Warn("registered document has no index",
			zap.String("doc_id", id), zap.String("path", doc.IndexPath))
		return loadResult{}, nil
	}
	if err != nil {
		return loadResult{}, fmt.Errorf("%w: load index %s: %v", models.ErrStorage, id, err)
	}

	c.mu.Lock()
	c.indexes[id] = idx
	c.mu.Unlock()
	c.logger.Debug("index loaded",
		zap.String("doc_id", id), zap.String("type", idx.Type()), zap.Int("chunks", idx.Size()))
	return loadResult{idx: idx, found: true}, nil
}

// Put caches idx for id. Used after a build so the first query skips the disk.
func (c *Cache) Put(id string, idx vector.VectorIndex) {
	c.mu.Lock()
	c.indexes[id] = idx
	c.mu.Unlock()
}

// Evict drops id from the cache. Queries already holding the index finish
// against it; the index is not closed.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	delete(c.indexes, id)
	c.mu.Unlock()
}

// Len returns the number of cached indexes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indexes)
}
