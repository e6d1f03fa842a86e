package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

const (
	chromemDir        = "chromem"
	chromemCollection = "chunks"
	metaPosition      = "position"
)

var errTextQuery = errors.New("chromem index only accepts precomputed embeddings")

// ChromemIndex keeps chunks in a chromem-go collection. Saved indexes use a
// chromem persistent DB under <dir>/chromem.
type ChromemIndex struct {
	dimensions int
	db         *chromem.DB
	coll       *chromem.Collection
	entries    []Entry
	mu         sync.RWMutex
}

// NewChromemIndex creates an empty in-memory chromem index.
func NewChromemIndex(dimensions int) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, noTextEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &ChromemIndex{dimensions: dimensions, db: db, coll: coll}, nil
}

// noTextEmbedding is installed as the collection's embedding func; every
// document and query arrives with its vector already computed.
func noTextEmbedding(context.Context, string) ([]float32, error) {
	return nil, errTextQuery
}

// Type returns the index type identifier.
func (c *ChromemIndex) Type() string {
	return string(IndexTypeChromem)
}

// Dimensions returns the vector dimension.
func (c *ChromemIndex) Dimensions() int {
	return c.dimensions
}

// Add inserts entries into the collection.
func (c *ChromemIndex) Add(ctx context.Context, entries []Entry) error {
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Vector) != c.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), c.dimensions)
		}
		docs[i] = toDocument(Entry{Position: e.Position, Text: e.Text, Vector: normalized(e.Vector)})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(docs) > 0 {
		if err := c.coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("add to chromem collection: %w", err)
		}
	}
	for _, d := range docs {
		c.entries = append(c.entries, fromDocument(d.ID, d.Content, d.Metadata, d.Embedding))
	}
	return nil
}

// Search queries every document in the collection and keeps the top k, so
// ties at the cut-off are resolved by position rather than by chromem.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != c.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), c.dimensions)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.coll.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	hits, err := c.coll.QueryEmbedding(ctx, normalized(query), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem collection: %w", err)
	}
	results := make([]*VectorResult, 0, len(hits))
	for _, h := range hits {
		e := fromDocument(h.ID, h.Content, h.Metadata, nil)
		results = append(results, &VectorResult{Position: e.Position, Text: h.Content, Score: float64(h.Similarity)})
	}
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Save writes the collection to a persistent chromem DB in dir, then the manifest.
func (c *ChromemIndex) Save(dir string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path := filepath.Join(dir, chromemDir)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return fmt.Errorf("open chromem DB: %w", err)
	}
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, noTextEmbedding)
	if err != nil {
		return fmt.Errorf("create chromem collection: %w", err)
	}
	docs := make([]chromem.Document, len(c.entries))
	for i, e := range c.entries {
		docs[i] = toDocument(e)
	}
	if len(docs) > 0 {
		if err := coll.AddDocuments(context.Background(), docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("write chromem collection: %w", err)
		}
	}
	return writeManifest(dir, c)
}

// Load opens the persistent chromem DB in dir. A loaded index is read-only.
func (c *ChromemIndex) Load(dir string) error {
	path := filepath.Join(dir, chromemDir)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open chromem DB: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return fmt.Errorf("open chromem DB: %w", err)
	}
	coll := db.GetCollection(chromemCollection, noTextEmbedding)
	if coll == nil {
		return fmt.Errorf("chromem DB %s has no %q collection", path, chromemCollection)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	c.coll = coll
	c.entries = nil
	return nil
}

// Size returns the number of documents in the collection.
func (c *ChromemIndex) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coll.Count()
}

// Close drops the references to the DB.
func (c *ChromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}

func toDocument(e Entry) chromem.Document {
	pos := strconv.Itoa(e.Position)
	return chromem.Document{
		ID:        pos,
		Metadata:  map[string]string{metaPosition: pos},
		Embedding: e.Vector,
		Content:   e.Text,
	}
}

func fromDocument(id, content string, meta map[string]string, vec []float32) Entry {
	pos, err := strconv.Atoi(meta[metaPosition])
	if err != nil {
		pos, _ = strconv.Atoi(id)
	}
	return Entry{Position: pos, Text: content, Vector: vec}
}
