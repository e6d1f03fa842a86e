// Package vector provides per-document vector indexes and similarity search.
package vector

import (
	"context"
	"sort"
)

// Entry is one chunk to index: its position in the document, its text, and its embedding.
type Entry struct {
	Position int
	Text     string
	Vector   []float32
}

// VectorIndex stores chunk embeddings with their text and answers nearest-neighbour
// queries. An index is built once, saved to a directory, and reopened read-only.
type VectorIndex interface {
	Add(ctx context.Context, entries []Entry) error
	// Search returns up to k entries, highest similarity first; equal scores are
	// ordered by chunk position.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// Save writes the index into dir, which is created if needed.
	Save(dir string) error
	// Load replaces the contents with the index saved in dir.
	Load(dir string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single search hit.
type VectorResult struct {
	Position int
	Text     string
	Score    float64 // cosine similarity
}

// sortResults orders by score descending, then position ascending.
func sortResults(results []*VectorResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
}
