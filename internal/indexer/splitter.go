// Package indexer splits extracted text into chunks and builds per-document vector indexes.
package indexer

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/hyperjump/kotae/internal/models"
)

// Splitting strategies.
const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
)

// Splitter breaks a document's text into ordered, overlapping chunks.
type Splitter interface {
	Split(text string) ([]models.Chunk, error)
}

// NewSplitter returns the splitter for strategy. Sizes are in characters.
func NewSplitter(strategy string, chunkSize, chunkOverlap int) (Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	switch strategy {
	case "", StrategyFixed:
		return NewFixedSplitter(chunkSize, chunkOverlap), nil
	case StrategyRecursive:
		return NewRecursiveSplitter(chunkSize, chunkOverlap), nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy: %s", strategy)
	}
}

// FixedSplitter cuts the text into windows of exactly chunkSize characters,
// advancing by chunkSize-chunkOverlap. Only the last chunk may be shorter.
type FixedSplitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewFixedSplitter creates a fixed-window splitter. Callers validate the sizes.
func NewFixedSplitter(chunkSize, chunkOverlap int) *FixedSplitter {
	return &FixedSplitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split returns nil for empty text.
func (s *FixedSplitter) Split(text string) ([]models.Chunk, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	step := s.chunkSize - s.chunkOverlap
	var chunks []models.Chunk
	for start := 0; ; start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, models.Chunk{
			Position: len(chunks),
			Content:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// RecursiveSplitter prefers paragraph, line, and word boundaries, falling back
// to hard cuts only when a piece has no boundary within chunkSize.
type RecursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursiveSplitter creates a boundary-preferring splitter.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveSplitter {
	return &RecursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
	}
}

// Split returns nil for empty text.
func (s *RecursiveSplitter) Split(text string) ([]models.Chunk, error) {
	if text == "" {
		return nil, nil
	}
	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	chunks := make([]models.Chunk, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Position: len(chunks), Content: p})
	}
	return chunks, nil
}
