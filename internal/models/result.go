package models

import "strings"

// RetrievedChunk is a chunk returned by a similarity query.
// Score is cosine similarity; higher is nearer.
type RetrievedChunk struct {
	Position int     `json:"position"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// RetrievalContext is the ordered set of passages retrieved for one question,
// nearest first.
type RetrievalContext struct {
	DocumentID string           `json:"document_id"`
	Question   string           `json:"question"`
	Chunks     []RetrievedChunk `json:"chunks"`
	QueryTime  int64            `json:"query_time_ms"`
}

// Text joins the retrieved chunk contents in order, separated by blank lines,
// for use as language model context.
func (c *RetrievalContext) Text() string {
	parts := make([]string, len(c.Chunks))
	for i, ch := range c.Chunks {
		parts[i] = ch.Content
	}
	return strings.Join(parts, "\n\n")
}
