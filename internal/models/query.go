package models

import (
	"fmt"
	"strings"
)

// Question is a query request against one document.
// An empty DocumentID selects the default document.
type Question struct {
	DocumentID string `json:"document_id,omitempty"`
	Question   string `json:"question"`
	K          int    `json:"k,omitempty"`
}

// Validate ensures the question is usable and clamps K. The question text is
// kept as given. K <= 0 is left for the retriever to default; K above maxK is clamped.
func (q *Question) Validate(maxK int) error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrValidation)
	}
	if q.K < 0 {
		q.K = 0
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
