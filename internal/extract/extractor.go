// Package extract provides text extraction from PDF documents.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

// PageSource is a paged document. Pages are numbered from 1.
type PageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

// Extractor turns PDF bytes into the document's plain text.
type Extractor struct {
	logger *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger used for skipped pages.
func WithLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of every page of the PDF in content, in page order.
// It returns models.ErrExtraction when the PDF cannot be opened or has no text.
func (e *Extractor) Extract(content []byte) (string, error) {
	src, err := openPDF(content)
	if err != nil {
		return "", fmt.Errorf("%w: open PDF: %v", models.ErrExtraction, err)
	}
	return e.JoinPages(src)
}

// JoinPages concatenates page texts in order without a separator. Pages whose
// text is blank, or that fail to decode, are skipped.
func (e *Extractor) JoinPages(src PageSource) (string, error) {
	var b strings.Builder
	for n := 1; n <= src.NumPage(); n++ {
		text, err := src.PageText(n)
		if err != nil {
			e.logger.Debug("skipping unreadable page", zap.Int("page", n), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "�")
		}
		b.WriteString(text)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document contains no text", models.ErrExtraction)
	}
	return text, nil
}
