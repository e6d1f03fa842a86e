// Package validate checks uploads before any extraction or persistence happens.
package validate

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hyperjump/kotae/internal/models"
)

// PDFMime is the only accepted content type.
const PDFMime = "application/pdf"

// sniffLen is how much of a stream is read to detect its type.
const sniffLen = 3072

// Validator rejects files over the size limit or whose content is not a PDF.
// The filename extension is never consulted.
type Validator struct {
	maxBytes int64
}

// NewValidator returns a Validator with the given limit in bytes.
func NewValidator(maxBytes int64) *Validator {
	return &Validator{maxBytes: maxBytes}
}

// MaxBytes returns the configured limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate checks content and the client-declared size. It does not modify content.
func (v *Validator) Validate(content []byte, declaredSize int64) error {
	if err := v.checkSize(declaredSize); err != nil {
		return err
	}
	if err := v.checkSize(int64(len(content))); err != nil {
		return err
	}
	return checkType(content)
}

// ValidateReader checks the declared size and sniffs the head of r. The returned
// reader yields the complete stream, including the sniffed bytes.
func (v *Validator) ValidateReader(r io.Reader, declaredSize int64) (io.Reader, error) {
	if err := v.checkSize(declaredSize); err != nil {
		return nil, err
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read upload: %v", models.ErrValidation, err)
	}
	head = head[:n]
	if err := checkType(head); err != nil {
		return nil, err
	}
	return io.MultiReader(bytes.NewReader(head), r), nil
}

func (v *Validator) checkSize(size int64) error {
	if v.maxBytes > 0 && size > v.maxBytes {
		return fmt.Errorf("%w: %w: %d bytes exceeds the %d MB limit",
			models.ErrValidation, models.ErrFileTooLarge, size, v.maxBytes/(1024*1024))
	}
	return nil
}

func checkType(content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: empty file", models.ErrValidation)
	}
	mtype := mimetype.Detect(content)
	if !mtype.Is(PDFMime) {
		return fmt.Errorf("%w: content type %s is not %s", models.ErrValidation, mtype.String(), PDFMime)
	}
	return nil
}
