package validate

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestValidator_Validate(t *testing.T) {
	const mb = 1024 * 1024
	v := NewValidator(10 * mb)

	tests := []struct {
		name     string
		content  []byte
		declared int64
		wantErr  error
	}{
		{"pdf", minimalPDF, int64(len(minimalPDF)), nil},
		{"pdf unknown declared size", minimalPDF, 0, nil},
		{"renamed png", pngHeader, int64(len(pngHeader)), models.ErrValidation},
		{"plain text", []byte("just some notes"), 15, models.ErrValidation},
		{"empty", nil, 0, models.ErrValidation},
		{"declared too large", minimalPDF, 12 * mb, models.ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.content, tt.declared)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("err = %v should also be a validation error", err)
			}
		})
	}
}

func TestValidator_actualSizeOverLimit(t *testing.T) {
	v := NewValidator(64)
	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 100)...)
	// Declared size lies; the actual length still counts.
	err := v.Validate(content, 10)
	if !errors.Is(err, models.ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestValidator_doesNotMutate(t *testing.T) {
	v := NewValidator(1024 * 1024)
	content := append([]byte(nil), minimalPDF...)
	if err := v.Validate(content, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(content, minimalPDF) {
		t.Error("Validate modified its input")
	}
}

func TestValidator_ValidateReader(t *testing.T) {
	v := NewValidator(1024 * 1024)
	body := append(append([]byte(nil), minimalPDF...), bytes.Repeat([]byte("y"), 5000)...)

	r, err := v.ValidateReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("replayed stream differs: got %d bytes, want %d", len(got), len(body))
	}

	if _, err := v.ValidateReader(strings.NewReader("not a pdf"), 9); !errors.Is(err, models.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := v.ValidateReader(bytes.NewReader(minimalPDF), 2*1024*1024); !errors.Is(err, models.ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}
