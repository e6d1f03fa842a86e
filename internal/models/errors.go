package models

import "errors"

// Error kinds shared across the pipeline. Callers wrap them with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrFileTooLarge      = errors.New("file too large")
	ErrExtraction        = errors.New("no extractable text")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrIndexNotFound     = errors.New("index not found")
	ErrStorage           = errors.New("storage error")
	ErrDocumentNotFound  = errors.New("document not found")
)

// ErrorKind returns a stable name for the kind of err, or "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrEmbeddingProvider):
		return "embedding_provider"
	case errors.Is(err, ErrIndexNotFound):
		return "index_not_found"
	case errors.Is(err, ErrDocumentNotFound):
		return "document_not_found"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
