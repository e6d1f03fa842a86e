// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "time"

// Document is the registry record for one ingested source file.
// A record exists only while its source file and index directory both exist.
type Document struct {
	ID          string    `json:"id" db:"id"`
	FileName    string    `json:"file_name" db:"file_name"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	UploadDate  time.Time `json:"upload_date" db:"upload_date"`
	SourcePath  string    `json:"source_path" db:"source_path"`
	IndexPath   string    `json:"index_path" db:"index_path"`
	Checksum    string    `json:"checksum,omitempty" db:"checksum"`
	ChunkCount  int       `json:"chunk_count" db:"chunk_count"`
}

// Chunk is a contiguous substring of a document's extracted text.
// Position is its 0-based order within the document.
type Chunk struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// UploadRequest is the input for ingesting a document.
// DeclaredSize is the size the client claims; 0 means unknown.
type UploadRequest struct {
	Content      []byte `json:"-"`
	FileName     string `json:"file_name"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	DeclaredSize int64  `json:"declared_size,omitempty"`
}
