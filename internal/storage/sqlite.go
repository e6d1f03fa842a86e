package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

const documentIDCounter = "document_id"

// SQLiteStore implements MetadataStore using SQLite. The id counter lives in
// its own table so ids survive deletes.
type SQLiteStore struct {
	db *sql.DB
	// mu keeps Delete's artifact removal and row delete atomic with respect to readers.
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		file_size INTEGER NOT NULL,
		upload_date TIMESTAMP NOT NULL,
		source_path TEXT NOT NULL,
		index_path TEXT NOT NULL,
		checksum TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(seq);
	CREATE INDEX IF NOT EXISTS idx_documents_checksum ON documents(checksum);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO counters (name, value) VALUES ('document_id', 0);
	`
	_, err := db.Exec(schema)
	return err
}

// NextID allocates and persists the next id.
func (s *SQLiteStore) NextID(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	n, err := nextID(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit id: %v", models.ErrStorage, err)
	}
	return strconv.FormatInt(n, 10), nil
}

func nextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = ?`, documentIDCounter); err != nil {
		return 0, fmt.Errorf("%w: advance id counter: %v", models.ErrStorage, err)
	}
	var n int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = ?`, documentIDCounter).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: read id counter: %v", models.ErrStorage, err)
	}
	return n, nil
}

// Create inserts doc, allocating its id in the same transaction when it is empty.
func (s *SQLiteStore) Create(ctx context.Context, doc *models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	var seq int64
	if doc.ID == "" {
		if seq, err = nextID(ctx, tx); err != nil {
			return err
		}
		doc.ID = strconv.FormatInt(seq, 10)
	} else {
		seq, err = strconv.ParseInt(doc.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: non-numeric id %q", models.ErrStorage, doc.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE counters SET value = MAX(value, ?) WHERE name = ?`, seq, documentIDCounter); err != nil {
			return fmt.Errorf("%w: advance id counter: %v", models.ErrStorage, err)
		}
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, seq, file_name, title, description, file_size, upload_date,
		 source_path, index_path, checksum, chunk_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, seq, doc.FileName, doc.Title, doc.Description, doc.FileSize, doc.UploadDate,
		doc.SourcePath, doc.IndexPath, doc.Checksum, doc.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("%w: insert document %s: %v", models.ErrStorage, doc.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit document %s: %v", models.ErrStorage, doc.ID, err)
	}
	return nil
}

const selectDocument = `SELECT id, file_name, title, description, file_size, upload_date,
	source_path, index_path, checksum, chunk_count FROM documents`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var description, checksum sql.NullString
	if err := row.Scan(&doc.ID, &doc.FileName, &doc.Title, &description, &doc.FileSize, &doc.UploadDate,
		&doc.SourcePath, &doc.IndexPath, &checksum, &doc.ChunkCount); err != nil {
		return nil, err
	}
	doc.Description = description.String
	doc.Checksum = checksum.String
	doc.UploadDate = doc.UploadDate.UTC()
	return &doc, nil
}

// Get returns a document by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document %s: %v", models.ErrStorage, id, err)
	}
	return doc, nil
}

// List returns all documents in id order.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectDocument+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", models.ErrStorage, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the total number of documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Delete removes the artifacts of id and then its row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: get document %s: %v", models.ErrStorage, id, err)
	}
	if err := removeArtifacts(doc); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete document %s: %v", models.ErrStorage, id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
