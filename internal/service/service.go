// Package service implements document upload, question answering and
// document management on top of the ingestion and retrieval packages.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/locker"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/validate"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// maxK caps the number of chunks a single question may request.
const maxK = 50

// TextExtractor turns uploaded bytes into plain text.
type TextExtractor interface {
	Extract(content []byte) (string, error)
}

// Service runs the upload pipeline (validate, extract, split, build, register)
// and answers questions against registered documents.
type Service struct {
	cfg       *config.Config
	store     storage.MetadataStore
	embedder  embedding.Embedder
	validator *validate.Validator
	extractor TextExtractor
	splitter  indexer.Splitter
	builder   *indexer.Builder
	locks     *locker.Keyed
	cache     *retrieval.Cache
	retriever *retrieval.Retriever
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records upload, query and delete metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithExtractor replaces the PDF extractor.
func WithExtractor(e TextExtractor) Option {
	return func(s *Service) { s.extractor = e }
}

// New wires a Service from cfg. The caller owns store and embedder and closes them.
func New(cfg *config.Config, store storage.MetadataStore, embedder embedding.Embedder, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		locks:    locker.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	splitter, err := indexer.NewSplitter(cfg.Chunking.Strategy, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("create splitter: %w", err)
	}
	s.splitter = splitter
	s.validator = validate.NewValidator(cfg.Upload.MaxBytes())
	if s.extractor == nil {
		s.extractor = extract.NewExtractor(extract.WithLogger(s.logger))
	}
	s.builder = indexer.NewBuilder(embedder,
		indexer.WithIndexType(cfg.Retrieval.IndexType),
		indexer.WithLogger(s.logger))
	s.cache = retrieval.NewCache(store, s.locks, retrieval.WithLogger(s.logger))
	s.retriever = retrieval.NewRetriever(s.cache, embedder,
		retrieval.WithQueryTimeout(time.Duration(cfg.Embedding.QueryTimeoutSeconds)*time.Second),
		retrieval.WithDefaultK(cfg.Retrieval.DefaultK),
		retrieval.WithRetrieverLogger(s.logger))

	if err := os.MkdirAll(cfg.Storage.IndexDir, 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.DocumentsDir, 0755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	s.cleanStaging()
	if n, err := store.Count(context.Background()); err == nil {
		s.metrics.SetDocuments(n)
	}
	return s, nil
}

// cleanStaging removes build directories left behind by an interrupted process.
func (s *Service) cleanStaging() {
	matches, err := filepath.Glob(filepath.Join(s.cfg.Storage.IndexDir, stagingPrefix+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err == nil {
			s.logger.Info("removed stale staging directory", zap.String("path", m))
		}
	}
}

const stagingPrefix = ".staging-"

// UploadDocument ingests one file and registers it. Nothing is persisted unless
// every step succeeds: a record exists only once its index and source file do.
func (s *Service) UploadDocument(ctx context.Context, req models.UploadRequest) (doc *models.Document, err error) {
	start := time.Now()
	defer func() {
		result, chunks := "ok", 0
		if err != nil {
			result = models.ErrorKind(err)
		} else {
			chunks = doc.ChunkCount
		}
		s.metrics.RecordUpload(result, time.Since(start), chunks)
	}()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	declared := req.DeclaredSize
	if declared <= 0 {
		declared = int64(len(req.Content))
	}
	if err := s.validator.Validate(req.Content, declared); err != nil {
		return nil, err
	}

	text, err := s.extractor.Extract(req.Content)
	if err != nil {
		return nil, err
	}
	chunks, err := s.splitter.Split(text)
	if err != nil {
		return nil, fmt.Errorf("%w: split text: %v", models.ErrExtraction, err)
	}
	s.logger.Debug("document split",
		zap.String("file", req.FileName), zap.Int("chars", len(text)), zap.Int("chunks", len(chunks)))

	idx, err := s.builder.Build(ctx, chunks)
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(s.cfg.Storage.IndexDir, stagingPrefix+uuid.NewString())
	if err := idx.Save(staging); err != nil {
		_ = os.RemoveAll(staging)
		_ = idx.Close()
		return nil, fmt.Errorf("%w: save index: %v", models.ErrStorage, err)
	}

	doc, err = s.register(ctx, req, title, staging, idx, len(chunks))
	if err != nil {
		_ = os.RemoveAll(staging)
		_ = idx.Close()
		return nil, err
	}
	s.metrics.SetCachedIndexes(s.cache.Len())
	if n, err := s.store.Count(ctx); err == nil {
		s.metrics.SetDocuments(n)
	}
	s.logger.Info("document ingested",
		zap.String("doc_id", doc.ID), zap.String("title", doc.Title),
		zap.Int("chunks", doc.ChunkCount), zap.Duration("took", time.Since(start)))
	return doc, nil
}

// register allocates an id, moves the staged index into place, archives the
// source and creates the record, undoing the moves if any step fails. idx is
// cached before the id lock is released, so a delete of the new id always
// evicts it.
func (s *Service) register(ctx context.Context, req models.UploadRequest, title, staging string, idx vector.VectorIndex, chunks int) (*models.Document, error) {
	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	indexPath := storage.IndexPath(s.cfg.Storage.IndexDir, id)
	if err := os.Rename(staging, indexPath); err != nil {
		return nil, fmt.Errorf("%w: move index into place: %v", models.ErrStorage, err)
	}
	sourcePath, err := storage.SaveSource(s.cfg.Storage.DocumentsDir, id, req.Content)
	if err != nil {
		_ = os.RemoveAll(indexPath)
		return nil, err
	}

	fileName := filepath.Base(req.FileName)
	if req.FileName == "" {
		fileName = title + ".pdf"
	}
	doc := &models.Document{
		ID:          id,
		FileName:    fileName,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		FileSize:    int64(len(req.Content)),
		UploadDate:  time.Now().UTC(),
		SourcePath:  sourcePath,
		IndexPath:   indexPath,
		Checksum:    fileid.ContentHash(req.Content),
		ChunkCount:  chunks,
	}
	if err := s.store.Create(ctx, doc); err != nil {
		_ = os.RemoveAll(indexPath)
		_ = os.Remove(sourcePath)
		return nil, err
	}
	s.cache.Put(id, idx)
	return doc, nil
}

// AnswerQuestion returns the k chunks of document docID nearest to question.
// An empty docID selects the first registered document.
func (s *Service) AnswerQuestion(ctx context.Context, docID, question string, k int) (rc *models.RetrievalContext, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = models.ErrorKind(err)
		}
		s.metrics.RecordQuery(result, time.Since(start))
	}()

	q := models.Question{DocumentID: docID, Question: question, K: k}
	if err := q.Validate(maxK); err != nil {
		return nil, err
	}
	if q.DocumentID == "" {
		doc, err := s.DefaultDocument(ctx)
		if err != nil {
			return nil, err
		}
		q.DocumentID = doc.ID
	}

	chunks, err := s.retriever.Retrieve(ctx, q.DocumentID, q.Question, q.K)
	if err != nil {
		return nil, err
	}
	s.metrics.SetCachedIndexes(s.cache.Len())
	s.logger.Debug("question answered",
		zap.String("doc_id", q.DocumentID),
		zap.String("question", utils.Preview(q.Question, 80)),
		zap.Int("chunks", len(chunks)))
	return &models.RetrievalContext{
		DocumentID: q.DocumentID,
		Question:   q.Question,
		Chunks:     chunks,
		QueryTime:  time.Since(start).Milliseconds(),
	}, nil
}

// DefaultDocument returns the first registered document, or
// models.ErrIndexNotFound when there is none.
func (s *Service) DefaultDocument(ctx context.Context) (*models.Document, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents uploaded", models.ErrIndexNotFound)
	}
	return docs[0], nil
}

// DeleteDocument removes the document's source file, index and record, and
// drops its cached index. If the files cannot be removed the record is kept.
func (s *Service) DeleteDocument(ctx context.Context, id string) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = models.ErrorKind(err)
		}
		s.metrics.RecordDelete(result)
	}()

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		if !errors.Is(err, models.ErrDocumentNotFound) {
			s.logger.Error("delete failed", zap.String("doc_id", id), zap.Error(err))
		}
		return err
	}
	s.cache.Evict(id)
	s.metrics.SetCachedIndexes(s.cache.Len())
	if n, err := s.store.Count(ctx); err == nil {
		s.metrics.SetDocuments(n)
	}
	s.logger.Info("document deleted", zap.String("doc_id", id))
	return nil
}

// ListDocuments returns every registered document in id order.
func (s *Service) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return s.store.List(ctx)
}

// GetDocument returns the record for id.
func (s *Service) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.store.Get(ctx, id)
}

// FindByChecksum returns the first document whose content hash is checksum,
// or nil when none matches.
func (s *Service) FindByChecksum(ctx context.Context, checksum string) (*models.Document, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.Checksum == checksum {
			return d, nil
		}
	}
	return nil, nil
}

// MaxUploadBytes returns the upload size limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.validator.MaxBytes()
}

// Validator returns the upload validator, for callers that check a stream
// before buffering it.
func (s *Service) Validator() *validate.Validator {
	return s.validator
}
