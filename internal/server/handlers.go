package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

// multipartOverhead is the allowance for form fields and boundaries on top of the file limit.
const multipartOverhead = 1 << 20

type queryRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Question   string `json:"question"`
	K          int    `json:"k,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.svc.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondErr(w, fmt.Errorf("%w: %w: upload exceeds the %d MB limit",
				models.ErrValidation, models.ErrFileTooLarge, maxBytes/(1024*1024)))
			return
		}
		s.respondErr(w, fmt.Errorf("%w: invalid multipart form: %v", models.ErrValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: file is required", models.ErrValidation))
		return
	}
	defer file.Close()

	stream, err := s.svc.Validator().ValidateReader(file, header.Size)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(stream, maxBytes+1))
	if err != nil {
		s.respondErr(w, fmt.Errorf("%w: read upload: %v", models.ErrValidation, err))
		return
	}

	req := models.UploadRequest{
		Content:      content,
		FileName:     header.Filename,
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		DeclaredSize: header.Size,
	}
	s.logger.Debug("upload request", zap.String("file", req.FileName), zap.Int64("size", header.Size))
	doc, err := s.svc.UploadDocument(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListDocuments(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.svc.DeleteDocument(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.DocumentID = id
	}
	s.logger.Debug("query request", zap.String("doc_id", req.DocumentID), zap.Int("k", req.K))
	rc, err := s.svc.AnswerQuestion(r.Context(), req.DocumentID, req.Question, req.K)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":   rc.DocumentID,
		"question":      rc.Question,
		"chunks":        rc.Chunks,
		"context":       rc.Text(),
		"query_time_ms": rc.QueryTime,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch models.ErrorKind(err) {
	case "file_too_large":
		return http.StatusRequestEntityTooLarge
	case "validation":
		return http.StatusBadRequest
	case "extraction":
		return http.StatusUnprocessableEntity
	case "embedding_provider":
		return http.StatusBadGateway
	case "index_not_found", "document_not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error(), Kind: models.ErrorKind(err)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
