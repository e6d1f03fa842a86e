package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/service"
)

// apiClient talks to a running kotae server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiError is an error response from the server.
type apiError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
}

// Upload posts the file at path as a multipart form.
func (c *apiClient) Upload(ctx context.Context, path, title, description string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	_ = mw.WriteField("title", title)
	if description != "" {
		_ = mw.WriteField("description", description)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/documents", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var doc models.Document
	if err := c.do(req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Ask queries docID, or the default document when docID is empty.
func (c *apiClient) Ask(ctx context.Context, docID, question string, k int) (*models.RetrievalContext, error) {
	body, err := json.Marshal(models.Question{DocumentID: docID, Question: question, K: k})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var rc models.RetrievalContext
	if err := c.do(req, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// List returns all registered documents.
func (c *apiClient) List(ctx context.Context) ([]*models.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/documents", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Delete removes a document.
func (c *apiClient) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/documents/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Status returns the server status.
func (c *apiClient) Status(ctx context.Context) (*service.Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var st service.Status
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
