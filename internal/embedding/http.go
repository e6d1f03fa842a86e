package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	inputTypeDocument = "search_document"
	inputTypeQuery    = "search_query"
)

// HTTPConfig configures a hosted embedding API.
type HTTPConfig struct {
	// Provider is "cohere" (POST {BaseURL}/v1/embed) or "openai" (POST {BaseURL}/embeddings).
	Provider          string
	BaseURL           string
	Model             string
	APIKey            string
	Dimensions        int
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// HTTPEmbedder calls a hosted embedding API. Requests are paced by a token
// bucket and retried with backoff on 429, 5xx, and transport errors.
type HTTPEmbedder struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithLogger sets the logger for retry and failure events.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.client = c }
}

// NewHTTPEmbedder validates cfg and returns a client.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.Provider != "cohere" && cfg.Provider != "openai" {
		return nil, fmt.Errorf("unsupported HTTP embedding provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for %s embeddings", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 96
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	e := &HTTPEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed embeds a query.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, inputTypeQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds document chunks, splitting them into requests of at most
// BatchSize texts. The result has one vector per text, in order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[start:end], inputTypeDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type openAIRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func (e *HTTPEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	var (
		url  string
		body []byte
		err  error
	)
	switch e.cfg.Provider {
	case "cohere":
		url = e.cfg.BaseURL + "/v1/embed"
		body, err = json.Marshal(cohereRequest{Texts: texts, Model: e.cfg.Model, InputType: inputType, Truncate: "END"})
	default:
		url = e.cfg.BaseURL + "/embeddings"
		body, err = json.Marshal(openAIRequest{Input: texts, Model: e.cfg.Model})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", models.ErrEmbeddingProvider, err)
	}

	payload, err := e.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var vecs [][]float32
	switch e.cfg.Provider {
	case "cohere":
		var out cohereResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", models.ErrEmbeddingProvider, err)
		}
		vecs = out.Embeddings
	default:
		var out openAIResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", models.ErrEmbeddingProvider, err)
		}
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		for _, d := range out.Data {
			vecs = append(vecs, d.Embedding)
		}
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", models.ErrEmbeddingProvider, len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) == 0 || (e.cfg.Dimensions > 0 && len(v) != e.cfg.Dimensions) {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				models.ErrEmbeddingProvider, i, len(v), e.cfg.Dimensions)
		}
	}
	return vecs, nil
}

// post sends body to url, retrying transient failures, and returns the response payload.
func (e *HTTPEmbedder) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", models.ErrEmbeddingProvider, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			e.logger.Warn("embedding request failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if !sleep(ctx, retryDelay(attempt)) {
				break
			}
			continue
		}

		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s: %s", resp.Status, errorMessage(payload))
			e.logger.Warn("embedding provider unavailable",
				zap.Int("attempt", attempt+1), zap.Int("status", resp.StatusCode))
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			if attempt == e.cfg.MaxRetries || !sleep(ctx, delay) {
				break
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %s: %s", models.ErrEmbeddingProvider, resp.Status, errorMessage(payload))
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: read response: %v", models.ErrEmbeddingProvider, readErr)
		}
		return payload, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, ctx.Err())
	}
	return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, lastErr)
}

func errorMessage(payload []byte) string {
	var e apiError
	if err := json.Unmarshal(payload, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if s, ok := e.Error.(string); ok {
			return s
		}
		if m, ok := e.Error.(map[string]any); ok {
			if msg, ok := m["message"].(string); ok {
				return msg
			}
		}
	}
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return strings.TrimSpace(string(payload))
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		attempt = 5
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// sleep waits for d or until ctx is done; it reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
