package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"golang.org/x/sync/singleflight"
)

// embeddingProbeText is embedded once to load the model and check its dimension.
const embeddingProbeText = "warmup"

// EmbeddingProvider turns texts into raw vectors, one per input.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// EmbeddingConfig holds configuration for embedding service
type EmbeddingConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Dimensions  int
	Timeout     time.Duration
	LoadTimeout time.Duration
}

// EmbeddingService produces unit-length vectors of a fixed dimension. The
// model handle is loaded on first use and shared by all callers.
type EmbeddingService struct {
	provider    EmbeddingProvider
	dimensions  int
	loadTimeout time.Duration

	mu     sync.RWMutex
	loaded bool
	loads  singleflight.Group
}

// NewEmbeddingService creates a new embedding service for the configured provider.
func NewEmbeddingService(cfg *EmbeddingConfig) (*EmbeddingService, error) {
	provider, err := NewEmbeddingProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewEmbeddingServiceWithProvider(provider, cfg.Dimensions, cfg.LoadTimeout), nil
}

// NewEmbeddingServiceWithProvider wraps an existing provider.
func NewEmbeddingServiceWithProvider(provider EmbeddingProvider, dimensions int, loadTimeout time.Duration) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = domain.EmbeddingDimensions
	}
	if loadTimeout <= 0 {
		loadTimeout = 2 * time.Minute
	}
	return &EmbeddingService{
		provider:    provider,
		dimensions:  dimensions,
		loadTimeout: loadTimeout,
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.provider.Model()
}

// Dimensions returns the vector length every call produces.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Warmup loads the model handle. Failures are logged and left for the
// next caller to retry.
func (s *EmbeddingService) Warmup(ctx context.Context) {
	start := time.Now()
	if err := s.ensureLoaded(ctx); err != nil {
		logger.CtxWarn(ctx, "Embedding warmup failed: model=%s, error=%v", s.provider.Model(), err)
		return
	}
	logger.With(logger.Fields{"model": s.provider.Model()}).WithDuration(start).Info(ctx, "Embedding model ready")
}

// Embed returns the normalized embedding of text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	vecs, err := s.provider.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedding provider returned %d vectors for 1 input", domain.ErrUpstreamUnavailable, len(vecs))
	}
	if len(vecs[0]) != s.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", domain.ErrUpstreamUnavailable, len(vecs[0]), s.dimensions)
	}
	return l2Normalize(vecs[0]), nil
}

func (s *EmbeddingService) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	ch := s.loads.DoChan("load", func() (interface{}, error) {
		// The load outlives any single caller so that a cancelled request
		// does not fail the others waiting on it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		if err := s.probe(loadCtx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.loaded = true
		s.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for embedding model: %v", domain.ErrUpstreamUnavailable, ctx.Err())
	}
}

func (s *EmbeddingService) probe(ctx context.Context) error {
	vecs, err := s.provider.EmbedBatch(ctx, []string{embeddingProbeText})
	if err != nil {
		return fmt.Errorf("load embedding model %s: %w", s.provider.Model(), err)
	}
	if len(vecs) != 1 || len(vecs[0]) != s.dimensions {
		got := 0
		if len(vecs) > 0 {
			got = len(vecs[0])
		}
		return fmt.Errorf("%w: model %s produces %d dimensions, want %d", domain.ErrUpstreamUnavailable, s.provider.Model(), got, s.dimensions)
	}
	return nil
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}

// NewEmbeddingProvider builds the HTTP client for cfg.Provider.
func NewEmbeddingProvider(cfg *EmbeddingConfig) (EmbeddingProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	switch cfg.Provider {
	case "ollama":
		return &ollamaEmbedder{client: client, model: cfg.Model}, nil
	case "openai-compatible", "openai":
		return &openAIEmbedder{client: client, model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrValidation, cfg.Provider)
	}
}

// ollamaEmbedder calls POST /api/embed. keep_alive -1 keeps the model
// resident after the first call.
type ollamaEmbedder struct {
	client *resty.Client
	model  string
}

type ollamaEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive int      `json:"keep_alive"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (e *ollamaEmbedder) Model() string { return e.model }

func (e *ollamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: e.model, Input: texts, KeepAlive: -1}).
		SetResult(&resp).
		SetError(&resp).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", domain.ErrUpstreamUnavailable, err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("%w: ollama embed: status %d %s", domain.ErrUpstreamUnavailable, httpResp.StatusCode(), resp.Error)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: ollama embed returned %d vectors for %d inputs", domain.ErrUpstreamUnavailable, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// openAIEmbedder calls POST /embeddings on any OpenAI-compatible server.
type openAIEmbedder struct {
	client *resty.Client
	model  string
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *openAIEmbedder) Model() string { return e.model }

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openAIEmbedResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(openAIEmbedRequest{Model: e.model, Input: texts}).
		SetResult(&resp).
		SetError(&resp).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings API: %v", domain.ErrUpstreamUnavailable, err)
	}
	if httpResp.IsError() {
		msg := ""
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("%w: embeddings API: status %d %s", domain.ErrUpstreamUnavailable, httpResp.StatusCode(), msg)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embeddings API returned %d vectors for %d inputs", domain.ErrUpstreamUnavailable, len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	return embeddings, nil
}
