package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/domain"
)

// countingProvider returns a vector of length dims whose first component is 3
// and second is 4, so the normalized result is (0.6, 0.8, 0, ...).
type countingProvider struct {
	dims    int
	calls   atomic.Int32
	delay   time.Duration
	failFor atomic.Int32
}

func (p *countingProvider) Model() string { return "counting" }

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.failFor.Load() > 0 {
		p.failFor.Add(-1)
		return nil, errors.New("connection refused")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, p.dims)
		v[0], v[1] = 3, 4
		out[i] = v
	}
	return out, nil
}

func TestEmbedNormalizes(t *testing.T) {
	provider := &countingProvider{dims: domain.EmbeddingDimensions}
	s := NewEmbeddingServiceWithProvider(provider, domain.EmbeddingDimensions, time.Second)

	vec, err := s.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, domain.EmbeddingDimensions)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestEmbedConcurrentFirstCallersShareOneLoad(t *testing.T) {
	provider := &countingProvider{dims: domain.EmbeddingDimensions, delay: 50 * time.Millisecond}
	s := NewEmbeddingServiceWithProvider(provider, domain.EmbeddingDimensions, time.Second)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Embed(context.Background(), "hi")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	// One probe plus one call per caller.
	assert.EqualValues(t, callers+1, provider.calls.Load())
}

func TestEmbedFailedLoadIsRetried(t *testing.T) {
	provider := &countingProvider{dims: domain.EmbeddingDimensions}
	provider.failFor.Store(1)
	s := NewEmbeddingServiceWithProvider(provider, domain.EmbeddingDimensions, time.Second)

	_, err := s.Embed(context.Background(), "hi")
	require.Error(t, err)

	_, err = s.Embed(context.Background(), "hi")
	require.NoError(t, err)
}

func TestEmbedWrongDimensions(t *testing.T) {
	provider := &countingProvider{dims: 768}
	s := NewEmbeddingServiceWithProvider(provider, domain.EmbeddingDimensions, time.Second)

	_, err := s.Embed(context.Background(), "hi")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestOllamaEmbedder(t *testing.T) {
	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		vec := make([]float32, domain.EmbeddingDimensions)
		vec[2] = 2
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{vec}})
	}))
	defer srv.Close()

	s, err := NewEmbeddingService(&EmbeddingConfig{
		Provider:   "ollama",
		Model:      "all-minilm",
		BaseURL:    srv.URL,
		Dimensions: domain.EmbeddingDimensions,
	})
	require.NoError(t, err)

	vec, err := s.Embed(context.Background(), "drake meme")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vec[2], 1e-6)
	assert.Equal(t, "all-minilm", gotReq.Model)
	assert.Equal(t, []string{"drake meme"}, gotReq.Input)
	assert.Equal(t, -1, gotReq.KeepAlive)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		vec := make([]float32, domain.EmbeddingDimensions)
		vec[0] = 1
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": vec, "index": 0}},
		})
	}))
	defer srv.Close()

	provider, err := NewEmbeddingProvider(&EmbeddingConfig{
		Provider: "openai-compatible",
		Model:    "text-embedding-3-small",
		APIKey:   "secret",
		BaseURL:  srv.URL + "/v1/",
	})
	require.NoError(t, err)

	vecs, err := provider.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, float32(1), vecs[0][0])
}

func TestEmbedderHTTPErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider, err := NewEmbeddingProvider(&EmbeddingConfig{Provider: "ollama", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = provider.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestNewEmbeddingProviderUnknown(t *testing.T) {
	_, err := NewEmbeddingProvider(&EmbeddingConfig{Provider: "cohere"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
