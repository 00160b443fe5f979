package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/config"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/repository"
)

type testEnv struct {
	memeRepo    *repository.MemeRepository
	settingRepo *repository.SettingRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "memes.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &testEnv{
		memeRepo:    repository.NewMemeRepository(db),
		settingRepo: repository.NewSettingRepository(db),
	}
}

// writePNG writes a w x h PNG and returns its path.
func writePNG(t *testing.T, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func axis(i int) []float32 {
	v := make([]float32, domain.EmbeddingDimensions)
	v[i] = 1
	return v
}

// blend returns the unit vector a*e_i + b*e_j.
func blend(i int, a float64, j int, b float64) []float32 {
	n := math.Sqrt(a*a + b*b)
	v := make([]float32, domain.EmbeddingDimensions)
	v[i] = float32(a / n)
	v[j] = float32(b / n)
	return v
}

type fakeDescriber struct {
	mu        sync.Mutex
	calls     int
	describe  func(data []byte, format string) (string, error)
	available bool
}

func (f *fakeDescriber) Describe(ctx context.Context, data []byte, format string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.describe == nil {
		return "a meme", nil
	}
	return f.describe(data, format)
}

func (f *fakeDescriber) Health(ctx context.Context) HealthStatus {
	if !f.available {
		return HealthStatus{Model: "fake-vlm", Error: "connection refused"}
	}
	return HealthStatus{Available: true, Model: "fake-vlm"}
}

func (f *fakeDescriber) GetModel() string { return "fake-vlm" }

func (f *fakeDescriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	calls atomic.Int32
	embed func(text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.embed == nil {
		return axis(0), nil
	}
	return f.embed(text)
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

type fakeIndex struct {
	mu       sync.Mutex
	upserted map[string][]float32
	deleted  []string
	hits     []repository.VectorHit
	err      error
}

func (f *fakeIndex) Upsert(ctx context.Context, vector []float32, payload repository.VectorPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserted == nil {
		f.upserted = map[string][]float32{}
	}
	f.upserted[payload.MemeID] = vector
	return f.err
}

func (f *fakeIndex) Delete(ctx context.Context, memeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, memeID)
	return f.err
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int) ([]repository.VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}
