package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeindex/internal/api/handler"
	"github.com/timmy/memeindex/internal/api/middleware"
	"github.com/timmy/memeindex/internal/config"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/service"
	"github.com/timmy/memeindex/internal/storage"
)

type stubModel struct {
	available bool
}

func (s *stubModel) Describe(ctx context.Context, data []byte, format string) (string, error) {
	return "a meme", nil
}

func (s *stubModel) Health(ctx context.Context) service.HealthStatus {
	if !s.available {
		return service.HealthStatus{Model: "stub", Error: "connection refused"}
	}
	return service.HealthStatus{Available: true, Model: "stub"}
}

func (s *stubModel) GetModel() string { return "stub" }

func (s *stubModel) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, domain.EmbeddingDimensions)
	v[0] = 1
	return v, nil
}

type testServer struct {
	router    *gin.Engine
	memeRepo  *repository.MemeRepository
	scanner   *service.Scanner
	uploadDir string
}

func newTestServer(t *testing.T, model *stubModel) *testServer {
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

	memeRepo := repository.NewMemeRepository(db)
	settings := service.NewSettingsService(repository.NewSettingRepository(db))
	store := storage.NewLocalStorage()
	uploadDir := t.TempDir()
	scanner := service.NewScanner(memeRepo, settings, store, nil)

	svc := &Services{
		Memes:     service.NewMemeService(memeRepo, store, nil, uploadDir),
		Search:    service.NewSearchService(memeRepo, model, nil, nil),
		Scanner:   scanner,
		Processor: service.NewProcessor(memeRepo, store, model, model, nil, &service.ProcessorConfig{MaxBatchSize: 10}),
		Settings:  settings,
		VLM:       model,
	}
	router := SetupRouter(svc, RouterConfig{
		Mode: "test",
		CORS: middleware.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	})
	return &testServer{router: router, memeRepo: memeRepo, scanner: scanner, uploadDir: uploadDir}
}

func (s *testServer) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) addMeme(t *testing.T, path string) *domain.Meme {
	t.Helper()
	m := &domain.Meme{ID: uuid.New().String(), FilePath: path}
	added, err := s.memeRepo.InsertIfAbsent(context.Background(), m)
	require.NoError(t, err)
	require.True(t, added)
	return m
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	ok := newTestServer(t, &stubModel{available: true})
	w := ok.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]interface{}](t, w)["status"])

	down := newTestServer(t, &stubModel{})
	w = down.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode[map[string]interface{}](t, w)["status"])
}

func TestErrorKindsMapToStatus(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})
	m := s.addMeme(t, "/memes/a.png")
	_, err := s.memeRepo.Claim(context.Background(), m.ID)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/v1/memes/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode[handler.ErrorResponse](t, w)
	assert.Equal(t, "not_found", body.Kind)
	assert.False(t, body.Retryable)

	w = s.do(http.MethodPost, "/api/v1/memes/"+m.ID+"/generate", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, decode[handler.ErrorResponse](t, w).Retryable)

	w = s.do(http.MethodGet, "/api/v1/search?q=cat&mode=fuzzy", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/memes?starred=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateMissingFileIsUnprocessable(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})
	m := s.addMeme(t, filepath.Join(t.TempDir(), "gone.png"))

	w := s.do(http.MethodPost, "/api/v1/memes/"+m.ID+"/generate", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "io", decode[handler.ErrorResponse](t, w).Kind)
}

func TestSearchEndpoints(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})
	s.addMeme(t, "/memes/drake.png")

	w := s.do(http.MethodGet, "/api/v1/search?q=drake", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[service.SearchResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "drake", resp.Query)
	assert.Equal(t, service.SearchModeVector, resp.Mode)

	w = s.do(http.MethodPost, "/api/v1/search", []byte(`{"query":"   "}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[service.SearchResponse](t, w).Results)
}

func TestUploadAndGenerate(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	_, err = part.Write(pngData(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := s.do(http.MethodPost, "/api/v1/memes/upload", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	uploaded := decode[domain.Meme](t, w)
	assert.Equal(t, domain.MemeStatusPending, uploaded.Status)
	assert.Equal(t, filepath.Join(s.uploadDir, "cat.png"), uploaded.FilePath)

	w = s.do(http.MethodPost, "/api/v1/memes/upload", body.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/v1/memes/"+uploaded.ID+"/generate", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	generated := decode[domain.Meme](t, w)
	assert.Equal(t, domain.MemeStatusComplete, generated.Status)
	assert.Equal(t, "a meme", generated.Description)

	w = s.do(http.MethodGet, "/api/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusCounts{Complete: 1, Total: 1}, decode[domain.StatusCounts](t, w))
}

func TestUploadMissingFileField(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})
	w := s.do(http.MethodPost, "/api/v1/memes/upload", []byte("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDeleteMeme(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})
	m := s.addMeme(t, "/memes/a.png")

	w := s.do(http.MethodPatch, "/api/v1/memes/"+m.ID, []byte(`{"starred":true,"tags":["Cat"," cat ","dog"]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[domain.Meme](t, w)
	assert.True(t, updated.Starred)

	w = s.do(http.MethodPatch, "/api/v1/memes/"+m.ID, []byte(`{"status":"complete"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/memes?starred=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, w)["total"])

	w = s.do(http.MethodDelete, "/api/v1/memes/"+m.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/api/v1/memes/"+m.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScanEndpoints(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})

	w := s.do(http.MethodPost, "/api/v1/scan", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	root := t.TempDir()
	payload, err := json.Marshal(handler.ScanRequest{Roots: []string{root}})
	require.NoError(t, err)
	w = s.do(http.MethodPost, "/api/v1/scan", payload, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, decode[handler.ScanResponse](t, w).Started)

	require.Eventually(t, func() bool {
		return s.scanner.Progress().Status == service.ScanStatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	w = s.do(http.MethodGet, "/api/v1/scan/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ScanStatusComplete, decode[service.ScanProgress](t, w).Status)
}

func TestGenerateBatchAndResets(t *testing.T) {
	s := newTestServer(t, &stubModel{})
	s.addMeme(t, "/memes/a.png")

	w := s.do(http.MethodPost, "/api/v1/generate", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, decode[handler.ErrorResponse](t, w).Retryable)

	w = s.do(http.MethodGet, "/api/v1/generate/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.BatchStatusError, decode[service.BatchProgress](t, w).Status)

	w = s.do(http.MethodPost, "/api/v1/reset/errors", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, handler.CountResponse{Count: 0}, decode[handler.CountResponse](t, w))
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})

	w := s.do(http.MethodPut, "/api/v1/settings/scan_paths", []byte(`{"value":"not json"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/v1/settings/scan_paths", []byte(`{"value":"[\"/memes\"]"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/settings/scan_paths", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `["/memes"]`, decode[domain.Setting](t, w).Value)

	w = s.do(http.MethodGet, "/api/v1/settings", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "scan_paths"))
}

func TestRequestIDAndCORS(t *testing.T) {
	s := newTestServer(t, &stubModel{available: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "abc-123", w.Header().Get(middleware.RequestIDHeader))
}
