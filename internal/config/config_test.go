package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, RequiredEmbeddingDimensions, cfg.Embedding.Dimensions)
	assert.Equal(t, 100, cfg.Processing.MaxBatchSize)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.False(t, cfg.Qdrant.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("VLM_MODEL", "qwen2-vl")
	t.Setenv("MY_EMBED_KEY", "k")
	cfg, err := Load(writeConfig(t, `
scan:
  paths: ["/memes", "s3://bucket/memes"]
embedding:
  provider: openai-compatible
  model: text-embedding-3-small
  base_url: https://api.example.com/v1
  api_key_env: MY_EMBED_KEY
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"/memes", "s3://bucket/memes"}, cfg.Scan.Paths)
	assert.Equal(t, "qwen2-vl", cfg.VLM.Model)
	assert.Equal(t, "k", cfg.Embedding.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"wrong dimensions", "embedding:\n  dimensions: 768\n"},
		{"unknown vlm provider", "vlm:\n  provider: gemini\n"},
		{"limits out of order", "search:\n  default_limit: 50\n  max_limit: 10\n"},
		{"zero batch", "processing:\n  max_batch_size: 0\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "./data/memes.db", (&DatabaseConfig{Driver: "sqlite"}).DSN())
	assert.Equal(t, "/tmp/x.db", (&DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"}).DSN())
	assert.Equal(t, "postgres://u@h/d", (&DatabaseConfig{Driver: "postgres", URL: "postgres://u@h/d"}).DSN())

	dsn := (&DatabaseConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     5432,
		User:     "meme",
		Password: "p@ss",
		DBName:   "memes",
		SSLMode:  "disable",
	}).DSN()
	assert.Equal(t, "postgres://meme:p%40ss@db:5432/memes?sslmode=disable", dsn)
}
