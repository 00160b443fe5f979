// Package app wires configuration into the repositories and services shared
// by the API server and the ingest CLI.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/memeindex/internal/config"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/service"
	"github.com/timmy/memeindex/internal/storage"
	"gorm.io/gorm"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	MemeRepo    *repository.MemeRepository
	SettingRepo *repository.SettingRepository
	Qdrant      *repository.QdrantRepository

	Storage   *storage.Router
	Embedding *service.EmbeddingService
	VLM       *service.VLMService
	Settings  *service.SettingsService
	Scanner   *service.Scanner
	Processor *service.Processor
	Search    *service.SearchService
	Memes     *service.MemeService
}

// New builds the application from cfg.
// Parameters:
//   - ctx: context for startup calls (S3 credentials, Qdrant collection).
//   - cfg: validated configuration.
//
// Returns:
//   - *App: ready components; call Close when done.
//   - error: non-nil if a required backend cannot be initialized.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{
		Config:      cfg,
		DB:          db,
		MemeRepo:    repository.NewMemeRepository(db),
		SettingRepo: repository.NewSettingRepository(db),
	}

	var s3cfg *storage.S3Config
	if usesS3(cfg) {
		s3cfg = &storage.S3Config{
			Endpoint:     cfg.Storage.S3.Endpoint,
			Region:       cfg.Storage.S3.Region,
			AccessKey:    cfg.Storage.S3.AccessKey,
			SecretKey:    cfg.Storage.S3.SecretKey,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		}
	}
	if a.Storage, err = storage.NewStorage(ctx, s3cfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if a.Embedding, err = service.NewEmbeddingService(&service.EmbeddingConfig{
		Provider:    cfg.Embedding.Provider,
		Model:       cfg.Embedding.Model,
		APIKey:      cfg.Embedding.APIKey,
		BaseURL:     cfg.Embedding.BaseURL,
		Dimensions:  cfg.Embedding.Dimensions,
		Timeout:     seconds(cfg.Embedding.TimeoutSeconds),
		LoadTimeout: seconds(cfg.Embedding.LoadTimeoutSeconds),
	}); err != nil {
		a.Close()
		return nil, err
	}

	if a.VLM, err = service.NewVLMService(&service.VLMConfig{
		Provider: cfg.VLM.Provider,
		Model:    cfg.VLM.Model,
		APIKey:   cfg.VLM.APIKey,
		BaseURL:  cfg.VLM.BaseURL,
		Timeout:  seconds(cfg.VLM.TimeoutSeconds),
	}); err != nil {
		a.Close()
		return nil, err
	}

	var index service.VectorIndex
	if cfg.Qdrant.Enabled {
		a.Qdrant, err = repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.Qdrant.EnsureCollection(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure qdrant collection: %w", err)
		}
		index = a.Qdrant
		logger.CtxInfo(ctx, "Qdrant index enabled: host=%s, collection=%s", cfg.Qdrant.Host, cfg.Qdrant.Collection)
	}

	a.Settings = service.NewSettingsService(a.SettingRepo)
	a.Scanner = service.NewScanner(a.MemeRepo, a.Settings, a.Storage, cfg.Scan.Paths)
	a.Processor = service.NewProcessor(a.MemeRepo, a.Storage, a.VLM, a.Embedding, index, &service.ProcessorConfig{
		MaxBatchSize: cfg.Processing.MaxBatchSize,
	})
	a.Search = service.NewSearchService(a.MemeRepo, a.Embedding, index, &service.SearchConfig{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	})
	a.Memes = service.NewMemeService(a.MemeRepo, a.Storage, index, cfg.Scan.UploadDir)

	a.recordModels(ctx)
	return a, nil
}

// recordModels stores the active model names as informational settings.
func (a *App) recordModels(ctx context.Context) {
	for key, value := range map[string]string{
		domain.SettingVLMModel:       a.VLM.GetModel(),
		domain.SettingEmbeddingModel: a.Embedding.GetModel(),
	} {
		if _, err := a.Settings.Put(ctx, key, value); err != nil {
			logger.CtxWarn(ctx, "Failed to record model setting: key=%s, error=%v", key, err)
		}
	}
}

// Close releases database and index connections.
func (a *App) Close() {
	if a.Qdrant != nil {
		if err := a.Qdrant.Close(); err != nil {
			logger.Warn("Failed to close qdrant connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func usesS3(cfg *config.Config) bool {
	s3 := cfg.Storage.S3
	if s3.Endpoint != "" || s3.AccessKey != "" {
		return true
	}
	if strings.HasPrefix(cfg.Scan.UploadDir, storage.S3Scheme) {
		return true
	}
	for _, root := range cfg.Scan.Paths {
		if strings.HasPrefix(root, storage.S3Scheme) {
			return true
		}
	}
	return false
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
