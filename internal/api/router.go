package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/api/handler"
	"github.com/timmy/memeindex/internal/api/middleware"
	"github.com/timmy/memeindex/internal/logger"
	"github.com/timmy/memeindex/internal/service"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Memes     *service.MemeService
	Search    *service.SearchService
	Scanner   *service.Scanner
	Processor *service.Processor
	Settings  *service.SettingsService
	// VLM may be nil; /health then reports liveness only.
	VLM handler.HealthChecker
}

// RouterConfig holds HTTP-level settings.
type RouterConfig struct {
	Mode        string
	CORS        middleware.CORSConfig
	MaxUploadMB int
	Logger      *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(svc.VLM)
	searchHandler := handler.NewSearchHandler(svc.Search)
	memeHandler := handler.NewMemeHandler(svc.Memes, svc.Processor, cfg.MaxUploadMB)
	adminHandler := handler.NewAdminHandler(svc.Scanner, svc.Processor)
	settingsHandler := handler.NewSettingsHandler(svc.Settings)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Search
		v1.POST("/search", searchHandler.Search)
		v1.GET("/search", searchHandler.SearchGet)

		// Memes
		v1.GET("/memes", memeHandler.ListMemes)
		v1.POST("/memes/upload", memeHandler.Upload)
		v1.GET("/memes/:id", memeHandler.GetMeme)
		v1.PATCH("/memes/:id", memeHandler.UpdateMeme)
		v1.DELETE("/memes/:id", memeHandler.DeleteMeme)
		v1.POST("/memes/:id/generate", memeHandler.Generate)
		v1.GET("/folders", memeHandler.Folders)
		v1.GET("/stats", memeHandler.Stats)

		// Scanning and processing
		v1.POST("/scan", adminHandler.TriggerScan)
		v1.GET("/scan/status", adminHandler.ScanStatus)
		v1.POST("/generate", adminHandler.GenerateBatch)
		v1.GET("/generate/status", adminHandler.GenerateStatus)
		v1.POST("/reset/processing", adminHandler.ResetProcessing)
		v1.POST("/reset/errors", adminHandler.ResetErrors)
		v1.POST("/cleanup", adminHandler.Cleanup)

		// Settings
		v1.GET("/settings", settingsHandler.List)
		v1.GET("/settings/:key", settingsHandler.Get)
		v1.PUT("/settings/:key", settingsHandler.Put)
	}

	return r
}
