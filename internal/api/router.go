package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/rostersync/internal/api/handler"
	"github.com/timmy/rostersync/internal/api/middleware"
	"github.com/timmy/rostersync/internal/config"
	"github.com/timmy/rostersync/internal/logger"
)

// RouterDeps holds what the HTTP layer needs.
type RouterDeps struct {
	Sync    handler.SyncRunner
	Archive handler.Archiver
	DB      handler.Pinger
	Logger  *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.Server.CORS))
	if cfg.Bulk.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.Bulk.MaxUploadBytes
	}

	healthHandler := handler.NewHealthHandler(deps.DB)
	syncHandler := handler.NewSyncHandler(deps.Sync, deps.Archive, cfg.Bulk.MaxUploadBytes)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/sync", syncHandler.GetState)
		v1.POST("/sync", syncHandler.TriggerSync)
		v1.POST("/sync/bulk/:kind", syncHandler.UploadBulk)

		v1.GET("/sync/runs", syncHandler.ListRuns)
		v1.GET("/sync/runs/latest", syncHandler.GetLatest)
		v1.GET("/sync/runs/:id", syncHandler.GetRun)
		v1.POST("/sync/runs/:id/cancel", syncHandler.CancelRun)

		v1.GET("/provider/connection", syncHandler.TestConnection)
	}

	return r
}
