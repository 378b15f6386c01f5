package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/health"
	"mailbridge/backend/internal/middleware"
	"mailbridge/backend/internal/monitoring"
	"mailbridge/backend/internal/pool"
	"mailbridge/backend/internal/service"
	"mailbridge/backend/internal/uploader"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	SyncService   *service.SyncService
	LogService    *service.SyncLogService
	Registry      *service.TargetRegistry
	Browser       uploader.Browser
	WorkerPool    *pool.WorkerPool
	HealthChecker *health.HealthChecker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	syncHandler := NewSyncHandler(deps.SyncService, deps.WorkerPool, deps.Logger)
	logHandler := NewLogHandler(deps.LogService, deps.Logger)
	targetHandler := NewTargetHandler(deps.Registry, deps.Logger)
	browseHandler := NewBrowseHandler(deps.Registry, deps.Browser, deps.Logger)

	auth := middleware.BearerAuth(deps.Config.API.TriggerToken)

	// 健康检查与指标，无需认证
	router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(monitoring.HTTPHandler()))

	api := router.Group("/api")
	api.Use(auth)
	{
		// 同步触发端点单独限流
		api.POST("/sync/run",
			middleware.RateLimit(deps.Config.API.RatePerSecond, deps.Config.API.RateBurst),
			syncHandler.TriggerRun)

		api.GET("/logs", logHandler.List)
		api.GET("/logs/stats", logHandler.Stats)

		api.GET("/targets", targetHandler.List)
		api.POST("/targets", targetHandler.Create)
		api.GET("/targets/:name", targetHandler.Get)
		api.PUT("/targets/:name", targetHandler.Update)
		api.DELETE("/targets/:name", targetHandler.Delete)
		api.POST("/targets/:name/default", targetHandler.SetDefault)

		api.GET("/targets/:name/files", browseHandler.List)
		api.GET("/targets/:name/files/*filename", browseHandler.Download)
	}

	return router
}
