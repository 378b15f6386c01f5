package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/health"
	"mailbridge/backend/internal/logger"
	"mailbridge/backend/internal/pool"
	"mailbridge/backend/internal/service"
	imapsource "mailbridge/backend/internal/source/imap"
	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/storage/hybrid"
	"mailbridge/backend/internal/storage/memory"
	"mailbridge/backend/internal/storage/postgres"
	httptransport "mailbridge/backend/internal/transport/http"
	"mailbridge/backend/internal/uploader/webdav"
)

// main 启动邮件附件同步服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailbridge server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 初始化目标注册表并导入初始配置
	registry := service.NewTargetRegistry(store, log)
	if err := registry.SeedFromConfig(cfg.Targets); err != nil {
		panic(fmt.Sprintf("failed to seed storage targets: %v", err))
	}

	// 初始化上传与邮件源
	davClient := webdav.NewClient(nil)
	mailSource := imapsource.NewAdapter(cfg.Mail, store, log)

	// 初始化服务层
	syncService := service.NewSyncService(
		store,
		mailSource,
		registry,
		davClient,
		davClient,
		store,
		store,
		cfg.Sync,
		cfg.Mail.SearchSubject,
		log,
	)
	logService := service.NewSyncLogService(store)

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, davClient, log)

	// 异步运行调度池：串行执行，最多排队一个任务
	workers := pool.NewWorkerPool(1, 1, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		SyncService:   syncService,
		LogService:    logService,
		Registry:      registry,
		Browser:       davClient,
		WorkerPool:    workers,
		HealthChecker: healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // 覆盖 ?wait=1 的同步运行
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 内部定时同步 goroutine（可选，多数部署依赖外部调度器触发）
	if cfg.Sync.Interval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.Sync.Interval)
			defer ticker.Stop()

			log.Info("starting internal sync ticker", zap.Duration("interval", cfg.Sync.Interval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("sync ticker stopped")
					return nil
				case <-ticker.C:
					runCtx, cancel := context.WithTimeout(groupCtx, 30*time.Minute)
					if _, err := syncService.Run(runCtx); err != nil && err != service.ErrAlreadyRunning {
						log.Error("scheduled sync run failed", zap.Error(err))
					}
					cancel()
				}
			}
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
			return err
		}

		workers.Stop()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
	_ = log.Sync()
}

// initializeStorage 根据配置初始化存储层
//
// 三种模式：数据库加 Redis 的混合存储、纯数据库存储、
// 内存存储（开发环境）。数据库模式启动时自动迁移表结构。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	if cfg.Redis.Address != "" {
		store, err := hybrid.NewStoreWithType(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			log,
		)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
		log.Info("using hybrid storage",
			zap.String("database_type", cfg.Database.Type),
			zap.String("redis_address", cfg.Redis.Address))
		return store, nil
	}

	store, err := postgres.NewStoreWithType(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}
