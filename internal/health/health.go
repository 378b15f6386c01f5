package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/uploader"
)

// HealthChecker 健康检查器
//
// 存活检查只看进程自身依赖（数据库）；就绪检查额外探测
// 每个启用的存储目标是否可达。
type HealthChecker struct {
	health  healthcheck.Handler
	store   storage.Store
	browser uploader.Browser
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, browser uploader.Browser, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		store:   store,
		browser: browser,
		logger:  logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 数据库连接检查
	hc.health.AddLivenessCheck("database", func() error {
		return hc.store.Health()
	})

	// 存储目标可达性检查
	hc.health.AddReadinessCheck("storage_targets", func() error {
		return hc.checkTargets()
	})
}

// checkTargets 探测所有启用的存储目标
//
// 任一目标不可达即视为未就绪；对象不存在不算错误，
// 探测只关心远端是否应答。
func (hc *HealthChecker) checkTargets() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	targets, err := hc.store.ListEnabledTargets()
	if err != nil {
		return err
	}

	for i := range targets {
		_, err := hc.browser.Stat(ctx, &targets[i], ".healthcheck")
		if err != nil && !errors.Is(err, uploader.ErrObjectNotFound) {
			hc.logger.Warn("存储目标不可达",
				zap.String("target", targets[i].Name),
				zap.Error(err))
			return err
		}
	}

	return nil
}

// LiveHandler 返回存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}
