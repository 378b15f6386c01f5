package httptransport

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbridge/backend/internal/pool"
	"mailbridge/backend/internal/service"
)

// asyncRunTimeout 异步执行的运行时限
const asyncRunTimeout = 30 * time.Minute

// SyncHandler 同步触发处理器
type SyncHandler struct {
	sync   *service.SyncService
	pool   *pool.WorkerPool
	logger *zap.Logger
}

// NewSyncHandler 创建同步触发处理器
func NewSyncHandler(sync *service.SyncService, workers *pool.WorkerPool, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		sync:   sync,
		pool:   workers,
		logger: logger,
	}
}

// TriggerRun 触发一次同步运行
//
// POST /api/sync/run
//
// 默认异步执行：任务入队后立即返回 202。带 ?wait=1 时同步
// 执行并返回运行摘要。锁被占用返回 409。
func (h *SyncHandler) TriggerRun(c *gin.Context) {
	if c.Query("wait") == "1" {
		summary, err := h.sync.Run(c.Request.Context())
		if err != nil {
			if errors.Is(err, service.ErrAlreadyRunning) {
				Conflict(c, "已有同步任务在执行中", summary)
				return
			}
			h.logger.Error("同步运行失败", zap.Error(err))
			InternalError(c, "同步运行失败")
			return
		}
		Success(c, summary)
		return
	}

	submitted := h.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncRunTimeout)
		defer cancel()

		if _, err := h.sync.Run(ctx); err != nil && !errors.Is(err, service.ErrAlreadyRunning) {
			h.logger.Error("异步同步运行失败", zap.Error(err))
		}
	})
	if !submitted {
		Conflict(c, "任务队列已满，请稍后再试", nil)
		return
	}

	Accepted(c, gin.H{"queued": true})
}
