package httptransport

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/service"
)

// LogHandler 审计日志查询处理器
type LogHandler struct {
	logs   *service.SyncLogService
	logger *zap.Logger
}

// NewLogHandler 创建审计日志查询处理器
func NewLogHandler(logs *service.SyncLogService, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		logs:   logs,
		logger: logger,
	}
}

// logPage 分页查询结果
type logPage struct {
	Items    []domain.SyncLogEntry `json:"items"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// List 分页查询审计日志
//
// GET /api/logs?page=1&page_size=20&status=failure&target=Primary&filename=report&from=...&to=...
//
// 时间参数使用 RFC 3339 格式。结果按写入时间倒序。
func (h *LogHandler) List(c *gin.Context) {
	query := domain.SyncLogQuery{
		Status:   domain.SyncStatus(c.Query("status")),
		Target:   c.Query("target"),
		Filename: c.Query("filename"),
	}

	if page := c.Query("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil {
			BadRequest(c, "page 参数无效")
			return
		}
		query.Page = n
	}
	if pageSize := c.Query("page_size"); pageSize != "" {
		n, err := strconv.Atoi(pageSize)
		if err != nil {
			BadRequest(c, "page_size 参数无效")
			return
		}
		query.PageSize = n
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			BadRequest(c, "from 参数无效，需要 RFC 3339 格式")
			return
		}
		query.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			BadRequest(c, "to 参数无效，需要 RFC 3339 格式")
			return
		}
		query.To = &t
	}

	query.Normalize()
	items, total, err := h.logs.List(query)
	if err != nil {
		h.logger.Error("查询审计日志失败", zap.Error(err))
		InternalError(c, "查询审计日志失败")
		return
	}

	Success(c, logPage{
		Items:    items,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
}

// Stats 统计各状态的日志数量
//
// GET /api/logs/stats
func (h *LogHandler) Stats(c *gin.Context) {
	stats, err := h.logs.Stats()
	if err != nil {
		h.logger.Error("统计审计日志失败", zap.Error(err))
		InternalError(c, "统计审计日志失败")
		return
	}
	Success(c, stats)
}
