package httptransport

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbridge/backend/internal/service"
	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/uploader"
)

// BrowseHandler 远端存储浏览处理器
//
// 只读接口，用于核对已同步的附件。所有请求按目标名称路由，
// 凭证从注册表取出，永远不出现在请求或响应里。
type BrowseHandler struct {
	registry *service.TargetRegistry
	browser  uploader.Browser
	logger   *zap.Logger
}

// NewBrowseHandler 创建远端存储浏览处理器
func NewBrowseHandler(registry *service.TargetRegistry, browser uploader.Browser, logger *zap.Logger) *BrowseHandler {
	return &BrowseHandler{
		registry: registry,
		browser:  browser,
		logger:   logger,
	}
}

// List 列出目标存储的文件
//
// GET /api/targets/:name/files?dir=subdir
func (h *BrowseHandler) List(c *gin.Context) {
	target, err := h.registry.Get(c.Param("name"))
	if err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			NotFound(c, "存储目标不存在")
			return
		}
		h.logger.Error("查询存储目标失败", zap.Error(err))
		InternalError(c, "查询存储目标失败")
		return
	}

	items, err := h.browser.List(c.Request.Context(), target, c.Query("dir"))
	if err != nil {
		if errors.Is(err, uploader.ErrObjectNotFound) {
			NotFound(c, "目录不存在")
			return
		}
		h.logger.Error("列出远端文件失败",
			zap.String("target", target.Name),
			zap.Error(err))
		InternalError(c, "列出远端文件失败")
		return
	}

	Success(c, items)
}

// Download 下载目标存储的文件
//
// GET /api/targets/:name/files/*filename
//
// 通配参数允许下载 ?dir= 列出的子目录里的对象。
func (h *BrowseHandler) Download(c *gin.Context) {
	target, err := h.registry.Get(c.Param("name"))
	if err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			NotFound(c, "存储目标不存在")
			return
		}
		h.logger.Error("查询存储目标失败", zap.Error(err))
		InternalError(c, "查询存储目标失败")
		return
	}

	// 通配参数带前导斜杠
	filename := strings.TrimPrefix(c.Param("filename"), "/")
	if filename == "" {
		NotFound(c, "文件不存在")
		return
	}
	body, info, err := h.browser.Download(c.Request.Context(), target, filename)
	if err != nil {
		if errors.Is(err, uploader.ErrObjectNotFound) {
			NotFound(c, "文件不存在")
			return
		}
		h.logger.Error("下载远端文件失败",
			zap.String("target", target.Name),
			zap.String("filename", filename),
			zap.Error(err))
		InternalError(c, "下载远端文件失败")
		return
	}
	defer body.Close()

	c.Header("Content-Disposition", `attachment; filename="`+url.PathEscape(filename)+`"`)
	c.Header("Content-Type", "application/octet-stream")
	if info.Size >= 0 {
		c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	c.Status(200)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Warn("传输远端文件中断",
			zap.String("filename", filename),
			zap.Error(err))
	}
}
