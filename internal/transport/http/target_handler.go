package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/service"
	"mailbridge/backend/internal/storage"
)

// TargetHandler 存储目标管理处理器
type TargetHandler struct {
	registry *service.TargetRegistry
	logger   *zap.Logger
}

// NewTargetHandler 创建存储目标管理处理器
func NewTargetHandler(registry *service.TargetRegistry, logger *zap.Logger) *TargetHandler {
	return &TargetHandler{
		registry: registry,
		logger:   logger,
	}
}

// targetRequest 目标创建和更新的请求体
type targetRequest struct {
	Name      string `json:"name" binding:"required"`
	URL       string `json:"url" binding:"required"`
	Login     string `json:"login" binding:"required"`
	Password  string `json:"password"`
	Timeout   int    `json:"timeout"`
	ChunkSize int    `json:"chunk_size"`
	Enabled   *bool  `json:"enabled"`
	Priority  int    `json:"priority"`
}

// List 列出全部存储目标
//
// GET /api/targets
//
// 响应不包含凭证字段。
func (h *TargetHandler) List(c *gin.Context) {
	targets, err := h.registry.List()
	if err != nil {
		h.logger.Error("查询存储目标失败", zap.Error(err))
		InternalError(c, "查询存储目标失败")
		return
	}
	Success(c, targets)
}

// Get 按名称查询单个存储目标
//
// GET /api/targets/:name
func (h *TargetHandler) Get(c *gin.Context) {
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
	Success(c, target)
}

// Create 新建存储目标
//
// POST /api/targets
func (h *TargetHandler) Create(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数无效: "+err.Error())
		return
	}
	if req.Password == "" {
		BadRequest(c, "password 不能为空")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	target := &domain.StorageTarget{
		Name:      req.Name,
		URL:       req.URL,
		Login:     req.Login,
		Password:  req.Password,
		Timeout:   req.Timeout,
		ChunkSize: req.ChunkSize,
		Enabled:   enabled,
		Priority:  req.Priority,
	}

	if err := h.registry.Create(target); err != nil {
		if errors.Is(err, storage.ErrTargetExists) {
			Conflict(c, "存储目标名称已存在", nil)
			return
		}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			BadRequest(c, verr.Error())
			return
		}
		h.logger.Error("创建存储目标失败", zap.Error(err))
		InternalError(c, "创建存储目标失败")
		return
	}

	Created(c, target)
}

// Update 更新已有存储目标
//
// PUT /api/targets/:name
//
// 请求体省略 password 时保留原有凭证。
func (h *TargetHandler) Update(c *gin.Context) {
	name := c.Param("name")

	existing, err := h.registry.Get(name)
	if err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			NotFound(c, "存储目标不存在")
			return
		}
		h.logger.Error("查询存储目标失败", zap.Error(err))
		InternalError(c, "查询存储目标失败")
		return
	}

	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数无效: "+err.Error())
		return
	}
	if req.Name != name {
		BadRequest(c, "目标名称不可修改")
		return
	}

	password := req.Password
	if password == "" {
		password = existing.Password
	}
	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	target := &domain.StorageTarget{
		Name:      name,
		URL:       req.URL,
		Login:     req.Login,
		Password:  password,
		Timeout:   req.Timeout,
		ChunkSize: req.ChunkSize,
		Enabled:   enabled,
		IsDefault: existing.IsDefault,
		Priority:  req.Priority,
	}

	if err := h.registry.Update(target); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			BadRequest(c, verr.Error())
			return
		}
		h.logger.Error("更新存储目标失败", zap.Error(err))
		InternalError(c, "更新存储目标失败")
		return
	}

	Success(c, target)
}

// Delete 删除存储目标
//
// DELETE /api/targets/:name
func (h *TargetHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Param("name")); err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			NotFound(c, "存储目标不存在")
			return
		}
		h.logger.Error("删除存储目标失败", zap.Error(err))
		InternalError(c, "删除存储目标失败")
		return
	}
	Success(c, nil)
}

// SetDefault 设置默认存储目标
//
// POST /api/targets/:name/default
func (h *TargetHandler) SetDefault(c *gin.Context) {
	if err := h.registry.SetDefault(c.Param("name")); err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			NotFound(c, "存储目标不存在")
			return
		}
		h.logger.Error("设置默认目标失败", zap.Error(err))
		InternalError(c, "设置默认目标失败")
		return
	}
	Success(c, nil)
}
