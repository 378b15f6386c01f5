package service

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/storage"
)

// TargetRegistry 存储目标注册表服务
//
// 管理上传目标的增删改查，维护"至多一个默认目标"的不变式，
// 并决定每次上传实际使用的目标。
type TargetRegistry struct {
	targets storage.TargetRepository
	logger  *zap.Logger
}

// NewTargetRegistry 创建存储目标注册表服务
func NewTargetRegistry(targets storage.TargetRepository, logger *zap.Logger) *TargetRegistry {
	return &TargetRegistry{
		targets: targets,
		logger:  logger,
	}
}

// SeedFromConfig 从配置导入初始目标
//
// 仅在注册表为空时执行一次；已有任何目标时配置被忽略，
// 注册表是唯一权威。第一个导入的目标成为默认目标。
func (r *TargetRegistry) SeedFromConfig(seeds []config.TargetSeed) error {
	count, err := r.targets.CountTargets()
	if err != nil {
		return fmt.Errorf("counting targets: %w", err)
	}
	if count > 0 {
		if len(seeds) > 0 {
			r.logger.Info("注册表非空，跳过配置导入",
				zap.Int64("existing", count),
				zap.Int("seeds", len(seeds)))
		}
		return nil
	}

	for i, seed := range seeds {
		target := &domain.StorageTarget{
			ID:        uuid.New().String(),
			Name:      seed.Name,
			URL:       seed.URL,
			Login:     seed.Login,
			Password:  seed.Password,
			Timeout:   seed.Timeout,
			ChunkSize: seed.ChunkSize,
			Enabled:   true,
			IsDefault: i == 0,
			Priority:  i,
		}
		if err := target.Validate(); err != nil {
			return fmt.Errorf("seeding target %q: %w", seed.Name, err)
		}
		if err := r.targets.SaveTarget(target); err != nil {
			return fmt.Errorf("seeding target %q: %w", seed.Name, err)
		}
		r.logger.Info("导入初始存储目标",
			zap.String("name", target.Name),
			zap.Bool("default", target.IsDefault))
	}

	return nil
}

// ResolveUploadTarget 选定本次上传使用的目标
//
// 优先返回启用的默认目标；没有默认目标或默认目标被禁用时，
// 回退到按优先级排序的第一个启用目标；没有任何启用目标时
// 返回 storage.ErrNoTargetConfigured。
func (r *TargetRegistry) ResolveUploadTarget() (*domain.StorageTarget, error) {
	enabled, err := r.targets.ListEnabledTargets()
	if err != nil {
		return nil, fmt.Errorf("listing enabled targets: %w", err)
	}
	if len(enabled) == 0 {
		return nil, storage.ErrNoTargetConfigured
	}

	for i := range enabled {
		if enabled[i].IsDefault {
			return &enabled[i], nil
		}
	}

	// 无可用默认目标时取优先级最高的启用目标
	return &enabled[0], nil
}

// Create 新建存储目标，名称重复返回 storage.ErrTargetExists
func (r *TargetRegistry) Create(target *domain.StorageTarget) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	if target.Timeout <= 0 {
		target.Timeout = domain.DefaultTargetTimeout
	}
	if target.ChunkSize <= 0 {
		target.ChunkSize = domain.DefaultTargetChunkSize
	}
	if err := target.Validate(); err != nil {
		return err
	}

	// 第一个目标自动成为默认目标
	count, err := r.targets.CountTargets()
	if err != nil {
		return fmt.Errorf("counting targets: %w", err)
	}
	if count == 0 {
		target.IsDefault = true
	}

	return r.targets.SaveTarget(target)
}

// Get 按名称查询目标
func (r *TargetRegistry) Get(name string) (*domain.StorageTarget, error) {
	return r.targets.GetTarget(name)
}

// List 列出全部目标，按优先级排序
func (r *TargetRegistry) List() ([]domain.StorageTarget, error) {
	return r.targets.ListTargets()
}

// Update 更新已有目标的配置
func (r *TargetRegistry) Update(target *domain.StorageTarget) error {
	existing, err := r.targets.GetTarget(target.Name)
	if err != nil {
		return err
	}
	target.ID = existing.ID
	target.CreatedAt = existing.CreatedAt
	if target.Timeout <= 0 {
		target.Timeout = domain.DefaultTargetTimeout
	}
	if target.ChunkSize <= 0 {
		target.ChunkSize = domain.DefaultTargetChunkSize
	}
	if err := target.Validate(); err != nil {
		return err
	}
	return r.targets.SaveTarget(target)
}

// Delete 删除目标，不存在返回 storage.ErrTargetNotFound
func (r *TargetRegistry) Delete(name string) error {
	return r.targets.DeleteTarget(name)
}

// SetDefault 将指定目标设为唯一默认目标
func (r *TargetRegistry) SetDefault(name string) error {
	return r.targets.SetDefaultTarget(name)
}
