package postgres

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/storage"
)

// SaveTarget 新增或更新存储目标；设为默认时在事务内清除旧默认
func (s *Store) SaveTarget(target *domain.StorageTarget) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.StorageTarget
		err := tx.Where("name = ?", target.Name).First(&existing).Error
		switch {
		case err == nil && existing.ID != target.ID:
			return storage.ErrTargetExists
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if target.IsDefault {
			if err := tx.Model(&domain.StorageTarget{}).
				Where("name <> ?", target.Name).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		return tx.Save(target).Error
	})
}

// GetTarget 按名称获取目标
func (s *Store) GetTarget(name string) (*domain.StorageTarget, error) {
	var target domain.StorageTarget
	err := s.db.Where("name = ?", name).First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrTargetNotFound
		}
		return nil, err
	}
	return &target, nil
}

// ListTargets 返回全部目标，按 priority 升序
func (s *Store) ListTargets() ([]domain.StorageTarget, error) {
	var targets []domain.StorageTarget
	err := s.db.Order("priority ASC, created_at ASC").Find(&targets).Error
	return targets, err
}

// ListEnabledTargets 返回启用的目标，按 priority 升序
func (s *Store) ListEnabledTargets() ([]domain.StorageTarget, error) {
	var targets []domain.StorageTarget
	err := s.db.Where("enabled = ?", true).
		Order("priority ASC, created_at ASC").
		Find(&targets).Error
	return targets, err
}

// DeleteTarget 删除目标
func (s *Store) DeleteTarget(name string) error {
	res := s.db.Where("name = ?", name).Delete(&domain.StorageTarget{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrTargetNotFound
	}
	return nil
}

// SetDefaultTarget 原子地将指定目标设为唯一默认目标
func (s *Store) SetDefaultTarget(name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target domain.StorageTarget
		if err := tx.Where("name = ?", name).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrTargetNotFound
			}
			return err
		}

		if err := tx.Model(&domain.StorageTarget{}).
			Where("is_default = ?", true).
			Update("is_default", false).Error; err != nil {
			return err
		}

		return tx.Model(&domain.StorageTarget{}).
			Where("name = ?", name).
			Updates(map[string]interface{}{
				"is_default": true,
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// CountTargets 返回目标总数
func (s *Store) CountTargets() (int64, error) {
	var count int64
	err := s.db.Model(&domain.StorageTarget{}).Count(&count).Error
	return count, err
}
