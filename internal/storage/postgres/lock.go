package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailbridge/backend/internal/domain"
)

// AcquireLock 原子地尝试获取命名锁。
//
// 先做 INSERT ... ON CONFLICT DO NOTHING：插入成功即获得锁；
// 行已存在时在同一事务内 SELECT ... FOR UPDATE 检查过期时间，
// 只有锁已过期（或属于同一令牌的重入）才允许接管。
// 两个并发触发会在行锁上串行化，最多一个返回 true。
func (s *Store) AcquireLock(name, token string, ttl time.Duration) (bool, error) {
	acquired := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.RunLock{
			Name:        name,
			HolderToken: token,
			AcquiredAt:  now,
			ExpiresAt:   now.Add(ttl),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			acquired = true
			return nil
		}

		// 行已存在：锁定该行后检查持有者与过期时间
		var lock domain.RunLock
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lock_name = ?", name).
			First(&lock).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if lock.HolderToken != "" && lock.HolderToken != token && !lock.Expired(now) {
			return nil
		}

		if err := tx.Model(&domain.RunLock{}).
			Where("lock_name = ?", name).
			Updates(map[string]interface{}{
				"holder_token": token,
				"acquired_at":  now,
				"expires_at":   now.Add(ttl),
			}).Error; err != nil {
			return err
		}
		acquired = true
		return nil
	})

	return acquired, err
}

// ReleaseLock 释放锁。只有持有令牌匹配时才清空持有者，
// 因此对已过期并被新运行接管的锁是安全的空操作。
func (s *Store) ReleaseLock(name, token string) error {
	return s.db.Model(&domain.RunLock{}).
		Where("lock_name = ? AND holder_token = ?", name, token).
		Updates(map[string]interface{}{
			"holder_token": "",
			"expires_at":   time.Now().UTC(),
		}).Error
}
