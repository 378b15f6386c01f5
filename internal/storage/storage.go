package storage

import (
	"errors"
	"time"

	"mailbridge/backend/internal/domain"
)

var (
	// ErrTargetNotFound 存储目标未找到错误
	ErrTargetNotFound = errors.New("storage target not found")
	// ErrTargetExists 存储目标名称已存在错误
	ErrTargetExists = errors.New("storage target already exists")
	// ErrNoTargetConfigured 没有任何启用的存储目标
	ErrNoTargetConfigured = errors.New("no enabled storage target configured")
)

// LockRepository 定义全局运行锁操作。
//
// AcquireLock 必须是存储层的单次原子操作（条件插入/更新）：
// 两个并发触发最多一个成功。对未过期且由其他令牌持有的锁返回 false 且无副作用。
// ReleaseLock 幂等：释放不属于调用方令牌的锁是空操作，不是错误。
type LockRepository interface {
	AcquireLock(name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(name, token string) error
}

// TargetRepository 定义存储目标数据存取操作。
type TargetRepository interface {
	SaveTarget(target *domain.StorageTarget) error
	GetTarget(name string) (*domain.StorageTarget, error)
	ListTargets() ([]domain.StorageTarget, error)
	ListEnabledTargets() ([]domain.StorageTarget, error) // 按 priority 升序
	DeleteTarget(name string) error
	SetDefaultTarget(name string) error // 原子地清除旧默认并设置新默认
	CountTargets() (int64, error)
}

// SyncLogRepository 定义审计日志的追加和查询操作。
type SyncLogRepository interface {
	AppendSyncLog(entry *domain.SyncLogEntry) error
	ListSyncLogs(query domain.SyncLogQuery) ([]domain.SyncLogEntry, int64, error)
	CountSyncLogsByStatus(status domain.SyncStatus) (int64, error)
}

// ProcessedRepository 定义已处理邮件标记操作（跨运行幂等的依据）。
type ProcessedRepository interface {
	IsMessageProcessed(messageID string) (bool, error)
	MarkMessageProcessed(messageID string) error
	// FilterProcessed 批量查询，返回 ids 中已处理的子集
	FilterProcessed(ids []string) (map[string]bool, error)
}

// Store 定义完整的存储接口。
type Store interface {
	LockRepository
	TargetRepository
	SyncLogRepository
	ProcessedRepository

	Close() error
	Health() error
}
