package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/storage"
)

// Store 内存存储实现（开发环境与测试用）。
//
// 所有方法在单把互斥锁下执行，因此 AcquireLock 天然满足原子性要求。
type Store struct {
	mu sync.Mutex

	locks     map[string]*domain.RunLock
	targets   map[string]*domain.StorageTarget
	logs      []domain.SyncLogEntry
	processed map[string]time.Time

	nextLogID uint
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		locks:     make(map[string]*domain.RunLock),
		targets:   make(map[string]*domain.StorageTarget),
		processed: make(map[string]time.Time),
		nextLogID: 1,
	}
}

// ========== Lock Repository ==========

// AcquireLock 尝试获取命名锁；已被其他令牌持有且未过期时返回 false
func (s *Store) AcquireLock(name, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	lock, ok := s.locks[name]
	if ok && lock.HolderToken != "" && lock.HolderToken != token && !lock.Expired(now) {
		return false, nil
	}

	s.locks[name] = &domain.RunLock{
		Name:        name,
		HolderToken: token,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	return true, nil
}

// ReleaseLock 释放锁；令牌不匹配时为空操作
func (s *Store) ReleaseLock(name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok || lock.HolderToken != token {
		return nil
	}
	lock.HolderToken = ""
	lock.ExpiresAt = time.Now().UTC()
	return nil
}

// ========== Target Repository ==========

// SaveTarget 新增或更新存储目标
func (s *Store) SaveTarget(target *domain.StorageTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.ID == "" {
		target.ID = uuid.New().String()
		target.CreatedAt = time.Now().UTC()
	}
	target.UpdatedAt = time.Now().UTC()

	// 名称唯一性：同名但不同 ID 视为冲突
	if existing, ok := s.targets[target.Name]; ok && existing.ID != target.ID {
		return storage.ErrTargetExists
	}

	// 维护“最多一个默认目标”不变量
	if target.IsDefault {
		for _, t := range s.targets {
			if t.Name != target.Name {
				t.IsDefault = false
			}
		}
	}

	cp := *target
	s.targets[target.Name] = &cp
	return nil
}

// GetTarget 按名称获取目标
func (s *Store) GetTarget(name string) (*domain.StorageTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.targets[name]
	if !ok {
		return nil, storage.ErrTargetNotFound
	}
	cp := *target
	return &cp, nil
}

// ListTargets 返回全部目标，按 priority 升序
func (s *Store) ListTargets() ([]domain.StorageTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(false), nil
}

// ListEnabledTargets 返回启用的目标，按 priority 升序
func (s *Store) ListEnabledTargets() ([]domain.StorageTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(true), nil
}

func (s *Store) listLocked(enabledOnly bool) []domain.StorageTarget {
	out := make([]domain.StorageTarget, 0, len(s.targets))
	for _, t := range s.targets {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteTarget 删除目标
func (s *Store) DeleteTarget(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[name]; !ok {
		return storage.ErrTargetNotFound
	}
	delete(s.targets, name)
	return nil
}

// SetDefaultTarget 将指定目标设为默认，同时清除其它目标的默认标记
func (s *Store) SetDefaultTarget(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.targets[name]
	if !ok {
		return storage.ErrTargetNotFound
	}
	for _, t := range s.targets {
		t.IsDefault = false
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now().UTC()
	return nil
}

// CountTargets 返回目标总数
func (s *Store) CountTargets() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.targets)), nil
}

// ========== SyncLog Repository ==========

// AppendSyncLog 追加一条审计记录
func (s *Store) AppendSyncLog(entry *domain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextLogID
	s.nextLogID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

// ListSyncLogs 按查询条件分页返回审计记录（最新在前）
func (s *Store) ListSyncLogs(query domain.SyncLogQuery) ([]domain.SyncLogEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query.Normalize()

	matched := make([]domain.SyncLogEntry, 0, len(s.logs))
	for _, e := range s.logs {
		if query.Status != "" && e.Status != query.Status {
			continue
		}
		if query.Target != "" && e.TargetName != query.Target {
			continue
		}
		if query.Filename != "" && !strings.Contains(e.Filename, query.Filename) {
			continue
		}
		if query.From != nil && e.CreatedAt.Before(*query.From) {
			continue
		}
		if query.To != nil && e.CreatedAt.After(*query.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := query.Offset()
	if start >= len(matched) {
		return []domain.SyncLogEntry{}, total, nil
	}
	end := start + query.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// CountSyncLogsByStatus 按状态统计记录数
func (s *Store) CountSyncLogsByStatus(status domain.SyncStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.logs {
		if e.Status == status {
			count++
		}
	}
	return count, nil
}

// ========== Processed Repository ==========

// IsMessageProcessed 查询邮件是否已处理
func (s *Store) IsMessageProcessed(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[messageID]
	return ok, nil
}

// MarkMessageProcessed 标记邮件为已处理（重复标记安全）
func (s *Store) MarkMessageProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[messageID]; !ok {
		s.processed[messageID] = time.Now().UTC()
	}
	return nil
}

// FilterProcessed 返回 ids 中已处理的子集
func (s *Store) FilterProcessed(ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.processed[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// ========== 工具方法 ==========

// Close 关闭存储（内存实现为空操作）
func (s *Store) Close() error {
	return nil
}

// Health 检查存储健康状态
func (s *Store) Health() error {
	return nil
}
