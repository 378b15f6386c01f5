package postgres

import (
	"time"

	"mailbridge/backend/internal/domain"
)

// AppendSyncLog 追加一条审计记录
func (s *Store) AppendSyncLog(entry *domain.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.Create(entry).Error
}

// ListSyncLogs 按查询条件分页返回审计记录（最新在前）
func (s *Store) ListSyncLogs(query domain.SyncLogQuery) ([]domain.SyncLogEntry, int64, error) {
	query.Normalize()

	db := s.db.Model(&domain.SyncLogEntry{})
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Target != "" {
		db = db.Where("target_name = ?", query.Target)
	}
	if query.Filename != "" {
		db = db.Where("filename LIKE ?", "%"+query.Filename+"%")
	}
	if query.From != nil {
		db = db.Where("created_at >= ?", *query.From)
	}
	if query.To != nil {
		db = db.Where("created_at <= ?", *query.To)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []domain.SyncLogEntry
	err := db.Order("id DESC").
		Limit(query.PageSize).
		Offset(query.Offset()).
		Find(&entries).Error
	return entries, total, err
}

// CountSyncLogsByStatus 按状态统计记录数
func (s *Store) CountSyncLogsByStatus(status domain.SyncStatus) (int64, error) {
	var count int64
	err := s.db.Model(&domain.SyncLogEntry{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
