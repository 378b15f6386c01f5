package service

import (
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/storage"
)

// SyncLogService 审计日志查询服务
//
// 日志只追加，没有更新和删除操作。写入由同步流程完成，
// 本服务只负责查询侧。
type SyncLogService struct {
	logs storage.SyncLogRepository
}

// NewSyncLogService 创建审计日志查询服务
func NewSyncLogService(logs storage.SyncLogRepository) *SyncLogService {
	return &SyncLogService{logs: logs}
}

// List 分页查询审计日志，最新记录在前
func (s *SyncLogService) List(query domain.SyncLogQuery) ([]domain.SyncLogEntry, int64, error) {
	query.Normalize()
	return s.logs.ListSyncLogs(query)
}

// LogStats 各状态的日志数量统计
type LogStats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
	Skipped int64 `json:"skipped"`
}

// Stats 统计各状态的日志数量
func (s *SyncLogService) Stats() (*LogStats, error) {
	success, err := s.logs.CountSyncLogsByStatus(domain.StatusSuccess)
	if err != nil {
		return nil, err
	}
	failure, err := s.logs.CountSyncLogsByStatus(domain.StatusFailure)
	if err != nil {
		return nil, err
	}
	skipped, err := s.logs.CountSyncLogsByStatus(domain.StatusSkipped)
	if err != nil {
		return nil, err
	}

	return &LogStats{
		Total:   success + failure + skipped,
		Success: success,
		Failure: failure,
		Skipped: skipped,
	}, nil
}
