package postgres

import (
	"time"

	"gorm.io/gorm/clause"

	"mailbridge/backend/internal/domain"
)

// IsMessageProcessed 查询邮件是否已处理
func (s *Store) IsMessageProcessed(messageID string) (bool, error) {
	var count int64
	err := s.db.Model(&domain.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

// MarkMessageProcessed 标记邮件为已处理；唯一索引冲突时忽略（重复标记安全）
func (s *Store) MarkMessageProcessed(messageID string) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.ProcessedMessage{
			MessageID:   messageID,
			ProcessedAt: time.Now().UTC(),
		}).Error
}

// FilterProcessed 返回 ids 中已处理的子集
func (s *Store) FilterProcessed(ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []domain.ProcessedMessage
	if err := s.db.Where("message_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.MessageID] = true
	}
	return out, nil
}
