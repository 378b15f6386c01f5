package domain

import "time"

// ProcessedMessage 已处理邮件标记，保证跨运行的幂等性。
//
// 只有当一封邮件的全部附件都写入了终态审计记录后才插入该标记，
// 之后的运行不再把这封邮件列为候选。
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"messageId" gorm:"type:varchar(255);uniqueIndex;not null"`
	ProcessedAt time.Time `json:"processedAt"`
}

// TableName 指定表名
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
