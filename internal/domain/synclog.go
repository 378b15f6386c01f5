package domain

import "time"

// SyncStatus 审计日志的终态状态
type SyncStatus string

const (
	// StatusSuccess 附件上传成功
	StatusSuccess SyncStatus = "success"
	// StatusFailure 上传失败（含无可用目标）
	StatusFailure SyncStatus = "failure"
	// StatusSkipped 附件被跳过，未调用上传器
	StatusSkipped SyncStatus = "skipped"
)

// 审计日志中 error_detail 的结构化原因前缀
const (
	ReasonSizeLimit          = "size_limit"
	ReasonNoAttachments      = "no_attachments"
	ReasonNoTargetConfigured = "no_target_configured"
)

// SyncLogEntry 表示一次附件同步尝试的审计记录。
//
// 表为追加写：编排器是唯一写入方，管理界面只读。
// 同一 (message_id, filename, target) 组合在一次运行内只产生一条记录；
// 跨运行的重复由已处理消息表（processed_messages）阻止。
type SyncLogEntry struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string     `json:"messageId" gorm:"type:varchar(255);index;not null"`
	Filename    string     `json:"filename" gorm:"type:varchar(255);index"`
	TargetName  string     `json:"targetName" gorm:"type:varchar(255);index"`
	Status      SyncStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	ErrorDetail string     `json:"errorDetail,omitempty" gorm:"type:text"`
	SizeBytes   int64      `json:"sizeBytes"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (SyncLogEntry) TableName() string {
	return "sync_logs"
}

// SyncLogQuery 审计日志查询条件（分页 + 过滤）
type SyncLogQuery struct {
	Page     int
	PageSize int
	Status   SyncStatus // 为空表示不过滤
	Target   string
	Filename string // 文件名模糊匹配
	From     *time.Time
	To       *time.Time
}

// Normalize 将分页参数收敛到合法范围
func (q *SyncLogQuery) Normalize() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
}

// Offset 返回 SQL 偏移量
func (q *SyncLogQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}
