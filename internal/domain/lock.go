package domain

import "time"

// RunLock 表示同步任务的全局运行锁。
//
// 每种任务在表中最多占一行（按 lock_name 唯一），holder_token 标识当前持有者。
// 锁带有过期时间：now > expires_at 之后任何新的获取尝试都可以强制接管，
// 防止崩溃的运行实例造成永久死锁（适配 Serverless 多实例环境）。
type RunLock struct {
	Name        string    `json:"name" gorm:"primaryKey;column:lock_name;type:varchar(100)"`
	HolderToken string    `json:"holderToken" gorm:"type:varchar(64)"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt" gorm:"index"`
}

// TableName 指定表名
func (RunLock) TableName() string {
	return "app_locks"
}

// Expired 判断锁在给定时间点是否已过期
func (l *RunLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// SyncLockName 邮件同步任务使用的锁名称
const SyncLockName = "mail_sync"
