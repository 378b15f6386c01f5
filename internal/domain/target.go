package domain

import (
	"fmt"
	"strings"
	"time"
)

// 存储目标的可选字段默认值
const (
	DefaultTargetTimeout   = 60   // 秒
	DefaultTargetChunkSize = 8192 // 字节
)

// StorageTarget 表示一个远程 WebDAV 存储目标的配置。
//
// 注册表是该记录的唯一所有者：首次启动时若表为空则从配置播种一次，
// 之后只通过管理接口的增删改和设默认操作变更，编排器永远只读。
// 不变量：启用的目标中最多有一个 is_default = true。
type StorageTarget struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"uniqueIndex;type:varchar(255);not null"`
	URL       string    `json:"url" gorm:"type:text;not null"`
	Login     string    `json:"login" gorm:"type:varchar(255);not null"`
	Password  string    `json:"-" gorm:"type:text;not null"` // 不序列化到响应
	Timeout   int       `json:"timeout" gorm:"default:60"`   // 上传超时（秒）
	ChunkSize int       `json:"chunkSize" gorm:"default:8192"`
	Enabled   bool      `json:"enabled" gorm:"default:true;index"`
	IsDefault bool      `json:"isDefault" gorm:"default:false"`
	Priority  int       `json:"priority" gorm:"default:0;index"` // 回退顺序，越小越靠前
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (StorageTarget) TableName() string {
	return "storage_targets"
}

// TimeoutDuration 返回上传超时时长，未配置时使用默认值
func (t *StorageTarget) TimeoutDuration() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTargetTimeout * time.Second
	}
	return time.Duration(t.Timeout) * time.Second
}

// EffectiveChunkSize 返回分块大小，未配置时使用默认值
func (t *StorageTarget) EffectiveChunkSize() int {
	if t.ChunkSize <= 0 {
		return DefaultTargetChunkSize
	}
	return t.ChunkSize
}

// ValidationError 字段校验失败
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Validate 校验目标配置的必填字段
func (t *StorageTarget) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
		return &ValidationError{Field: "url", Msg: "must start with http:// or https://"}
	}
	if t.Login == "" {
		return &ValidationError{Field: "login", Msg: "must not be empty"}
	}
	return nil
}
