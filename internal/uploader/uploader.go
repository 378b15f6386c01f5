package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mailbridge/backend/internal/domain"
)

// FailureReason 上传失败的分类，记入审计日志便于事后排查
type FailureReason string

const (
	ReasonAuthFailure    FailureReason = "auth_failure"    // 凭证被远端拒绝 (401/403)
	ReasonTimeout        FailureReason = "timeout"         // 超过目标配置的超时时间
	ReasonRemoteRejected FailureReason = "remote_rejected" // 远端返回其他错误状态码
	ReasonNetworkError   FailureReason = "network_error"   // 连接建立或传输中断
)

// UploadError 带分类的上传失败
type UploadError struct {
	Reason FailureReason
	Code   int // HTTP 状态码，无响应时为 0
	Err    error
}

func (e *UploadError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("upload failed (%s, status %d): %v", e.Reason, e.Code, e.Err)
	}
	return fmt.Sprintf("upload failed (%s): %v", e.Reason, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// AsUploadError 从错误链中提取 *UploadError
func AsUploadError(err error) (*UploadError, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ErrObjectNotFound 远端不存在指定对象
var ErrObjectNotFound = errors.New("uploader: object not found")

// Location 上传成功后对象在远端的位置
type Location struct {
	TargetName string `json:"target_name"`
	Path       string `json:"path"` // 实际存储的文件名（可能带去重后缀）
	URL        string `json:"url"`
}

// ObjectInfo 远端对象的元信息
type ObjectInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified,omitempty"`
}

// Uploader 定义附件上传接口
//
// Upload 将 content 写入目标存储的 filename 位置。失败时返回
// *UploadError 指明失败分类。实现不做跨目标重试，单次调用
// 只针对给定的一个目标。
type Uploader interface {
	Upload(ctx context.Context, target *domain.StorageTarget, filename string, content io.Reader, size int64) (*Location, error)
}

// Browser 定义远端存储的只读浏览接口，供文件名去重探测与浏览端点使用
type Browser interface {
	Stat(ctx context.Context, target *domain.StorageTarget, filename string) (*ObjectInfo, error)
	List(ctx context.Context, target *domain.StorageTarget, dir string) ([]ObjectInfo, error)
	Download(ctx context.Context, target *domain.StorageTarget, filename string) (io.ReadCloser, *ObjectInfo, error)
}
