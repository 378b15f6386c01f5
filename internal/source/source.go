package source

import (
	"context"
	"fmt"

	"mailbridge/backend/internal/domain"
)

// UnavailableError 表示邮件源整体不可达（连接、认证或目录选择失败）。
// 这类错误终止整次运行，与单封邮件的处理失败区分开。
type UnavailableError struct {
	Op  string // 失败的阶段: dial, login, select, search
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("mail source unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// MessageSource 定义候选邮件检索接口
//
// FindCandidates 返回主题包含 subjectFilter 且尚未处理的邮件，
// 按接收顺序从旧到新排列，最多 maxCount 封。每封候选邮件包含
// 完整的附件内容。
type MessageSource interface {
	FindCandidates(ctx context.Context, subjectFilter string, maxCount int) ([]domain.MessageCandidate, error)
}
