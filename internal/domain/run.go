package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunState 同步流水线的运行状态
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateLocking    RunState = "locking"
	RunStateFetching   RunState = "fetching"
	RunStateProcessing RunState = "processing"
	RunStateReleasing  RunState = "releasing"
	RunStateDone       RunState = "done"
	RunStateFailed     RunState = "failed"
)

// RunOutcome 一次运行对触发方呈现的最终结果
type RunOutcome string

const (
	// OutcomeCompleted 运行完整执行（可能包含单个附件级失败）
	OutcomeCompleted RunOutcome = "completed"
	// OutcomeAlreadyRunning 另一次运行持有锁，本次安全跳过（不是错误）
	OutcomeAlreadyRunning RunOutcome = "already_running"
	// OutcomeFailed 运行级失败（邮件源不可用、锁存储故障）
	OutcomeFailed RunOutcome = "failed"
)

// RunContext 一次运行的上下文：令牌、起始时间和累计计数器。
//
// 以显式值的形式在流水线中传递，而不是进程级全局状态，
// 使多次模拟运行可以在测试中并行存在。
type RunContext struct {
	Token     string
	StartedAt time.Time
	State     RunState

	Processed int // 本次运行写入的终态审计记录数（成功+失败+跳过）
	Succeeded int
	Failed    int
	Skipped   int
}

// NewRunContext 创建带有唯一令牌的运行上下文
func NewRunContext() *RunContext {
	return &RunContext{
		Token:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		State:     RunStateIdle,
	}
}

// Summary 由当前计数器生成运行摘要
func (rc *RunContext) Summary(outcome RunOutcome, errDetail string) *RunSummary {
	return &RunSummary{
		RunToken:  rc.Token,
		Outcome:   outcome,
		Processed: rc.Processed,
		Succeeded: rc.Succeeded,
		Failed:    rc.Failed,
		Skipped:   rc.Skipped,
		StartedAt: rc.StartedAt,
		Duration:  time.Since(rc.StartedAt),
		Error:     errDetail,
	}
}

// RunSummary 返回给触发方的结构化运行摘要。
// 即使出现部分失败也返回摘要而非异常，调度方据此区分
// “无事可做”、“有附件级失败”和“运行未能启动”。
type RunSummary struct {
	RunToken  string        `json:"runToken"`
	Outcome   RunOutcome    `json:"outcome"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}
