package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/monitoring"
	"mailbridge/backend/internal/source"
	"mailbridge/backend/internal/storage"
	"mailbridge/backend/internal/uploader"
)

// ErrAlreadyRunning 已有一次同步运行持有锁
var ErrAlreadyRunning = errors.New("sync: another run is already in progress")

// maxUniqueProbes 文件名去重探测的后缀上限
const maxUniqueProbes = 100

// SyncService 同步运行编排服务
//
// 一次运行经过 锁定 -> 检索 -> 逐封处理 -> 释放 四个阶段。
// 运行级故障（锁、邮件源）终止整次运行；附件级故障只产生
// 一条审计记录，不影响同一封邮件的其他附件。
type SyncService struct {
	lock      storage.LockRepository
	mailSrc   source.MessageSource
	registry  *TargetRegistry
	uploads   uploader.Uploader
	browser   uploader.Browser
	logs      storage.SyncLogRepository
	processed storage.ProcessedRepository
	cfg       config.SyncConfig
	subject   string
	logger    *zap.Logger
}

// NewSyncService 创建同步编排服务
func NewSyncService(
	lock storage.LockRepository,
	mailSrc source.MessageSource,
	registry *TargetRegistry,
	uploads uploader.Uploader,
	browser uploader.Browser,
	logs storage.SyncLogRepository,
	processed storage.ProcessedRepository,
	cfg config.SyncConfig,
	subject string,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		lock:      lock,
		mailSrc:   mailSrc,
		registry:  registry,
		uploads:   uploads,
		browser:   browser,
		logs:      logs,
		processed: processed,
		cfg:       cfg,
		subject:   subject,
		logger:    logger,
	}
}

// Run 执行一次完整的同步运行
//
// 返回本次运行的结构化摘要。锁被占用返回 ErrAlreadyRunning，
// 摘要的 outcome 为 already_running；运行级故障返回错误，
// outcome 为 failed 且已持有的锁在返回前释放。
func (s *SyncService) Run(ctx context.Context) (*domain.RunSummary, error) {
	run := domain.NewRunContext()
	started := time.Now()

	s.logger.Info("同步运行开始",
		zap.String("token", run.Token),
		zap.String("subject_filter", s.subject))

	run.State = domain.RunStateLocking
	acquired, err := s.lock.AcquireLock(domain.SyncLockName, run.Token, s.cfg.LockTTL)
	if err != nil {
		run.State = domain.RunStateFailed
		summary := run.Summary(domain.OutcomeFailed, fmt.Sprintf("acquiring lock: %v", err))
		monitoring.RecordRun(string(domain.OutcomeFailed), time.Since(started))
		return summary, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		run.State = domain.RunStateDone
		s.logger.Info("锁被占用，跳过本次运行", zap.String("token", run.Token))
		summary := run.Summary(domain.OutcomeAlreadyRunning, "")
		monitoring.RecordRun(string(domain.OutcomeAlreadyRunning), time.Since(started))
		return summary, ErrAlreadyRunning
	}

	// 运行无论如何结束都归还锁
	defer func() {
		if err := s.lock.ReleaseLock(domain.SyncLockName, run.Token); err != nil {
			s.logger.Error("释放运行锁失败，等待 TTL 过期自愈",
				zap.String("token", run.Token),
				zap.Error(err))
		}
	}()

	run.State = domain.RunStateFetching
	candidates, err := s.mailSrc.FindCandidates(ctx, s.subject, s.cfg.MaxEmailsPerRun)
	if err != nil {
		run.State = domain.RunStateFailed
		s.logger.Error("检索候选邮件失败", zap.Error(err))
		summary := run.Summary(domain.OutcomeFailed, err.Error())
		monitoring.RecordRun(string(domain.OutcomeFailed), time.Since(started))
		return summary, fmt.Errorf("finding candidates: %w", err)
	}

	run.State = domain.RunStateProcessing
	for i := range candidates {
		s.processMessage(ctx, run, &candidates[i])
	}

	run.State = domain.RunStateReleasing
	// 实际释放由 defer 完成

	run.State = domain.RunStateDone
	summary := run.Summary(domain.OutcomeCompleted, "")
	monitoring.RecordRun(string(domain.OutcomeCompleted), time.Since(started))

	s.logger.Info("同步运行结束",
		zap.String("token", run.Token),
		zap.Int("processed", run.Processed),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped))

	return summary, nil
}

// processMessage 处理一封候选邮件的全部附件
//
// 每个附件的结局（成功、跳过、失败）各产生一条审计记录。
// 所有附件处理完毕后邮件被标记为已处理，即使其中有失败；
// 失败的审计记录就是人工介入的信号，后续运行不再重试。
func (s *SyncService) processMessage(ctx context.Context, run *domain.RunContext, msg *domain.MessageCandidate) {
	if len(msg.Attachments) == 0 {
		s.appendLog(run, &domain.SyncLogEntry{
			MessageID:   msg.MessageID,
			Status:      domain.StatusSkipped,
			ErrorDetail: domain.ReasonNoAttachments,
		})
		s.markProcessed(msg.MessageID)
		return
	}

	for i := range msg.Attachments {
		s.processAttachment(ctx, run, msg.MessageID, &msg.Attachments[i])
	}

	s.markProcessed(msg.MessageID)
}

// processAttachment 处理单个附件并写入对应的审计记录
func (s *SyncService) processAttachment(ctx context.Context, run *domain.RunContext, messageID string, att *domain.AttachmentBlob) {
	entry := &domain.SyncLogEntry{
		MessageID: messageID,
		Filename:  att.Filename,
		SizeBytes: att.SizeBytes,
	}

	if att.SizeBytes > s.cfg.MaxAttachmentBytes() {
		entry.Status = domain.StatusSkipped
		entry.ErrorDetail = domain.ReasonSizeLimit
		s.logger.Info("附件超过大小限制，跳过",
			zap.String("message_id", messageID),
			zap.String("filename", att.Filename),
			zap.Int64("size_bytes", att.SizeBytes))
		s.appendLog(run, entry)
		return
	}

	target, err := s.registry.ResolveUploadTarget()
	if err != nil {
		if errors.Is(err, storage.ErrNoTargetConfigured) {
			entry.Status = domain.StatusFailure
			entry.ErrorDetail = domain.ReasonNoTargetConfigured
			s.logger.Warn("没有可用的存储目标，附件记为失败",
				zap.String("message_id", messageID),
				zap.String("filename", att.Filename))
		} else {
			entry.Status = domain.StatusFailure
			entry.ErrorDetail = fmt.Sprintf("resolving upload target: %v", err)
			s.logger.Error("选定存储目标失败", zap.Error(err))
		}
		s.appendLog(run, entry)
		return
	}
	entry.TargetName = target.Name

	filename := s.resolveFilename(ctx, target, att.Filename)
	entry.Filename = filename

	location, err := s.uploads.Upload(ctx, target, filename, bytes.NewReader(att.Content), att.SizeBytes)
	if err != nil {
		entry.Status = domain.StatusFailure
		entry.ErrorDetail = err.Error()
		if ue, ok := uploader.AsUploadError(err); ok {
			entry.ErrorDetail = fmt.Sprintf("%s: %v", ue.Reason, ue.Err)
		}
		s.logger.Error("附件上传失败",
			zap.String("message_id", messageID),
			zap.String("filename", filename),
			zap.String("target", target.Name),
			zap.Error(err))
		s.appendLog(run, entry)
		return
	}

	entry.Status = domain.StatusSuccess
	monitoring.RecordAttachmentSize(att.SizeBytes)
	s.logger.Info("附件上传成功",
		zap.String("message_id", messageID),
		zap.String("filename", location.Path),
		zap.String("target", location.TargetName),
		zap.Int64("size_bytes", att.SizeBytes))
	s.appendLog(run, entry)
}

// resolveFilename 清洗文件名并探测远端冲突，返回实际使用的名称
//
// 同名文件存在时依次尝试 "name (1).ext"、"name (2).ext" 等
// 后缀。探测本身出错时直接使用当前名称，交由上传阶段暴露问题。
func (s *SyncService) resolveFilename(ctx context.Context, target *domain.StorageTarget, original string) string {
	name := sanitizeFilename(original)
	if s.browser == nil {
		return name
	}

	base, ext := splitExt(name)
	candidate := name
	for i := 0; i <= maxUniqueProbes; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		_, err := s.browser.Stat(ctx, target, candidate)
		if errors.Is(err, uploader.ErrObjectNotFound) {
			return candidate
		}
		if err != nil {
			return candidate
		}
	}
	return candidate
}

// markProcessed 标记邮件已处理，失败时记录日志但不终止运行
func (s *SyncService) markProcessed(messageID string) {
	if err := s.processed.MarkMessageProcessed(messageID); err != nil {
		s.logger.Error("标记邮件已处理失败，下次运行可能重复处理",
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

// appendLog 写入审计记录并更新运行计数
//
// 每条终态记录计入 Processed，因此 Processed 恒等于
// 成功、失败、跳过三者之和。审计写入失败只记录日志，
// 不影响流水线继续。
func (s *SyncService) appendLog(run *domain.RunContext, entry *domain.SyncLogEntry) {
	run.Processed++
	switch entry.Status {
	case domain.StatusSuccess:
		run.Succeeded++
	case domain.StatusFailure:
		run.Failed++
	case domain.StatusSkipped:
		run.Skipped++
	}
	monitoring.RecordAttachment(string(entry.Status))

	if err := s.logs.AppendSyncLog(entry); err != nil {
		s.logger.Error("写入审计日志失败",
			zap.String("message_id", entry.MessageID),
			zap.String("filename", entry.Filename),
			zap.Error(err))
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// sanitizeFilename 清洗文件名，去除路径穿越和远端非法字符
func sanitizeFilename(name string) string {
	// 去掉路径部分，防止穿越到上级目录
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.ReplaceAll(name, "..", "")
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return "attachment"
	}
	return name
}

// splitExt 按最后一个点拆分文件名与扩展名
func splitExt(name string) (base, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}
