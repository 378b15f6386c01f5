package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/source"
	"mailbridge/backend/internal/storage"
)

// Adapter 基于 IMAP 协议的邮件源适配器
//
// 每次 FindCandidates 调用建立一条新连接，检索完成后登出。
// 邮件标识使用 "<邮箱目录>:<UID>" 形式，同一邮箱内 UID 在
// UIDVALIDITY 不变期间保持稳定。
type Adapter struct {
	cfg       config.MailConfig
	processed storage.ProcessedRepository
	logger    *zap.Logger
}

var _ source.MessageSource = (*Adapter)(nil)

// NewAdapter 创建 IMAP 邮件源适配器
func NewAdapter(cfg config.MailConfig, processed storage.ProcessedRepository, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		processed: processed,
		logger:    logger,
	}
}

// FindCandidates 检索主题匹配且未处理的邮件
//
// 流程：连接并登录 -> 选择邮箱目录 -> 按主题搜索 -> 过滤已处理
// UID -> 截取最早的 maxCount 封 -> 抓取正文并解析附件。
// 连接、认证或目录选择失败返回 *source.UnavailableError；
// 单封邮件的抓取或解析失败只记录日志并跳过该封。
func (a *Adapter) FindCandidates(ctx context.Context, subjectFilter string, maxCount int) ([]domain.MessageCandidate, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(a.cfg.Mailbox, nil).Wait(); err != nil {
		return nil, &source.UnavailableError{Op: "select", Err: err}
	}

	uids, err := a.searchBySubject(client, subjectFilter)
	if err != nil {
		return nil, &source.UnavailableError{Op: "search", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	pending, err := a.filterProcessed(uids)
	if err != nil {
		return nil, fmt.Errorf("filtering processed messages: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	// UID 搜索结果按升序返回，截取最早的一批
	if maxCount > 0 && len(pending) > maxCount {
		pending = pending[:maxCount]
	}

	candidates := make([]domain.MessageCandidate, 0, len(pending))
	for _, uid := range pending {
		candidate, err := a.fetchMessage(client, uid)
		if err != nil {
			a.logger.Warn("跳过无法抓取的邮件",
				zap.Uint32("uid", uint32(uid)),
				zap.Error(err))
			continue
		}
		candidates = append(candidates, *candidate)
	}

	return candidates, nil
}

// connect 建立 IMAP 连接并登录
func (a *Adapter) connect(_ context.Context) (*imapclient.Client, error) {
	var client *imapclient.Client
	var err error

	if a.cfg.TLS {
		client, err = imapclient.DialTLS(a.cfg.Hostname, nil)
	} else {
		client, err = imapclient.DialStartTLS(a.cfg.Hostname, nil)
	}
	if err != nil {
		return nil, &source.UnavailableError{Op: "dial", Err: err}
	}

	if err := client.Login(a.cfg.Username, a.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.UnavailableError{Op: "login", Err: err}
	}

	return client, nil
}

// searchBySubject 按主题关键词执行 UID 搜索，结果升序（最旧在前）
func (a *Adapter) searchBySubject(client *imapclient.Client, subjectFilter string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if subjectFilter != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: subjectFilter},
		}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}

	return searchData.AllUIDs(), nil
}

// filterProcessed 剔除已处理的 UID，保持原有顺序
func (a *Adapter) filterProcessed(uids []imap.UID) ([]imap.UID, error) {
	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = a.messageID(uid)
	}

	processed, err := a.processed.FilterProcessed(ids)
	if err != nil {
		return nil, err
	}

	pending := make([]imap.UID, 0, len(uids))
	for i, uid := range uids {
		if !processed[ids[i]] {
			pending = append(pending, uid)
		}
	}
	return pending, nil
}

// fetchMessage 抓取单封邮件正文并解析附件
func (a *Adapter) fetchMessage(client *imapclient.Client, uid imap.UID) (*domain.MessageCandidate, error) {
	uidSet := imap.UIDSetNum(uid)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	candidate := &domain.MessageCandidate{
		MessageID: a.messageID(uid),
	}
	if buf.Envelope != nil {
		candidate.Subject = buf.Envelope.Subject
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody != nil {
		candidate.Attachments = parseAttachments(rawBody)
	}

	return candidate, nil
}

// messageID 为邮件生成稳定标识
func (a *Adapter) messageID(uid imap.UID) string {
	return a.cfg.Mailbox + ":" + strconv.FormatUint(uint64(uid), 10)
}

// parseAttachments 用 go-message 解析 MIME 正文并提取附件内容
func parseAttachments(raw []byte) []domain.AttachmentBlob {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// 无法解析为 MIME 结构的邮件视为无附件
		return nil
	}
	defer mr.Close()

	var attachments []domain.AttachmentBlob
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}

		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		attachments = append(attachments, domain.AttachmentBlob{
			Filename:  filename,
			Content:   content,
			SizeBytes: int64(len(content)),
		})
	}

	return attachments
}
