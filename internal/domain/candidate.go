package domain

// MessageCandidate 表示一封匹配主题过滤器、尚未处理完的候选邮件。
//
// 只存在于一次编排器运行的内部，不落库；落库的是审计日志和已处理标记。
type MessageCandidate struct {
	MessageID   string // 协议原生标识（IMAP UID），在邮箱内唯一
	Subject     string
	Attachments []AttachmentBlob // 按邮件内出现顺序排列
}

// AttachmentBlob 候选邮件中的一个附件载荷
type AttachmentBlob struct {
	Filename  string
	Content   []byte
	SizeBytes int64
}
