package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailbridge/backend/internal/config"
	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/source"
	"mailbridge/backend/internal/storage/memory"
	"mailbridge/backend/internal/uploader"
)

// fakeSource 模拟邮件源：像真实适配器一样剔除已处理的邮件
type fakeSource struct {
	candidates []domain.MessageCandidate
	err        error
	store      *memory.Store
	calls      int
}

func (f *fakeSource) FindCandidates(_ context.Context, _ string, maxCount int) ([]domain.MessageCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	ids := make([]string, len(f.candidates))
	for i := range f.candidates {
		ids[i] = f.candidates[i].MessageID
	}
	processed, err := f.store.FilterProcessed(ids)
	if err != nil {
		return nil, err
	}

	var out []domain.MessageCandidate
	for _, c := range f.candidates {
		if processed[c.MessageID] {
			continue
		}
		out = append(out, c)
		if maxCount > 0 && len(out) == maxCount {
			break
		}
	}
	return out, nil
}

type uploadCall struct {
	target   string
	filename string
}

// fakeUploader 模拟上传端：可配置失败和远端已有文件
type fakeUploader struct {
	failWith map[string]error // filename -> error
	existing map[string]bool  // filename -> exists on remote
	calls    []uploadCall
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		failWith: make(map[string]error),
		existing: make(map[string]bool),
	}
}

func (f *fakeUploader) Upload(_ context.Context, target *domain.StorageTarget, filename string, _ io.Reader, _ int64) (*uploader.Location, error) {
	f.calls = append(f.calls, uploadCall{target: target.Name, filename: filename})
	if err, ok := f.failWith[filename]; ok {
		return nil, err
	}
	f.existing[filename] = true
	return &uploader.Location{TargetName: target.Name, Path: filename, URL: target.URL + "/" + filename}, nil
}

func (f *fakeUploader) Stat(_ context.Context, _ *domain.StorageTarget, filename string) (*uploader.ObjectInfo, error) {
	if f.existing[filename] {
		return &uploader.ObjectInfo{Name: filename}, nil
	}
	return nil, uploader.ErrObjectNotFound
}

func (f *fakeUploader) List(_ context.Context, _ *domain.StorageTarget, _ string) ([]uploader.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeUploader) Download(_ context.Context, _ *domain.StorageTarget, _ string) (io.ReadCloser, *uploader.ObjectInfo, error) {
	return nil, nil, uploader.ErrObjectNotFound
}

type syncFixture struct {
	store    *memory.Store
	src      *fakeSource
	uploads  *fakeUploader
	registry *TargetRegistry
	sync     *SyncService
}

func newSyncFixture(t *testing.T, candidates []domain.MessageCandidate) *syncFixture {
	t.Helper()

	store := memory.NewStore()
	registry := NewTargetRegistry(store, zap.NewNop())
	require.NoError(t, registry.SeedFromConfig([]config.TargetSeed{
		{Name: "Primary", URL: "https://dav.example.com/main", Login: "u", Password: "p", Timeout: 60, ChunkSize: 8192},
		{Name: "Backup", URL: "https://dav.example.com/backup", Login: "u", Password: "p", Timeout: 60, ChunkSize: 8192},
	}))

	src := &fakeSource{candidates: candidates, store: store}
	uploads := newFakeUploader()

	cfg := config.SyncConfig{
		MaxAttachmentSizeMB: 1,
		MaxEmailsPerRun:     10,
		LockTTL:             time.Minute,
	}

	return &syncFixture{
		store:    store,
		src:      src,
		uploads:  uploads,
		registry: registry,
		sync: NewSyncService(
			store, src, registry, uploads, uploads,
			store, store, cfg, "Invoice", zap.NewNop(),
		),
	}
}

func attachment(name string, size int) domain.AttachmentBlob {
	return domain.AttachmentBlob{
		Filename:  name,
		Content:   make([]byte, size),
		SizeBytes: int64(size),
	}
}

func TestSyncService_RunEndToEnd(t *testing.T) {
	oversize := 2 * 1024 * 1024 // limit is 1MB

	// Three messages: two small attachments, no attachments, one oversize
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Subject: "Invoice 1", Attachments: []domain.AttachmentBlob{
			attachment("a.pdf", 100),
			attachment("b.pdf", 100),
		}},
		{MessageID: "INBOX:2", Subject: "Invoice 2"},
		{MessageID: "INBOX:3", Subject: "Invoice 3", Attachments: []domain.AttachmentBlob{attachment("huge.zip", oversize)}},
	})

	summary, err := fx.sync.Run(context.Background())
	require.NoError(t, err)

	// processed counts terminal audit rows, not messages:
	// 2 uploads + 1 empty-message skip + 1 size skip = 4
	assert.Equal(t, domain.OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, summary.Succeeded+summary.Failed+summary.Skipped, summary.Processed)

	// One audit row per attachment outcome, plus one per empty message
	logs, total, err := fx.store.ListSyncLogs(domain.SyncLogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	byFilename := make(map[string]domain.SyncLogEntry)
	var emptyRow *domain.SyncLogEntry
	for i, e := range logs {
		if e.MessageID == "INBOX:2" {
			emptyRow = &logs[i]
			continue
		}
		byFilename[e.Filename] = e
	}
	assert.Equal(t, domain.StatusSuccess, byFilename["a.pdf"].Status)
	assert.Equal(t, domain.StatusSuccess, byFilename["b.pdf"].Status)
	assert.Equal(t, "Primary", byFilename["a.pdf"].TargetName)
	require.NotNil(t, emptyRow)
	assert.Equal(t, domain.StatusSkipped, emptyRow.Status)
	assert.Equal(t, domain.ReasonNoAttachments, emptyRow.ErrorDetail)
	assert.Equal(t, domain.StatusSkipped, byFilename["huge.zip"].Status)
	assert.Equal(t, domain.ReasonSizeLimit, byFilename["huge.zip"].ErrorDetail)

	// Oversize attachment never reached the uploader
	for _, call := range fx.uploads.calls {
		assert.NotEqual(t, "huge.zip", call.filename)
	}

	// Every message is marked processed, including skipped ones
	for _, id := range []string{"INBOX:1", "INBOX:2", "INBOX:3"} {
		ok, err := fx.store.IsMessageProcessed(id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}

	// Lock is released after the run
	ok, err := fx.store.AcquireLock(domain.SyncLockName, "probe", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncService_NoTargetConfigured(t *testing.T) {
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{attachment("a.pdf", 100)}},
	})
	require.NoError(t, fx.registry.Delete("Primary"))
	require.NoError(t, fx.registry.Delete("Backup"))

	summary, err := fx.sync.Run(context.Background())
	require.NoError(t, err)

	// No enabled target is an attachment-level failure, not a skip,
	// and does not abort the run
	assert.Equal(t, domain.OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)

	logs, _, err := fx.store.ListSyncLogs(domain.SyncLogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StatusFailure, logs[0].Status)
	assert.Equal(t, domain.ReasonNoTargetConfigured, logs[0].ErrorDetail)

	// The uploader is never invoked without a resolved target
	assert.Empty(t, fx.uploads.calls)

	ok, err := fx.store.IsMessageProcessed("INBOX:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncService_SecondRunIsIdempotent(t *testing.T) {
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{attachment("a.pdf", 100)}},
	})

	first, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, second.Outcome)
	assert.Equal(t, 0, second.Processed)

	// No duplicate upload
	assert.Len(t, fx.uploads.calls, 1)
}

func TestSyncService_SizeBoundary(t *testing.T) {
	limit := 1024 * 1024 // 1MB configured in the fixture

	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{attachment("exact.bin", limit)}},
		{MessageID: "INBOX:2", Attachments: []domain.AttachmentBlob{attachment("over.bin", limit+1)}},
	})

	summary, err := fx.sync.Run(context.Background())
	require.NoError(t, err)

	// Exactly at the limit uploads, one byte over skips
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, fx.uploads.calls, 1)
	assert.Equal(t, "exact.bin", fx.uploads.calls[0].filename)
}

func TestSyncService_AlreadyRunning(t *testing.T) {
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{attachment("a.pdf", 100)}},
	})

	// Another run holds the lock
	ok, err := fx.store.AcquireLock(domain.SyncLockName, "other-run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := fx.sync.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, domain.OutcomeAlreadyRunning, summary.Outcome)

	// The mailbox was never touched and the foreign lock survives
	assert.Equal(t, 0, fx.src.calls)
	ok, err = fx.store.AcquireLock(domain.SyncLockName, "probe", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncService_SourceUnavailableReleasesLock(t *testing.T) {
	fx := newSyncFixture(t, nil)
	fx.src.err = &source.UnavailableError{Op: "dial", Err: errors.New("connection refused")}

	summary, err := fx.sync.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, domain.OutcomeFailed, summary.Outcome)
	assert.NotEmpty(t, summary.Error)

	// The lock must not stay held after a failed run
	ok, lockErr := fx.store.AcquireLock(domain.SyncLockName, "probe", time.Minute)
	require.NoError(t, lockErr)
	assert.True(t, ok)
}

func TestSyncService_UploadFailureIsIsolated(t *testing.T) {
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{
			attachment("bad.pdf", 100),
			attachment("good.pdf", 100),
		}},
		{MessageID: "INBOX:2", Attachments: []domain.AttachmentBlob{attachment("also-good.pdf", 100)}},
	})
	fx.uploads.failWith["bad.pdf"] = &uploader.UploadError{
		Reason: uploader.ReasonTimeout,
		Err:    errors.New("context deadline exceeded"),
	}

	summary, err := fx.sync.Run(context.Background())
	require.NoError(t, err)

	// One failure does not abort the run or the sibling attachments
	assert.Equal(t, domain.OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	logs, _, err := fx.store.ListSyncLogs(domain.SyncLogQuery{Status: domain.StatusFailure})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "bad.pdf", logs[0].Filename)
	assert.Contains(t, logs[0].ErrorDetail, string(uploader.ReasonTimeout))

	// Failed attempt stays on the resolved target, no cross-target retry
	for _, call := range fx.uploads.calls {
		assert.Equal(t, "Primary", call.target)
	}

	// The message with the failure is still marked processed; the failure
	// audit row is the signal for manual intervention
	ok, err := fx.store.IsMessageProcessed("INBOX:1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second run does not retry
	second, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
}

func TestSyncService_UniqueFilenameSuffix(t *testing.T) {
	fx := newSyncFixture(t, []domain.MessageCandidate{
		{MessageID: "INBOX:1", Attachments: []domain.AttachmentBlob{attachment("report.pdf", 100)}},
	})
	fx.uploads.existing["report.pdf"] = true
	fx.uploads.existing["report (1).pdf"] = true

	summary, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	require.Len(t, fx.uploads.calls, 1)
	assert.Equal(t, "report (2).pdf", fx.uploads.calls[0].filename)

	// The audit row records the name actually stored
	logs, _, err := fx.store.ListSyncLogs(domain.SyncLogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "report (2).pdf", logs[0].Filename)
}

func TestSyncService_MaxEmailsPerRun(t *testing.T) {
	var candidates []domain.MessageCandidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, domain.MessageCandidate{
			MessageID:   fmt.Sprintf("INBOX:%d", i),
			Attachments: []domain.AttachmentBlob{attachment(fmt.Sprintf("f%d.pdf", i), 10)},
		})
	}

	fx := newSyncFixture(t, candidates)
	fx.sync.cfg.MaxEmailsPerRun = 2

	first, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)

	// The remainder is picked up by subsequent runs, oldest first
	second, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Processed)

	third, err := fx.sync.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Processed)
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`..\..\boot.ini`, "boot.ini"},
		{`inv<oi>ce:2024?.pdf`, "inv_oi_ce_2024_.pdf"},
		{"", "attachment"},
		{"..", "attachment"},
		{"  spaced.txt", "spaced.txt"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeFilename(tc.in), "input %q", tc.in)
	}
}
