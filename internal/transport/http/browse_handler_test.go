package httptransport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/service"
	"mailbridge/backend/internal/storage/memory"
	"mailbridge/backend/internal/uploader"
)

// stubBrowser records the paths the handler resolves from the route
type stubBrowser struct {
	gotDir      string
	gotFilename string
}

func (b *stubBrowser) Stat(_ context.Context, _ *domain.StorageTarget, _ string) (*uploader.ObjectInfo, error) {
	return nil, uploader.ErrObjectNotFound
}

func (b *stubBrowser) List(_ context.Context, _ *domain.StorageTarget, dir string) ([]uploader.ObjectInfo, error) {
	b.gotDir = dir
	return []uploader.ObjectInfo{{Name: "report.pdf", Size: 4}}, nil
}

func (b *stubBrowser) Download(_ context.Context, _ *domain.StorageTarget, filename string) (io.ReadCloser, *uploader.ObjectInfo, error) {
	b.gotFilename = filename
	return io.NopCloser(strings.NewReader("data")), &uploader.ObjectInfo{Name: filename, Size: 4}, nil
}

func newBrowseRouter(t *testing.T) (*gin.Engine, *stubBrowser) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	registry := service.NewTargetRegistry(store, zap.NewNop())
	require.NoError(t, registry.Create(&domain.StorageTarget{
		Name: "Primary", URL: "https://dav.example.com/files", Login: "u", Password: "p",
		Enabled: true,
	}))

	browser := &stubBrowser{}
	handler := NewBrowseHandler(registry, browser, zap.NewNop())

	router := gin.New()
	router.GET("/api/targets/:name/files", handler.List)
	router.GET("/api/targets/:name/files/*filename", handler.Download)
	return router, browser
}

func TestBrowseHandler_DownloadNestedPath(t *testing.T) {
	router, browser := newBrowseRouter(t)

	// Objects listed via ?dir= live in subdirectories; the wildcard
	// route must carry the full relative path to the client
	req := httptest.NewRequest(http.MethodGet, "/api/targets/Primary/files/archive/2024/report.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/2024/report.pdf", browser.gotFilename)
	assert.Equal(t, "data", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestBrowseHandler_DownloadTopLevelFile(t *testing.T) {
	router, browser := newBrowseRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/targets/Primary/files/report.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report.pdf", browser.gotFilename)
}

func TestBrowseHandler_DownloadUnknownTarget(t *testing.T) {
	router, _ := newBrowseRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/targets/Missing/files/report.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrowseHandler_ListSubdirectory(t *testing.T) {
	router, browser := newBrowseRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/targets/Primary/files?dir=archive", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive", browser.gotDir)
}
