package webdav

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/uploader"
)

func testTarget(url string) *domain.StorageTarget {
	return &domain.StorageTarget{
		Name:      "Test",
		URL:       url,
		Login:     "dav-user",
		Password:  "dav-pass",
		Timeout:   5,
		ChunkSize: 4,
	}
}

func TestClient_UploadSuccess(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []byte
	var gotUser, gotPass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(nil)
	content := []byte("attachment payload")
	location, err := client.Upload(context.Background(), testTarget(server.URL), "report.pdf", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/report.pdf", gotPath)
	assert.Equal(t, "dav-user", gotUser)
	assert.Equal(t, "dav-pass", gotPass)
	assert.Equal(t, content, gotBody)

	assert.Equal(t, "Test", location.TargetName)
	assert.Equal(t, "report.pdf", location.Path)
	assert.Equal(t, server.URL+"/report.pdf", location.URL)
}

func TestClient_UploadEscapesFilename(t *testing.T) {
	var gotEscaped string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(nil)
	_, err := client.Upload(context.Background(), testTarget(server.URL), "月报 2024.pdf", bytes.NewReader(nil), 0)
	require.NoError(t, err)
	assert.NotContains(t, gotEscaped, " ")
}

func TestClient_UploadAuthFailure(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		client := NewClient(nil)
		_, err := client.Upload(context.Background(), testTarget(server.URL), "f.bin", bytes.NewReader(nil), 0)
		server.Close()

		ue, ok := uploader.AsUploadError(err)
		require.True(t, ok)
		assert.Equal(t, uploader.ReasonAuthFailure, ue.Reason)
		assert.Equal(t, code, ue.Code)
	}
}

func TestClient_UploadRemoteRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	defer server.Close()

	client := NewClient(nil)
	_, err := client.Upload(context.Background(), testTarget(server.URL), "f.bin", bytes.NewReader(nil), 0)

	ue, ok := uploader.AsUploadError(err)
	require.True(t, ok)
	assert.Equal(t, uploader.ReasonRemoteRejected, ue.Reason)
	assert.Equal(t, http.StatusInsufficientStorage, ue.Code)
}

func TestClient_UploadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	target := testTarget(server.URL)
	target.Timeout = 1

	client := NewClient(nil)
	start := time.Now()
	_, err := client.Upload(context.Background(), target, "f.bin", bytes.NewReader(nil), 0)

	ue, ok := uploader.AsUploadError(err)
	require.True(t, ok)
	assert.Equal(t, uploader.ReasonTimeout, ue.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_UploadNetworkError(t *testing.T) {
	// Server that is already closed refuses connections
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(nil)
	_, err := client.Upload(context.Background(), testTarget(server.URL), "f.bin", bytes.NewReader(nil), 0)

	ue, ok := uploader.AsUploadError(err)
	require.True(t, ok)
	assert.Equal(t, uploader.ReasonNetworkError, ue.Reason)
}

func TestClient_Stat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/exists.pdf" {
			w.Header().Set("Content-Length", "42")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(nil)

	info, err := client.Stat(context.Background(), testTarget(server.URL), "exists.pdf")
	require.NoError(t, err)
	assert.Equal(t, "exists.pdf", info.Name)

	_, err = client.Stat(context.Background(), testTarget(server.URL), "missing.pdf")
	assert.ErrorIs(t, err, uploader.ErrObjectNotFound)
}

const multistatusResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/dav/</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>dav</d:displayname>
        <d:resourcetype><d:collection/></d:resourcetype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/report.pdf</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>report.pdf</d:displayname>
        <d:getcontentlength>1024</d:getcontentlength>
        <d:getlastmodified>Mon, 02 Jan 2006 15:04:05 MST</d:getlastmodified>
        <d:resourcetype/>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/archive/</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>archive</d:displayname>
        <d:resourcetype><d:collection/></d:resourcetype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatusResponse))
	}))
	defer server.Close()

	target := testTarget(server.URL + "/dav")
	client := NewClient(nil)

	items, err := client.List(context.Background(), target, "")
	require.NoError(t, err)

	// The collection itself is excluded
	require.Len(t, items, 2)
	assert.Equal(t, "report.pdf", items[0].Name)
	assert.Equal(t, int64(1024), items[0].Size)
	assert.False(t, items[0].IsDir)
	assert.Equal(t, "archive", items[1].Name)
	assert.True(t, items[1].IsDir)
}

func TestClient_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report.pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("file contents"))
	}))
	defer server.Close()

	client := NewClient(nil)

	body, info, err := client.Download(context.Background(), testTarget(server.URL), "report.pdf")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))
	assert.Equal(t, "report.pdf", info.Name)

	_, _, err = client.Download(context.Background(), testTarget(server.URL), "missing.pdf")
	assert.ErrorIs(t, err, uploader.ErrObjectNotFound)
}
