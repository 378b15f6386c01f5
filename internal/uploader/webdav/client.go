package webdav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"mailbridge/backend/internal/domain"
	"mailbridge/backend/internal/uploader"
)

// Client 基于 HTTP 的 WebDAV 存储客户端
//
// 实现 uploader.Uploader 和 uploader.Browser。每个请求使用目标
// 自带的超时与凭证，同一个 Client 可服务任意多个目标。
type Client struct {
	httpClient *http.Client
}

var (
	_ uploader.Uploader = (*Client)(nil)
	_ uploader.Browser  = (*Client)(nil)
)

// NewClient 创建 WebDAV 客户端
//
// 传入 nil 时使用默认 http.Client。整体超时由每个请求的
// context 控制，而不是 http.Client.Timeout。
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Upload 通过 PUT 请求将内容写入目标存储
//
// 读取按目标配置的块大小分段，超时按目标配置的秒数生效。
// 失败返回 *uploader.UploadError，按网络层和状态码分类。
func (c *Client) Upload(ctx context.Context, target *domain.StorageTarget, filename string, content io.Reader, size int64) (*uploader.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, target.TimeoutDuration())
	defer cancel()

	fileURL := joinURL(target.URL, filename)

	body := newChunkedReader(content, target.EffectiveChunkSize())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fileURL, body)
	if err != nil {
		return nil, &uploader.UploadError{Reason: uploader.ReasonNetworkError, Err: err}
	}
	req.SetBasicAuth(target.Login, target.Password)
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	return &uploader.Location{
		TargetName: target.Name,
		Path:       filename,
		URL:        fileURL,
	}, nil
}

// Stat 通过 HEAD 请求查询远端对象是否存在
//
// 对象不存在返回 uploader.ErrObjectNotFound。
func (c *Client) Stat(ctx context.Context, target *domain.StorageTarget, filename string) (*uploader.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, target.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, joinURL(target.URL, filename), nil)
	if err != nil {
		return nil, &uploader.UploadError{Reason: uploader.ReasonNetworkError, Err: err}
	}
	req.SetBasicAuth(target.Login, target.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, uploader.ErrObjectNotFound
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	return &uploader.ObjectInfo{
		Name: filename,
		Size: resp.ContentLength,
	}, nil
}

// List 通过 PROPFIND 请求列出目录内容（Depth: 1）
func (c *Client) List(ctx context.Context, target *domain.StorageTarget, dir string) ([]uploader.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, target.TimeoutDuration())
	defer cancel()

	dirURL := target.URL
	if dir != "" {
		dirURL = joinURL(target.URL, dir)
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", dirURL, strings.NewReader(propfindBody))
	if err != nil {
		return nil, &uploader.UploadError{Reason: uploader.ReasonNetworkError, Err: err}
	}
	req.SetBasicAuth(target.Login, target.Password)
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, uploader.ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, classifyStatus(resp.StatusCode)
	}

	return parseMultistatus(resp.Body, dirURL)
}

// Download 通过 GET 请求下载远端对象
//
// 调用方负责关闭返回的 ReadCloser。
func (c *Client) Download(ctx context.Context, target *domain.StorageTarget, filename string) (io.ReadCloser, *uploader.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, target.TimeoutDuration())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(target.URL, filename), nil)
	if err != nil {
		cancel()
		return nil, nil, &uploader.UploadError{Reason: uploader.ReasonNetworkError, Err: err}
	}
	req.SetBasicAuth(target.Login, target.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, classifyTransportError(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		cancel()
		return nil, nil, uploader.ErrObjectNotFound
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		cancel()
		return nil, nil, err
	}

	info := &uploader.ObjectInfo{
		Name: filename,
		Size: resp.ContentLength,
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, info, nil
}

// classifyTransportError 将传输层错误归类为超时或网络错误
func classifyTransportError(err error) *uploader.UploadError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &uploader.UploadError{Reason: uploader.ReasonTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &uploader.UploadError{Reason: uploader.ReasonTimeout, Err: err}
	}
	return &uploader.UploadError{Reason: uploader.ReasonNetworkError, Err: err}
}

// classifyStatus 将错误状态码归类，成功状态返回 nil
func classifyStatus(code int) *uploader.UploadError {
	switch {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &uploader.UploadError{
			Reason: uploader.ReasonAuthFailure,
			Code:   code,
			Err:    fmt.Errorf("credentials rejected with status %d", code),
		}
	default:
		return &uploader.UploadError{
			Reason: uploader.ReasonRemoteRejected,
			Code:   code,
			Err:    fmt.Errorf("remote returned status %d", code),
		}
	}
}

// joinURL 拼接基础 URL 与文件名，文件名做路径转义
func joinURL(base, name string) string {
	base = strings.TrimRight(base, "/")
	return base + "/" + url.PathEscape(name)
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

// multistatus PROPFIND 响应的 XML 结构
type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string `xml:"href"`
	Propstat []struct {
		Prop struct {
			DisplayName   string `xml:"displayname"`
			ContentLength int64  `xml:"getcontentlength"`
			LastModified  string `xml:"getlastmodified"`
			ResourceType  struct {
				Collection *struct{} `xml:"collection"`
			} `xml:"resourcetype"`
		} `xml:"prop"`
		Status string `xml:"status"`
	} `xml:"propstat"`
}

// parseMultistatus 解析 PROPFIND 响应，剔除目录自身条目
func parseMultistatus(body io.Reader, dirURL string) ([]uploader.ObjectInfo, error) {
	var ms multistatus
	if err := xml.NewDecoder(body).Decode(&ms); err != nil {
		return nil, &uploader.UploadError{
			Reason: uploader.ReasonRemoteRejected,
			Err:    fmt.Errorf("parsing PROPFIND response: %w", err),
		}
	}

	selfPath := strings.TrimRight(hrefPath(dirURL), "/")

	items := make([]uploader.ObjectInfo, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		href := strings.TrimRight(hrefPath(resp.Href), "/")
		if href == selfPath {
			continue
		}
		if len(resp.Propstat) == 0 {
			continue
		}

		prop := resp.Propstat[0].Prop
		name := prop.DisplayName
		if name == "" {
			if decoded, err := url.PathUnescape(path.Base(href)); err == nil {
				name = decoded
			} else {
				name = path.Base(href)
			}
		}

		info := uploader.ObjectInfo{
			Name:  name,
			Size:  prop.ContentLength,
			IsDir: prop.ResourceType.Collection != nil,
		}
		if prop.LastModified != "" {
			if t, err := time.Parse(time.RFC1123, prop.LastModified); err == nil {
				info.Modified = t
			}
		}
		items = append(items, info)
	}

	return items, nil
}

// hrefPath 提取 URL 或 href 的路径部分
func hrefPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	return raw
}

// chunkedReader 限制单次 Read 的最大字节数，使 PUT 请求体按
// 目标配置的块大小分段读取
type chunkedReader struct {
	r     io.Reader
	chunk int
}

func newChunkedReader(r io.Reader, chunk int) *chunkedReader {
	if chunk <= 0 {
		chunk = domain.DefaultTargetChunkSize
	}
	return &chunkedReader{r: r, chunk: chunk}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.chunk {
		p = p[:c.chunk]
	}
	return c.r.Read(p)
}

// cancelReadCloser 关闭响应体时同步取消请求的超时 context
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
