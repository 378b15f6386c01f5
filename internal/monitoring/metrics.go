package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 监控指标，注册到默认注册表
var (
	// HTTP 请求指标
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// 同步运行指标
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailbridge_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// 附件处理指标
	attachmentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_attachments_processed_total",
			Help: "Total number of attachments processed by status",
		},
		[]string{"status"},
	)

	attachmentSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailbridge_attachment_size_bytes",
			Help:    "Attachment size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
		},
	)

	// 错误指标
	panicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbridge_panics_total",
			Help: "Total number of panics",
		},
	)

	// 限流指标
	rateLimitBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_rate_limit_blocks_total",
			Help: "Total number of rate limit blocks",
		},
		[]string{"endpoint"},
	)
)

// RecordHTTPRequest 记录 HTTP 请求指标
func RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRun 记录一次同步运行的结局和耗时
func RecordRun(outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordAttachment 记录一个附件的处理结局
func RecordAttachment(status string) {
	attachmentsProcessed.WithLabelValues(status).Inc()
}

// RecordAttachmentSize 记录附件大小
func RecordAttachmentSize(size int64) {
	attachmentSize.Observe(float64(size))
}

// RecordPanic 记录 panic
func RecordPanic() {
	panicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func RecordRateLimitBlock(endpoint string) {
	rateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
