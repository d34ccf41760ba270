package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 结果标签
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultNoop  = "noop"
	ResultHit   = "hit"
	ResultMiss  = "miss"
)

// Metrics 监控指标。所有 Record 方法允许在 nil 接收者上调用，未启用监控的组件无需判断。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 变更指标
	MutationsTotal *prometheus.CounterVec
	BulkSize       prometheus.Histogram

	// 缓存指标
	CacheLookups       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// 事件与投递指标
	EventsDispatched  *prometheus.CounterVec
	MessagesReceived  prometheus.Counter
	WebSocketClients  prometheus.Gauge
	WebhookQueueDepth prometheus.Gauge

	// 错误指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 创建监控指标并注册到 reg，reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ditmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_mutations_total",
				Help: "Message mutations by command and result",
			},
			[]string{"command", "result"},
		),
		BulkSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ditmail_bulk_update_size",
				Help:    "Number of message ids per bulk update",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_cache_lookups_total",
				Help: "Cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_cache_invalidations_total",
				Help: "Cache invalidations by tier and result",
			},
			[]string{"tier", "result"},
		),
		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_events_dispatched_total",
				Help: "Mutation events by channel and result",
			},
			[]string{"channel", "result"},
		),
		MessagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ditmail_messages_received_total",
				Help: "Messages delivered into mailboxes",
			},
		),
		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ditmail_websocket_clients",
				Help: "Connected websocket clients",
			},
		),
		WebhookQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ditmail_webhook_queue_depth",
				Help: "Pending webhook delivery tasks",
			},
		),
		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ditmail_panics_total",
				Help: "Recovered panics",
			},
		),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ditmail_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit"},
		),
		gatherer: gatherer,
	}
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMutation 记录一次变更结果
func (m *Metrics) RecordMutation(command, result string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(command, result).Inc()
}

// RecordBulk 记录批量请求大小
func (m *Metrics) RecordBulk(size int) {
	if m == nil {
		return
	}
	m.BulkSize.Observe(float64(size))
}

// RecordCacheLookup 记录缓存命中/未命中
func (m *Metrics) RecordCacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordInvalidation 记录缓存失效结果
func (m *Metrics) RecordInvalidation(tier string, err error) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(tier, resultOf(err)).Inc()
}

// RecordDispatch 记录事件投递结果
func (m *Metrics) RecordDispatch(channel string, err error) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(channel, resultOf(err)).Inc()
}

// RecordMessageReceived 记录邮件投递
func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// SetWebSocketClients 更新 WebSocket 连接数
func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}

// SetWebhookQueueDepth 更新 Webhook 队列长度
func (m *Metrics) SetWebhookQueueDepth(n int) {
	if m == nil {
		return
	}
	m.WebhookQueueDepth.Set(float64(n))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limit string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
