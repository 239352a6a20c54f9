package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 验证码定时器指标
	TimersStarted    prometheus.Counter
	TimersExpired    prometheus.Counter
	TimersClaimed    prometheus.Counter
	TimersSuperseded prometheus.Counter
	TimersActive     prometheus.Gauge

	// 收件箱轮询指标
	PollSweeps        prometheus.Counter
	MessagesInspected prometheus.Counter
	CodesExtracted    prometheus.Counter
	ProviderErrors    prometheus.Counter

	// 邮箱与会话指标
	MailboxesCreated prometheus.Counter
	SessionsTotal    prometheus.Gauge

	// 对外调用指标
	TransportCalls  *prometheus.CounterVec
	CheckerRequests prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标并注册到默认注册表
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewNopMetrics 创建不注册的指标，供测试使用
func NewNopMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpbot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "otpbot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		TimersStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_timers_started_total",
				Help: "Total number of countdown timers started",
			},
		),

		TimersExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_timers_expired_total",
				Help: "Total number of countdown timers expired",
			},
		),

		TimersClaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_timers_claimed_total",
				Help: "Total number of countdown timers claimed",
			},
		),

		TimersSuperseded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_timers_superseded_total",
				Help: "Total number of countdown timers replaced by a new start",
			},
		),

		TimersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "otpbot_timers_active",
				Help: "Number of running countdown timers",
			},
		),

		PollSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_poll_sweeps_total",
				Help: "Total number of inbox poll sweeps",
			},
		),

		MessagesInspected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_messages_inspected_total",
				Help: "Total number of inbox messages inspected",
			},
		),

		CodesExtracted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_codes_extracted_total",
				Help: "Total number of verification codes extracted",
			},
		),

		ProviderErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_provider_errors_total",
				Help: "Total number of mail provider errors",
			},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		SessionsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "otpbot_sessions_total",
				Help: "Number of known chat sessions",
			},
		),

		TransportCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpbot_transport_calls_total",
				Help: "Total number of chat transport API calls",
			},
			[]string{"method", "status"},
		),

		CheckerRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_checker_requests_total",
				Help: "Total number of account checker requests",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "otpbot_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// Handler 返回 Prometheus 指标的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
