package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages sent",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	RateLimitDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limit_denials_total",
		Help: "Total number of rate limit denials by identifier",
	}, []string{"id"})

	BrokerProduceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broker_produce_total",
		Help: "Total number of broker produce attempts by topic and outcome",
	}, []string{"topic", "outcome"})
	BrokerConsumeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broker_consume_total",
		Help: "Total number of broker messages consumed by topic and outcome",
	}, []string{"topic", "outcome"})

	PipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_pipeline_stage_duration_seconds",
		Help:    "Pipeline stage processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	AnalyzerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_analyzer_failures_total",
		Help: "Total number of analyzer calls that fell back to the default verdict",
	})

	PresenceOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_presence_online_users",
		Help: "Current number of users marked online in the presence registry",
	})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsMessagesTotal, HttpRequestsTotal, HttpRequestDuration,
		RateLimitDenials, BrokerProduceTotal, BrokerConsumeTotal,
		PipelineStageDuration, AnalyzerFailuresTotal, PresenceOnline,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
