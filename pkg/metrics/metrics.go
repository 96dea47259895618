// Package metrics はGatewayのPrometheusメトリクスを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace はメトリクス名の接頭辞。
const namespace = "gateway"

// Collector はGatewayのメトリクスを保持する。
type Collector struct {
	registry *prometheus.Registry

	// requestsTotal はパスとステータスごとのリクエスト数。
	requestsTotal *prometheus.CounterVec
	// requestDuration はパスごとの処理時間。
	requestDuration *prometheus.HistogramVec
	// upstreamErrorsTotal はルートごとのバックエンド呼び出し失敗数。
	upstreamErrorsTotal *prometheus.CounterVec
	// authFailuresTotal は認証失敗数。
	authFailuresTotal prometheus.Counter
}

// NewCollector はメトリクスを生成してregistryに登録する。registryがnilなら新規に作る。
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled by the gateway",
			},
			[]string{"path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		upstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Total number of failed backend calls",
			},
			[]string{"route"},
		),
		authFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected authentication attempts",
			},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.upstreamErrorsTotal,
		c.authFailuresTotal,
	)
	return c
}

// ObserveRequest はリクエスト1件の結果を記録する。
// pathにはルーティング定義上のパスを渡し、ラベルの種類数を抑える。
func (c *Collector) ObserveRequest(path string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// IncUpstreamError はバックエンド呼び出しの失敗を記録する。
func (c *Collector) IncUpstreamError(route string) {
	c.upstreamErrorsTotal.WithLabelValues(route).Inc()
}

// IncAuthFailure は認証失敗を記録する。
func (c *Collector) IncAuthFailure() {
	c.authFailuresTotal.Inc()
}

// Handler は/metrics用のHTTPハンドラを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
