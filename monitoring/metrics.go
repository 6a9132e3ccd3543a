// Package monitoring 提供Prometheus指标
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scorecard"

// Registry 服务专用的指标注册表
var Registry = prometheus.NewRegistry()

var (
	// HTTPRequestsTotal 按方法、路由和状态码统计请求数
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration 请求耗时
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal 按风险等级统计评分次数
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Scored applications by risk level.",
		},
		[]string{"risk_level"},
	)

	// PredictionErrorsTotal 评分失败次数
	PredictionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Failed predictions by reason.",
		},
		[]string{"reason"},
	)

	// EncoderFallbacksTotal WOE查找未命中、使用中性值的次数
	EncoderFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoder_fallbacks_total",
			Help:      "WOE lookups that fell back to the neutral value, by feature.",
		},
		[]string{"feature"},
	)

	// ModelReloadsTotal 模型热加载结果
	ModelReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Model bundle reload attempts by result.",
		},
		[]string{"result"},
	)

	// CacheHitsTotal 结果缓存命中次数
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Prediction responses served from the result cache.",
		},
	)

	// ActiveWebSocketClients 当前WebSocket连接数
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of connected scoring stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		PredictionErrorsTotal,
		EncoderFallbacksTotal,
		ModelReloadsTotal,
		CacheHitsTotal,
		ActiveWebSocketClients,
	)
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveRequest 记录一次HTTP请求
func ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordPrediction 记录一次成功评分
func RecordPrediction(riskLevel string) {
	PredictionsTotal.WithLabelValues(riskLevel).Inc()
}

// RecordPredictionError 记录一次评分失败
func RecordPredictionError(reason string) {
	PredictionErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordEncoderFallback 记录一次WOE回退
func RecordEncoderFallback(feature string) {
	EncoderFallbacksTotal.WithLabelValues(feature).Inc()
}

// RecordReload 记录模型热加载结果
func RecordReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	ModelReloadsTotal.WithLabelValues(result).Inc()
}

// RecordCacheHit 记录一次缓存命中
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}
