package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Exporter 将请求、查询与外部调用同步到 Prometheus
type Exporter struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queryDuration   *prometheus.HistogramVec
	externalCalls   *prometheus.CounterVec
	externalLatency *prometheus.HistogramVec
	alerts          *prometheus.CounterVec
}

// NewExporter 使用独立的 prometheus.Registry，避免污染全局默认注册表
func NewExporter(namespace string) *Exporter {
	reg := prometheus.NewRegistry()
	e := &Exporter{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "数据库查询耗时",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 3, 10},
		}, []string{"slow"}),
		externalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "外部服务调用与探测次数",
		}, []string{"service", "success"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_request_duration_seconds",
			Help:      "外部服务调用与探测耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "告警触发次数",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		e.requests, e.requestDuration, e.queryDuration,
		e.externalCalls, e.externalLatency, e.alerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Gatherer 供 /metrics 使用
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}

func (e *Exporter) ObserveRequest(method, path string, statusCode int, durationMs float64) {
	e.requests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	e.requestDuration.WithLabelValues(method, path).Observe(durationMs / 1000)
}

func (e *Exporter) ObserveQuery(durationMs float64, slow bool) {
	e.queryDuration.WithLabelValues(strconv.FormatBool(slow)).Observe(durationMs / 1000)
}

func (e *Exporter) ObserveExternal(service string, success bool, durationMs float64) {
	e.externalCalls.WithLabelValues(service, strconv.FormatBool(success)).Inc()
	e.externalLatency.WithLabelValues(service).Observe(durationMs / 1000)
}

func (e *Exporter) ObserveAlert(severity string) {
	e.alerts.WithLabelValues(severity).Inc()
}
