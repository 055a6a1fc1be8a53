// Package monitoring 接收 HTTP 层上报的请求、错误、数据库查询与外部调用事件
package monitoring

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"academyops/internal/alerting"
	"academyops/internal/logging"
	"academyops/internal/metrics"
	"academyops/pkg/core/config"
	"academyops/pkg/core/consts"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	AlertServerError = "server_error"
	AlertSlowQuery   = "slow_query"

	maxQueryText = 1000
)

// EventLogger 集中日志中用到的写入方法
type EventLogger interface {
	LogAccess(ctx context.Context, r logging.AccessRecord)
	LogError(ctx context.Context, err error, message string, metadata map[string]interface{})
	LogPerformance(ctx context.Context, operation string, durationMs float64, metadata map[string]interface{})
}

type Alerter interface {
	TriggerAlert(alertID string, severity alerting.Severity, data map[string]interface{}) error
}

// Config 监控入口配置
type Config struct {
	Performance config.PerformanceConfig
	Registry    *metrics.Registry
	Events      EventLogger
	Alerter     Alerter
	Logger      *zap.Logger
}

// Monitor 各类事件先写入指标登记表，再按规则写日志或告警
type Monitor struct {
	cfg      config.PerformanceConfig
	registry *metrics.Registry
	events   EventLogger
	alerter  Alerter
	logger   *zap.Logger
}

func NewMonitor(c Config) *Monitor {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:      c.Performance.WithDefaults(),
		registry: c.Registry,
		events:   c.Events,
		alerter:  c.Alerter,
		logger:   logger.Named("monitoring"),
	}
}

// RecordRequest 一次 HTTP 请求完成
func (m *Monitor) RecordRequest(method, path string, durationMs float64, statusCode int, userID string) {
	slow := durationMs >= m.cfg.SlowRequestMs
	labels := map[string]string{"method": method, "path": path}
	if userID != "" {
		labels["userId"] = userID
	}
	m.registry.Record(metrics.CategoryAPIRequests, metrics.Fields{
		Values: map[string]float64{
			metrics.FieldDuration:   durationMs,
			metrics.FieldStatusCode: float64(statusCode),
		},
		Flags: map[string]bool{
			metrics.FieldError: statusCode >= 500,
			metrics.FieldSlow:  slow,
		},
		Labels: labels,
	})
	if e := m.registry.Exporter(); e != nil {
		e.ObserveRequest(method, path, statusCode, durationMs)
	}

	if m.events != nil {
		m.events.LogAccess(context.Background(), logging.AccessRecord{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			DurationMs: durationMs,
			UserID:     userID,
		})
		if slow {
			m.events.LogPerformance(context.Background(), "slow_request", durationMs, map[string]interface{}{
				"method":    method,
				"path":      path,
				"threshold": m.cfg.SlowRequestMs,
			})
		}
	}
}

// ErrorContext 错误发生时的请求上下文
type ErrorContext struct {
	Method     string
	Path       string
	StatusCode int
	UserID     string
	RequestID  string
	Extra      map[string]interface{}
}

// RecordError 写入错误日志，5xx 触发 server_error 告警
func (m *Monitor) RecordError(err error, ec ErrorContext) {
	if err == nil {
		return
	}
	meta := map[string]interface{}{
		"method":     ec.Method,
		"path":       ec.Path,
		"statusCode": ec.StatusCode,
	}
	for k, v := range ec.Extra {
		meta[k] = v
	}
	if ec.UserID != "" {
		meta[logging.KeyUserID] = ec.UserID
	}
	ctx := context.Background()
	if ec.RequestID != "" {
		ctx = context.WithValue(ctx, consts.TraceKey, ec.RequestID)
		meta[logging.KeyRequestID] = ec.RequestID
	}
	if m.events != nil {
		m.events.LogError(ctx, err, "请求处理失败", meta)
	}

	if ec.StatusCode < 500 || m.alerter == nil {
		return
	}
	terr := m.alerter.TriggerAlert(AlertServerError, alerting.SeverityWarning, map[string]interface{}{
		"message":    "服务端错误: " + err.Error(),
		"method":     ec.Method,
		"path":       ec.Path,
		"statusCode": ec.StatusCode,
		"requestId":  ec.RequestID,
	})
	if terr != nil {
		m.logger.Warn("触发告警失败", zap.String("alert", AlertServerError), zap.Error(terr))
	}
}

// RecordHandlerError 供请求监控中间件调用
func (m *Monitor) RecordHandlerError(err error, method, path string, statusCode int, userID, requestID string) {
	m.RecordError(err, ErrorContext{
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		UserID:     userID,
		RequestID:  requestID,
	})
}

// QueryInfo 一次数据库操作
type QueryInfo struct {
	SQL          string
	Params       []interface{}
	DurationMs   float64
	Table        string
	Operation    string
	RowsAffected int64
	Caller       string
	TraceID      string
	Err          error
}

// RecordDatabaseQuery 一次数据库查询完成
func (m *Monitor) RecordDatabaseQuery(query string, params []interface{}, durationMs float64) {
	m.RecordQuery(context.Background(), QueryInfo{
		SQL:        query,
		Params:     params,
		DurationMs: durationMs,
		Operation:  operationOf(query),
	})
}

// RecordQuery 慢查询写性能日志并触发 slow_query 告警，记录不存在不算错误
func (m *Monitor) RecordQuery(ctx context.Context, q QueryInfo) {
	slow := q.DurationMs >= m.cfg.SlowQueryMs
	failed := q.Err != nil && !errors.Is(q.Err, gorm.ErrRecordNotFound)
	if q.Operation == "" {
		q.Operation = operationOf(q.SQL)
	}

	labels := map[string]string{"operation": q.Operation}
	if q.Table != "" {
		labels["table"] = q.Table
	}
	m.registry.Record(metrics.CategoryDatabaseQueries, metrics.Fields{
		Values: map[string]float64{
			metrics.FieldDuration: q.DurationMs,
			"rows_affected":       float64(q.RowsAffected),
		},
		Flags: map[string]bool{
			metrics.FieldError: failed,
			metrics.FieldSlow:  slow,
		},
		Labels: labels,
	})
	if e := m.registry.Exporter(); e != nil {
		e.ObserveQuery(q.DurationMs, slow)
	}

	if q.TraceID != "" {
		ctx = context.WithValue(ctx, consts.TraceKey, q.TraceID)
	}
	meta := map[string]interface{}{
		"query":      truncate(q.SQL, maxQueryText),
		"params":     len(q.Params),
		"operation":  q.Operation,
		"table":      q.Table,
		"durationMs": q.DurationMs,
	}
	if q.Caller != "" {
		meta["caller"] = q.Caller
	}

	if failed && m.events != nil {
		m.events.LogError(ctx, q.Err, "数据库操作失败", meta)
	}
	if !slow {
		return
	}

	m.logger.Warn("慢查询",
		zap.String("operation", q.Operation),
		zap.String("table", q.Table),
		zap.Float64("duration_ms", q.DurationMs),
		zap.String("caller", q.Caller))
	if m.events != nil {
		m.events.LogPerformance(ctx, AlertSlowQuery, q.DurationMs, meta)
	}
	if m.alerter != nil {
		err := m.alerter.TriggerAlert(AlertSlowQuery, alerting.SeverityWarning, map[string]interface{}{
			"message":    "慢查询: " + truncate(q.SQL, 200),
			"durationMs": q.DurationMs,
			"threshold":  m.cfg.SlowQueryMs,
			"table":      q.Table,
		})
		if err != nil {
			m.logger.Warn("触发告警失败", zap.String("alert", AlertSlowQuery), zap.Error(err))
		}
	}
}

// RecordExternalAPI 一次外部服务调用，状态码为 0 或 >= 400 记为失败
func (m *Monitor) RecordExternalAPI(service, url string, durationMs float64, statusCode int) {
	failed := statusCode == 0 || statusCode >= 400
	m.registry.Record(metrics.CategoryExternalAPIs, metrics.Fields{
		Values: map[string]float64{
			metrics.FieldDuration:   durationMs,
			metrics.FieldStatusCode: float64(statusCode),
		},
		Flags: map[string]bool{
			metrics.FieldError: failed,
			metrics.FieldSlow:  durationMs >= m.cfg.SlowRequestMs,
		},
		Labels: map[string]string{"service": service, "url": url},
	})
	if e := m.registry.Exporter(); e != nil {
		e.ObserveExternal(service, !failed, durationMs)
	}
}

// ExternalCall 计时并上报一次外部调用，fn 返回 HTTP 状态码
func (m *Monitor) ExternalCall(service, url string, fn func() (int, error)) error {
	start := time.Now()
	status, err := fn()
	m.RecordExternalAPI(service, url, float64(time.Since(start).Microseconds())/1000, status)
	return err
}

func operationOf(sql string) string {
	s := strings.TrimSpace(sql)
	if i := strings.IndexAny(s, " \t\n("); i > 0 {
		s = s[:i]
	}
	switch op := strings.ToUpper(s); op {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "ANALYZE":
		return op
	}
	return "OTHER"
}

// truncate 按字节截断，截断点退回到字符边界
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
