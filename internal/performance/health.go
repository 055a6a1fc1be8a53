package performance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"academyops/internal/metrics"
)

// HealthStatus 性能健康状态
type HealthStatus struct {
	Status      string        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	System      *SystemSample `json:"system,omitempty"`
	Application *AppSample    `json:"application,omitempty"`
}

// GetHealthStatus 按优先级依次判断，命中第一条即返回：
// 近期有 critical 告警 → critical；错误率或平均响应超过 warning 阈值 → degraded；
// 慢请求比例过高 → warning；否则 healthy。
func (m *Monitor) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	sys, app := m.lastSystem, m.lastApp
	m.mu.RUnlock()

	if app == nil {
		live := m.buildAppSample(m.cfg.ApplicationInterval)
		app = &live
	}

	h := HealthStatus{Timestamp: time.Now(), System: sys, Application: app}
	switch {
	case m.alerter != nil && m.alerter.HasRecentCritical(m.cfg.CriticalWindow):
		h.Status = StatusCritical
		h.Reason = fmt.Sprintf("最近%s内存在critical告警", m.cfg.CriticalWindow)
	case app.ErrorRate > m.thresholds.ErrorRate.Warning:
		h.Status = StatusDegraded
		h.Reason = fmt.Sprintf("错误率 %.2f%% 超过 %.2f%%", app.ErrorRate, m.thresholds.ErrorRate.Warning)
	case app.AvgResponseTime > m.thresholds.ResponseTime.Warning:
		h.Status = StatusDegraded
		h.Reason = fmt.Sprintf("平均响应 %.0fms 超过 %.0fms", app.AvgResponseTime, m.thresholds.ResponseTime.Warning)
	case app.SlowRate > m.cfg.SlowRateWarning:
		h.Status = StatusWarning
		h.Reason = fmt.Sprintf("慢请求比例 %.2f%% 超过 %.2f%%", app.SlowRate, m.cfg.SlowRateWarning)
	default:
		h.Status = StatusHealthy
	}
	return h
}

// Timeframes 汇总接口的常用时间窗口
var Timeframes = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
}

// ParseTimeframe 空串默认 1h。除常用窗口外也接受 time.ParseDuration 格式和按天的 "7d"，
// 窗口不能超过 maxAge，更早的指标已被清理；maxAge 未设置时按 24h。
func ParseTimeframe(s string, maxAge time.Duration) (time.Duration, error) {
	if s == "" {
		return time.Hour, nil
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	d, ok := Timeframes[s]
	if !ok {
		var err error
		if d, err = parseWindow(s); err != nil {
			return 0, fmt.Errorf("不支持的时间窗口: %s，示例 5m|1h|6h|2d", s)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("不支持的时间窗口: %s，必须大于 0", s)
	}
	if d > maxAge {
		return 0, fmt.Errorf("不支持的时间窗口: %s，最长 %s", s, maxAge)
	}
	return d, nil
}

func parseWindow(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}

// SystemStats 窗口内系统采样的均值与峰值
type SystemStats struct {
	Samples          int     `json:"samples"`
	AvgCPUPercent    float64 `json:"avgCpuPercent"`
	MaxCPUPercent    float64 `json:"maxCpuPercent"`
	AvgMemoryPercent float64 `json:"avgMemoryPercent"`
	MaxMemoryPercent float64 `json:"maxMemoryPercent"`
	MaxRSSMB         float64 `json:"maxRssMb"`
	MaxGoroutines    float64 `json:"maxGoroutines"`
}

// Summary 任意时间窗口的性能汇总
type Summary struct {
	Timeframe string          `json:"timeframe"`
	Status    string          `json:"status"`
	Requests  metrics.Summary `json:"requests"`
	Queries   metrics.Summary `json:"queries"`
	External  metrics.Summary `json:"external"`
	System    SystemStats     `json:"system"`
	Latest    *SystemSample   `json:"latest,omitempty"`
}

// GetSummary 汇总窗口内的请求、查询、外部调用与系统采样
func (m *Monitor) GetSummary(timeframe time.Duration) Summary {
	s := Summary{
		Timeframe: timeframe.String(),
		Status:    m.GetHealthStatus().Status,
		Requests:  m.registry.Summarize(metrics.CategoryAPIRequests, timeframe),
		Queries:   m.registry.Summarize(metrics.CategoryDatabaseQueries, timeframe),
		External:  m.registry.Summarize(metrics.CategoryExternalAPIs, timeframe),
		System:    systemStats(m.registry.Query(metrics.CategorySystem, timeframe)),
	}
	m.mu.RLock()
	s.Latest = m.lastSystem
	m.mu.RUnlock()
	return s
}

func systemStats(records []metrics.Record) SystemStats {
	var st SystemStats
	if len(records) == 0 {
		return st
	}
	var cpuSum, memSum float64
	for _, r := range records {
		cpu, memPct := r.Value("cpu_percent"), r.Value("memory_percent")
		cpuSum += cpu
		memSum += memPct
		st.MaxCPUPercent = max(st.MaxCPUPercent, cpu)
		st.MaxMemoryPercent = max(st.MaxMemoryPercent, memPct)
		st.MaxRSSMB = max(st.MaxRSSMB, r.Value("rss_mb"))
		st.MaxGoroutines = max(st.MaxGoroutines, r.Value("goroutines"))
	}
	st.Samples = len(records)
	st.AvgCPUPercent = cpuSum / float64(len(records))
	st.AvgMemoryPercent = memSum / float64(len(records))
	return st
}

// LatestSystem 最近一次系统采样
func (m *Monitor) LatestSystem() (SystemSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSystem == nil {
		return SystemSample{}, false
	}
	return *m.lastSystem, true
}
