package app

import (
	"context"
	"runtime"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/backup"
	"academyops/internal/logging"
	"academyops/internal/maintenance"
	"academyops/internal/performance"
	"academyops/internal/uptime"
	errorc "academyops/pkg/core/err"
	"academyops/pkg/core/logger"
	"academyops/system/health/api/dto"

	"github.com/go-redis/cache/v9"
	"github.com/prometheus/client_golang/prometheus"
)

const detailedCacheKey = "health:detailed"

// PerformanceSource 性能监控
type PerformanceSource interface {
	GetHealthStatus() performance.HealthStatus
	GetSummary(timeframe time.Duration) performance.Summary
}

// UptimeSource 可用性监控
type UptimeSource interface {
	GetSystemStatus() uptime.SystemStatus
	GetIncidents() []uptime.Incident
}

type BackupSource interface {
	GetServiceStatus() backup.ServiceStatus
}

type LoggingSource interface {
	GetLoggingStats() logging.Stats
}

type AlertSource interface {
	GetActiveAlerts() []alerting.Alert
	GetStats() alerting.Stats
	GetHistory(limit int) []alerting.HistoryEntry
}

type MaintenanceSource interface {
	GetMaintenanceStatus() maintenance.ServiceStatus
}

// Check 依赖检查，返回错误即失败
type Check func(ctx context.Context) error

// Options 未启用的组件留空即可
type Options struct {
	Version     string
	Environment string
	StartTime   time.Time

	Performance PerformanceSource
	// MaxTimeframe 性能汇总允许的最长窗口，与指标保留时长一致
	MaxTimeframe time.Duration
	Uptime       UptimeSource
	Backup       BackupSource
	Logging      LoggingSource
	Alerts       AlertSource
	Maintenance  MaintenanceSource

	DatabaseCheck func(ctx context.Context) error
	RedisCheck    func(ctx context.Context) error
	CheckTimeout  time.Duration

	// Cache 详细健康信息的短期缓存，为空时每次实时计算
	Cache    *cache.Cache
	CacheTTL time.Duration

	Gatherer prometheus.Gatherer
}

// App 健康检查应用
type App struct {
	opts Options
	log  *logger.Log
	err  *errorc.ErrorBuilder
}

func NewApp(opts Options) *App {
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 3 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	return &App{
		opts: opts,
		log:  logger.GetLogger().WithEntryName("HealthApp"),
		err:  errorc.NewErrorBuilder("HealthApp"),
	}
}

func (a *App) Gatherer() prometheus.Gatherer {
	return a.opts.Gatherer
}

func (a *App) uptimeSeconds() float64 {
	return time.Since(a.opts.StartTime).Seconds()
}

func memoryInfo() dto.MemoryInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return dto.MemoryInfo{
		AllocMB:    float64(ms.Alloc) / 1024 / 1024,
		SysMB:      float64(ms.Sys) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      ms.NumGC,
	}
}

// Basic 进程级基础信息，不依赖任何组件
func (a *App) Basic() dto.BasicHealth {
	return dto.BasicHealth{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    a.uptimeSeconds(),
		Version:   a.opts.Version,
		Memory:    memoryInfo(),
	}
}

func (a *App) Live() dto.LiveStatus {
	return dto.LiveStatus{Status: "alive", Timestamp: time.Now(), Uptime: a.uptimeSeconds()}
}

// severityRank 数值越大越严重
var severityRank = map[string]int{
	performance.StatusHealthy:  0,
	performance.StatusWarning:  1,
	performance.StatusDegraded: 2,
	performance.StatusCritical: 3,
}

// uptimeLevel 可用性状态映射到健康等级
func uptimeLevel(status string) string {
	switch status {
	case uptime.SystemMajorOutage:
		return performance.StatusCritical
	case uptime.SystemPartialOutage:
		return performance.StatusDegraded
	case uptime.SystemDegradedPerformance:
		return performance.StatusWarning
	default:
		return performance.StatusHealthy
	}
}

// Detailed 返回汇总信息与是否处于 critical，结果在 CacheTTL 内复用
func (a *App) Detailed(ctx context.Context) (dto.DetailedHealth, error) {
	if a.opts.Cache == nil {
		return a.buildDetailed(), nil
	}

	var out dto.DetailedHealth
	err := a.opts.Cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   detailedCacheKey,
		Value: &out,
		TTL:   a.opts.CacheTTL,
		Do: func(*cache.Item) (interface{}, error) {
			return a.buildDetailed(), nil
		},
	})
	if err != nil {
		// 缓存异常时降级为实时计算
		a.log.WithErr(err).Warn("读取健康信息缓存失败")
		return a.buildDetailed(), nil
	}
	return out, nil
}

func (a *App) buildDetailed() dto.DetailedHealth {
	h := dto.DetailedHealth{
		Status:      performance.StatusHealthy,
		Timestamp:   time.Now(),
		Uptime:      a.uptimeSeconds(),
		Version:     a.opts.Version,
		Environment: a.opts.Environment,
		Memory:      memoryInfo(),
	}

	if a.opts.Performance != nil {
		h.Performance = a.opts.Performance.GetHealthStatus()
		h.Status = h.Performance.Status
		h.Reason = h.Performance.Reason
	}
	if a.opts.Uptime != nil {
		sys := a.opts.Uptime.GetSystemStatus()
		h.Services = &sys
		if lvl := uptimeLevel(sys.Status); severityRank[lvl] > severityRank[h.Status] {
			h.Status = lvl
			h.Reason = "服务可用性: " + sys.Status
		}
	}
	if a.opts.Backup != nil {
		st := a.opts.Backup.GetServiceStatus()
		h.Backup = &st
	}
	if a.opts.Logging != nil {
		st := a.opts.Logging.GetLoggingStats()
		h.Logging = &st
	}
	if a.opts.Alerts != nil {
		stats := a.opts.Alerts.GetStats()
		ov := &dto.AlertOverview{
			Active:     stats.ActiveAlerts,
			Critical:   stats.ActiveBySeverity[alerting.SeverityCritical],
			BySeverity: make(map[string]int, len(stats.ActiveBySeverity)),
			Stats:      &stats,
		}
		for sev, n := range stats.ActiveBySeverity {
			ov.BySeverity[string(sev)] = n
		}
		h.Alerts = ov
	}
	return h
}

// IsCritical 详细健康信息是否需要返回 503
func IsCritical(h dto.DetailedHealth) bool {
	return h.Status == performance.StatusCritical
}

func (a *App) runCheck(ctx context.Context, check Check) dto.DependencyCheck {
	if check == nil {
		return dto.DependencyCheck{Status: "skipped"}
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := dto.DependencyCheck{Status: "ok", LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
	}
	return res
}

// Ready 数据库不可用或性能处于 critical 时未就绪，Redis 只做展示
func (a *App) Ready(ctx context.Context) dto.ReadyStatus {
	st := dto.ReadyStatus{
		Ready:       true,
		Status:      "ready",
		Timestamp:   time.Now(),
		Performance: performance.StatusHealthy,
		Checks: map[string]dto.DependencyCheck{
			"database": a.runCheck(ctx, a.opts.DatabaseCheck),
			"redis":    a.runCheck(ctx, a.opts.RedisCheck),
		},
	}
	if a.opts.Performance != nil {
		st.Performance = a.opts.Performance.GetHealthStatus().Status
	}

	switch {
	case st.Checks["database"].Status == "failed":
		st.Ready = false
		st.Reason = "数据库不可用"
	case st.Performance == performance.StatusCritical:
		st.Ready = false
		st.Reason = "性能状态为 critical"
	}
	if !st.Ready {
		st.Status = "not_ready"
		a.log.WithField("reason", st.Reason).Warn("就绪检查未通过")
	}
	return st
}

// Performance timeframe 为空时默认 1h
func (a *App) Performance(timeframe string) (performance.Summary, error) {
	if a.opts.Performance == nil {
		return performance.Summary{}, a.err.Unavailable("性能监控未启用")
	}
	d, err := performance.ParseTimeframe(timeframe, a.opts.MaxTimeframe)
	if err != nil {
		return performance.Summary{}, a.err.BadRequest(err.Error())
	}
	return a.opts.Performance.GetSummary(d), nil
}

func (a *App) Uptime() (dto.UptimeReport, error) {
	if a.opts.Uptime == nil {
		return dto.UptimeReport{}, a.err.Unavailable("可用性监控未启用")
	}
	return dto.UptimeReport{
		System:    a.opts.Uptime.GetSystemStatus(),
		Incidents: a.opts.Uptime.GetIncidents(),
	}, nil
}

func (a *App) Backup() (backup.ServiceStatus, error) {
	if a.opts.Backup == nil {
		return backup.ServiceStatus{}, a.err.Unavailable("备份服务未启用")
	}
	return a.opts.Backup.GetServiceStatus(), nil
}

func (a *App) Logging() (logging.Stats, error) {
	if a.opts.Logging == nil {
		return logging.Stats{}, a.err.Unavailable("日志服务未启用")
	}
	return a.opts.Logging.GetLoggingStats(), nil
}

// Alerts limit 为历史记录条数
func (a *App) Alerts(limit int) (dto.AlertReport, error) {
	if a.opts.Alerts == nil {
		return dto.AlertReport{}, a.err.Unavailable("告警服务未启用")
	}
	return dto.AlertReport{
		Active:  a.opts.Alerts.GetActiveAlerts(),
		Stats:   a.opts.Alerts.GetStats(),
		History: a.opts.Alerts.GetHistory(limit),
	}, nil
}

func (a *App) Maintenance() (maintenance.ServiceStatus, error) {
	if a.opts.Maintenance == nil {
		return maintenance.ServiceStatus{}, a.err.Unavailable("维护调度未启用")
	}
	return a.opts.Maintenance.GetMaintenanceStatus(), nil
}
