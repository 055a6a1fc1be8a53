package dto

import (
	"time"

	"academyops/internal/alerting"
	"academyops/internal/backup"
	"academyops/internal/logging"
	"academyops/internal/performance"
	"academyops/internal/uptime"
)

// MemoryInfo 进程内存概况
type MemoryInfo struct {
	AllocMB    float64 `json:"allocMb" comment:"堆上已分配内存(MB)"`
	SysMB      float64 `json:"sysMb" comment:"向系统申请的内存(MB)"`
	Goroutines int     `json:"goroutines" comment:"协程数"`
	NumGC      uint32  `json:"numGc" comment:"GC 次数"`
}

// BasicHealth 基础健康信息
type BasicHealth struct {
	Status    string     `json:"status" comment:"固定为 ok"`
	Timestamp time.Time  `json:"timestamp" comment:"响应时间"`
	Uptime    float64    `json:"uptime" comment:"进程运行秒数"`
	Version   string     `json:"version,omitempty" comment:"版本号"`
	Memory    MemoryInfo `json:"memory" comment:"内存概况"`
}

// LiveStatus 存活探针
type LiveStatus struct {
	Status    string    `json:"status" comment:"固定为 alive"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

// DependencyCheck 单个依赖的检查结果
type DependencyCheck struct {
	Status    string  `json:"status" comment:"ok/failed/skipped"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latencyMs"`
}

// ReadyStatus 就绪探针
type ReadyStatus struct {
	Ready       bool                       `json:"ready"`
	Status      string                     `json:"status" comment:"ready/not_ready"`
	Reason      string                     `json:"reason,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
	Performance string                     `json:"performance" comment:"性能健康状态"`
	Checks      map[string]DependencyCheck `json:"checks"`
}

// AlertOverview 告警概况
type AlertOverview struct {
	Active     int             `json:"active"`
	Critical   int             `json:"critical"`
	BySeverity map[string]int  `json:"bySeverity"`
	Stats      *alerting.Stats `json:"stats,omitempty"`
}

// DetailedHealth 汇总各组件的详细健康信息
type DetailedHealth struct {
	Status      string                   `json:"status" comment:"healthy/warning/degraded/critical"`
	Reason      string                   `json:"reason,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
	Uptime      float64                  `json:"uptime"`
	Version     string                   `json:"version,omitempty"`
	Environment string                   `json:"environment,omitempty"`
	Memory      MemoryInfo               `json:"memory"`
	Performance performance.HealthStatus `json:"performance"`
	Services    *uptime.SystemStatus     `json:"services,omitempty" comment:"可用性监控"`
	Backup      *backup.ServiceStatus    `json:"backup,omitempty"`
	Logging     *logging.Stats           `json:"logging,omitempty"`
	Alerts      *AlertOverview           `json:"alerts,omitempty"`
}

// UptimeReport 可用性详情
type UptimeReport struct {
	System    uptime.SystemStatus `json:"system"`
	Incidents []uptime.Incident   `json:"incidents"`
}

// AlertReport 告警详情
type AlertReport struct {
	Active  []alerting.Alert        `json:"active"`
	Stats   alerting.Stats          `json:"stats"`
	History []alerting.HistoryEntry `json:"history"`
}
