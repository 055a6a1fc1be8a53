package uptime

import (
	"context"
	"time"
)

// Status 服务当前状态
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// CheckType 探测方式
type CheckType string

const (
	CheckHTTP     CheckType = "http"
	CheckInternal CheckType = "internal"
)

// 整体可用性
const (
	SystemOperational         = "operational"
	SystemDegradedPerformance = "degraded_performance"
	SystemPartialOutage       = "partial_outage"
	SystemMajorOutage         = "major_outage"
)

// CheckFunc 内部探测函数，返回错误即视为失败
type CheckFunc func(ctx context.Context) error

// Target 被监控的服务
type Target struct {
	ID     string    `json:"id" validate:"required"`
	Name   string    `json:"name" validate:"required"`
	Type   CheckType `json:"type" validate:"oneof=http internal"`
	URL    string    `json:"url,omitempty" validate:"required_if=Type http"`
	Method string    `json:"method,omitempty" validate:"omitempty,oneof=GET HEAD POST PUT OPTIONS"`

	Headers map[string]string `json:"headers,omitempty"`
	// ExpectedStatus 为空时接受 200-399
	ExpectedStatus    []int  `json:"expectedStatus,omitempty"`
	ExpectedBodyPath  string `json:"expectedBodyPath,omitempty"`
	ExpectedBodyValue string `json:"expectedBodyValue,omitempty"`

	Critical bool          `json:"critical"`
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	Check CheckFunc `json:"-"`
}

// CheckResult 一次探测结果
type CheckResult struct {
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"statusCode,omitempty"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// IncidentStatus 故障状态
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

// IncidentDetails 开启故障时最后一次失败的信息
type IncidentDetails struct {
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Incident 连续失败达到阈值时开启，连续成功达到阈值时关闭
type Incident struct {
	ID          string          `json:"id"`
	ServiceID   string          `json:"serviceId"`
	ServiceName string          `json:"serviceName"`
	Severity    string          `json:"severity"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	Status      IncidentStatus  `json:"status"`
	Description string          `json:"description"`
	Details     IncidentDetails `json:"details"`
}

// ServiceStatus 服务运行状态快照
type ServiceStatus struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Type                 CheckType  `json:"type"`
	Critical             bool       `json:"critical"`
	Enabled              bool       `json:"enabled"`
	Status               Status     `json:"status"`
	ConsecutiveSuccesses int        `json:"consecutiveSuccesses"`
	ConsecutiveFailures  int        `json:"consecutiveFailures"`
	LastCheck            *time.Time `json:"lastCheck,omitempty"`
	LastSuccess          *time.Time `json:"lastSuccess,omitempty"`
	LastFailure          *time.Time `json:"lastFailure,omitempty"`
	LastError            string     `json:"lastError,omitempty"`
	LastResponseTimeMs   float64    `json:"lastResponseTimeMs"`
	AvgResponseTimeMs    float64    `json:"avgResponseTimeMs"`
	UptimePercent        float64    `json:"uptimePercent"`
	TotalChecks          int        `json:"totalChecks"`
	CurrentIncident      *Incident  `json:"currentIncident,omitempty"`
}

// SystemStatus 所有启用服务的汇总
type SystemStatus struct {
	Status            string          `json:"status"`
	Timestamp         time.Time       `json:"timestamp"`
	Total             int             `json:"total"`
	Up                int             `json:"up"`
	Down              int             `json:"down"`
	Unknown           int             `json:"unknown"`
	AvgResponseTimeMs float64         `json:"avgResponseTimeMs"`
	OpenIncidents     int             `json:"openIncidents"`
	Services          []ServiceStatus `json:"services"`
}
