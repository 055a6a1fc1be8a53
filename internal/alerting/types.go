package alerting

import (
	"fmt"
	"strings"
	"time"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity 未知级别直接拒绝
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(s)) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("未知的告警级别: %q", s)
}

func (s Severity) valid() bool {
	_, err := ParseSeverity(string(s))
	return err == nil
}

// AlertStatus 告警状态
type AlertStatus string

const (
	StatusActive   AlertStatus = "active"
	StatusResolved AlertStatus = "resolved"
)

// Alert 以 (ID, Severity) 为键，同一键同时最多一个活跃告警
type Alert struct {
	ID          string                 `json:"id"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	FirstSeen   time.Time              `json:"firstSeen"`
	LastSeen    time.Time              `json:"lastSeen"`
	Occurrences int                    `json:"occurrences"`
	Status      AlertStatus            `json:"status"`
	Escalated   bool                   `json:"escalated"`
	ResolvedAt  *time.Time             `json:"resolvedAt,omitempty"`

	notifiedAt []time.Time
}

// Key 告警复合键
func (a *Alert) Key() string {
	return alertKey(a.ID, a.Severity)
}

func alertKey(id string, sev Severity) string {
	return id + ":" + string(sev)
}

// Event 历史事件类型
type Event string

const (
	EventTriggered Event = "triggered"
	EventRepeated  Event = "repeated"
	EventEscalated Event = "escalated"
	EventResolved  Event = "resolved"
	EventExpired   Event = "expired"
)

// HistoryEntry 告警历史
type HistoryEntry struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alertId"`
	Severity    Severity  `json:"severity"`
	Event       Event     `json:"event"`
	Message     string    `json:"message"`
	Occurrences int       `json:"occurrences"`
	Notified    bool      `json:"notified"`
	Delivered   []string  `json:"delivered,omitempty"`
	Failed      []string  `json:"failed,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChannelStats 单个通道的投递统计
type ChannelStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Stats 告警服务统计
type Stats struct {
	ActiveAlerts        int                     `json:"activeAlerts"`
	ActiveBySeverity    map[Severity]int        `json:"activeBySeverity"`
	TotalTriggered      int64                   `json:"totalTriggered"`
	TotalSuppressed     int64                   `json:"totalSuppressed"`
	TotalNotifications  int64                   `json:"totalNotifications"`
	FailedNotifications int64                   `json:"failedNotifications"`
	SuppressedKeys      int                     `json:"suppressedKeys"`
	HistorySize         int                     `json:"historySize"`
	Channels            map[string]ChannelStats `json:"channels"`
}
