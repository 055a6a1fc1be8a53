// Package alerting 告警去重、抑制、按级别升级与多通道投递
package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"academyops/pkg/core/config"
	"academyops/pkg/notifier"
	"academyops/pkg/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultEscalation 各级别投递的通道类别
var defaultEscalation = map[Severity][]notifier.ChannelKind{
	SeverityCritical: {notifier.KindChat, notifier.KindEmail, notifier.KindSMS, notifier.KindPager},
	SeverityWarning:  {notifier.KindChat, notifier.KindEmail},
	SeverityInfo:     {notifier.KindChat},
}

// Observer 告警计数回调，用于导出指标
type Observer interface {
	ObserveAlert(severity string)
}

// Config 告警服务配置
type Config struct {
	Alert     config.AlertConfig
	Notifiers []notifier.Notifier
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	Observer  Observer
	Clock     func() time.Time
}

// Service 告警服务
type Service struct {
	cfg        config.AlertConfig
	notifiers  []notifier.Notifier
	escalation map[Severity][]notifier.ChannelKind
	scheduler  *scheduler.Scheduler
	logger     *zap.Logger
	observer   Observer
	now        func() time.Time
	task       *scheduler.Task

	mu         sync.Mutex
	active     map[string]*Alert
	suppressed map[string]time.Time
	history    []HistoryEntry
	stats      Stats
}

func NewService(c Config) *Service {
	cfg := c.Alert.WithDefaults()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	s := &Service{
		cfg:        cfg,
		notifiers:  c.Notifiers,
		escalation: buildEscalation(cfg.Escalation),
		scheduler:  c.Scheduler,
		logger:     logger.Named("alerting"),
		observer:   c.Observer,
		now:        now,
		active:     make(map[string]*Alert),
		suppressed: make(map[string]time.Time),
		stats: Stats{
			Channels: make(map[string]ChannelStats),
		},
	}

	s.task = scheduler.NewIntervalTask("alert-cleanup", time.Now().Add(time.Hour), time.Hour,
		scheduler.TaskExecuteModeLocal, time.Minute, func(ctx context.Context) error {
			s.CleanupAlerts()
			return nil
		})
	return s
}

// buildEscalation 配置中的规则覆盖默认规则
func buildEscalation(overrides map[string][]string) map[Severity][]notifier.ChannelKind {
	rules := make(map[Severity][]notifier.ChannelKind, len(defaultEscalation))
	for sev, kinds := range defaultEscalation {
		rules[sev] = kinds
	}
	for sev, kinds := range overrides {
		severity, err := ParseSeverity(sev)
		if err != nil {
			continue
		}
		converted := make([]notifier.ChannelKind, 0, len(kinds))
		for _, k := range kinds {
			converted = append(converted, notifier.ChannelKind(k))
		}
		rules[severity] = converted
	}
	return rules
}

// Start 注册每小时一次的清理任务
func (s *Service) Start() error {
	s.logger.Info("启动告警服务", zap.Int("channels", len(s.notifiers)))
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.AddTask(s.task)
}

// Stop 可重复调用
func (s *Service) Stop() error {
	if s.scheduler != nil {
		s.scheduler.RemoveTask(s.task.ID)
	}
	return nil
}

// TriggerAlert 触发告警
//
// 同一键已活跃时只累加次数；每个键每小时最多投递 MaxAlertsPerHour 次，超出后只计数。
// warning 告警累计次数达到升级阈值时升级一次，按 critical 的通道投递。
func (s *Service) TriggerAlert(alertID string, severity Severity, data map[string]interface{}) error {
	if alertID == "" {
		return fmt.Errorf("告警ID不能为空")
	}
	if !severity.valid() {
		return fmt.Errorf("未知的告警级别: %q", severity)
	}

	key := alertKey(alertID, severity)
	now := s.now()

	s.mu.Lock()
	if until, ok := s.suppressed[key]; ok {
		if now.Before(until) {
			s.stats.TotalSuppressed++
			s.mu.Unlock()
			return nil
		}
		delete(s.suppressed, key)
	}

	s.stats.TotalTriggered++
	event := EventTriggered
	alert, exists := s.active[key]
	if exists {
		event = EventRepeated
		alert.Occurrences++
		alert.LastSeen = now
		if data != nil {
			alert.Data = data
		}
	} else {
		alert = &Alert{
			ID:          alertID,
			Severity:    severity,
			Message:     messageOf(alertID, data),
			Data:        data,
			FirstSeen:   now,
			LastSeen:    now,
			Occurrences: 1,
			Status:      StatusActive,
		}
		s.active[key] = alert
	}

	deliverAs := severity
	if severity == SeverityWarning && !alert.Escalated && alert.Occurrences >= s.cfg.EscalationThreshold {
		alert.Escalated = true
		event = EventEscalated
		deliverAs = SeverityCritical
	}

	notify := event == EventEscalated || s.allowNotification(alert, now)
	if notify {
		alert.notifiedAt = append(alert.notifiedAt, now)
	}
	snapshot := *alert
	snapshot.notifiedAt = nil
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveAlert(string(severity))
	}

	var delivered, failed []string
	if notify {
		delivered, failed = s.deliver(s.buildNotification(&snapshot, deliverAs, false), deliverAs, false)
	} else {
		s.logger.Debug("告警已达到每小时上限，仅计数",
			zap.String("alert", key), zap.Int("occurrences", snapshot.Occurrences))
	}

	s.appendHistory(HistoryEntry{
		AlertID:     alertID,
		Severity:    severity,
		Event:       event,
		Message:     snapshot.Message,
		Occurrences: snapshot.Occurrences,
		Notified:    notify,
		Delivered:   delivered,
		Failed:      failed,
		Timestamp:   now,
	})
	return nil
}

// allowNotification 最近一小时内该键的投递次数是否未达上限，调用方持有锁
func (s *Service) allowNotification(a *Alert, now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := a.notifiedAt[:0]
	for _, t := range a.notifiedAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.notifiedAt = kept
	return len(kept) < s.cfg.MaxAlertsPerHour
}

func messageOf(alertID string, data map[string]interface{}) string {
	if msg, ok := data["message"].(string); ok && msg != "" {
		return msg
	}
	return alertID
}

// SuppressAlert 在 duration 内忽略该键的触发，duration <= 0 时使用默认值
func (s *Service) SuppressAlert(alertID string, severity Severity, duration time.Duration) error {
	if !severity.valid() {
		return fmt.Errorf("未知的告警级别: %q", severity)
	}
	if duration <= 0 {
		duration = s.cfg.SuppressionDefault
	}

	key := alertKey(alertID, severity)
	until := s.now().Add(duration)

	s.mu.Lock()
	s.suppressed[key] = until
	s.mu.Unlock()

	time.AfterFunc(duration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// 期间可能被重新抑制，只删除自己设置的那一次
		if cur, ok := s.suppressed[key]; ok && cur.Equal(until) {
			delete(s.suppressed, key)
		}
	})

	s.logger.Info("告警已抑制", zap.String("alert", key), zap.Duration("duration", duration))
	return nil
}

// IsSuppressed 键是否处于抑制期
func (s *Service) IsSuppressed(alertID string, severity Severity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.suppressed[alertKey(alertID, severity)]
	return ok && s.now().Before(until)
}

// ResolveAlert 解除活跃告警并发送恢复通知，键不存在时返回 false
func (s *Service) ResolveAlert(alertID string, severity Severity) bool {
	key := alertKey(alertID, severity)
	now := s.now()

	s.mu.Lock()
	alert, ok := s.active[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.active, key)
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	snapshot := *alert
	snapshot.notifiedAt = nil
	s.mu.Unlock()

	delivered, failed := s.deliver(s.buildNotification(&snapshot, severity, true), severity, true)
	s.appendHistory(HistoryEntry{
		AlertID:     alertID,
		Severity:    severity,
		Event:       EventResolved,
		Message:     snapshot.Message,
		Occurrences: snapshot.Occurrences,
		Notified:    len(delivered)+len(failed) > 0,
		Delivered:   delivered,
		Failed:      failed,
		Timestamp:   now,
	})
	s.logger.Info("告警已恢复", zap.String("alert", key), zap.Int("occurrences", snapshot.Occurrences))
	return true
}

// CleanupAlerts 清理超过保留期的历史；超过保留期未再出现的活跃告警按过期处理并记录
func (s *Service) CleanupAlerts() {
	now := s.now()
	cutoff := now.Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for key, alert := range s.active {
		if alert.LastSeen.Before(cutoff) {
			delete(s.active, key)
			expired++
			s.appendHistoryLocked(HistoryEntry{
				AlertID:     alert.ID,
				Severity:    alert.Severity,
				Event:       EventExpired,
				Message:     alert.Message,
				Occurrences: alert.Occurrences,
				Timestamp:   now,
			})
		}
	}

	kept := s.history[:0]
	for _, h := range s.history {
		if !h.Timestamp.Before(cutoff) {
			kept = append(kept, h)
		}
	}
	dropped := len(s.history) - len(kept)
	s.history = kept

	for key, until := range s.suppressed {
		if !now.Before(until) {
			delete(s.suppressed, key)
		}
	}

	if expired > 0 || dropped > 0 {
		s.logger.Info("告警清理完成", zap.Int("expired", expired), zap.Int("historyDropped", dropped))
	}
}

// GetActiveAlerts 活跃告警快照，按首次出现时间排序
func (s *Service) GetActiveAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.active))
	for _, a := range s.active {
		cp := *a
		cp.notifiedAt = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// GetAlert 按键查询活跃告警
func (s *Service) GetAlert(alertID string, severity Severity) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[alertKey(alertID, severity)]
	if !ok {
		return Alert{}, false
	}
	cp := *a
	cp.notifiedAt = nil
	return cp, true
}

// HasRecentCritical window 内是否出现过仍未恢复的 critical 告警
func (s *Service) HasRecentCritical(window time.Duration) bool {
	cutoff := s.now().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.active {
		if a.Severity == SeverityCritical && a.LastSeen.After(cutoff) {
			return true
		}
	}
	return false
}

// GetHistory 最近 limit 条历史，新的在前；limit <= 0 返回全部
func (s *Service) GetHistory(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// GetStats 统计信息副本
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.ActiveAlerts = len(s.active)
	st.ActiveBySeverity = make(map[Severity]int)
	for _, a := range s.active {
		st.ActiveBySeverity[a.Severity]++
	}
	st.SuppressedKeys = len(s.suppressed)
	st.HistorySize = len(s.history)
	st.Channels = make(map[string]ChannelStats, len(s.stats.Channels))
	for k, v := range s.stats.Channels {
		st.Channels[k] = v
	}
	return st
}

func (s *Service) appendHistory(h HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistoryLocked(h)
}

func (s *Service) appendHistoryLocked(h HistoryEntry) {
	h.ID = uuid.New().String()
	s.history = append(s.history, h)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}
