// Package uptime 周期性探测依赖服务，维护每个服务的可用性状态与故障记录
package uptime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/metrics"
	"academyops/pkg/core/config"
	"academyops/pkg/scheduler"
	"academyops/utils"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	// 每个服务保留的探测记录上限，与时间窗口同时生效
	maxHistory = 5000
	// 已关闭故障的保留数量
	maxIncidents = 200

	alertPrefix = "service_down:"
)

var (
	ErrServiceNotFound = errors.New("服务不存在")
	ErrServiceExists   = errors.New("服务已存在")
	ErrCheckInProgress = errors.New("上一次探测尚未结束")
)

// Alerter 告警服务中可用性监控用到的部分
type Alerter interface {
	TriggerAlert(alertID string, severity alerting.Severity, data map[string]interface{}) error
	ResolveAlert(alertID string, severity alerting.Severity) bool
}

// AuditLogger 故障开启与关闭写入审计日志
type AuditLogger interface {
	LogAudit(ctx context.Context, action, resource string, metadata map[string]interface{})
}

// Config 可用性监控配置
type Config struct {
	Uptime    config.UptimeConfig
	Alerter   Alerter
	Audit     AuditLogger
	Registry  *metrics.Registry
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	Client    *fasthttp.Client
	Clock     func() time.Time
}

type service struct {
	target Target
	// checking 保证同一服务的探测串行
	checking sync.Mutex

	status               Status
	consecutiveSuccesses int
	consecutiveFailures  int
	lastCheck            time.Time
	lastSuccess          time.Time
	lastFailure          time.Time
	lastError            string
	lastResponseMs       float64
	history              []CheckResult
	incident             *Incident
}

// Monitor 可用性监控
type Monitor struct {
	cfg       config.UptimeConfig
	alerter   Alerter
	audit     AuditLogger
	registry  *metrics.Registry
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	client    *fasthttp.Client
	now       func() time.Time
	task      *scheduler.Task

	mu        sync.RWMutex
	services  map[string]*service
	order     []string
	incidents []Incident
}

func NewMonitor(c Config) *Monitor {
	cfg := c.Uptime.WithDefaults()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}
	client := c.Client
	if client == nil {
		client = &fasthttp.Client{
			Name:                     "academyops-uptime",
			MaxConnsPerHost:          16,
			ReadTimeout:              cfg.Timeout,
			WriteTimeout:             cfg.Timeout,
			NoDefaultUserAgentHeader: true,
		}
	}

	m := &Monitor{
		cfg:       cfg,
		alerter:   c.Alerter,
		audit:     c.Audit,
		registry:  c.Registry,
		scheduler: c.Scheduler,
		logger:    logger.Named("uptime"),
		client:    client,
		now:       now,
		services:  make(map[string]*service),
	}
	m.task = scheduler.NewIntervalTask("uptime-check", time.Now(), cfg.CheckInterval,
		scheduler.TaskExecuteModeLocal, cfg.CheckInterval, func(ctx context.Context) error {
			m.CheckAll(ctx)
			return nil
		})
	return m
}

// TargetFromConfig 配置文件中的目标转换为 HTTP 探测
func TargetFromConfig(t config.UptimeTarget) Target {
	return Target{
		ID:                t.ID,
		Name:              t.Name,
		Type:              CheckHTTP,
		URL:               t.URL,
		Method:            t.Method,
		Headers:           t.Headers,
		ExpectedStatus:    t.ExpectedStatus,
		ExpectedBodyPath:  t.ExpectedBodyPath,
		ExpectedBodyValue: t.ExpectedBodyValue,
		Critical:          t.Critical,
		Enabled:           !t.Disabled,
		Timeout:           t.Timeout,
	}
}

func validateTarget(t *Target) error {
	if msg, err := utils.Validate(t); err != nil {
		return fmt.Errorf("服务配置无效: %s", msg)
	}
	switch t.Type {
	case CheckHTTP:
		u, err := url.ParseRequestURI(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("服务配置无效: url必须是有效的http(s)地址: %q", t.URL)
		}
	case CheckInternal:
		if t.Check == nil {
			return fmt.Errorf("服务配置无效: 内部探测 %s 缺少探测函数", t.ID)
		}
	}
	for _, code := range t.ExpectedStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("服务配置无效: 非法状态码 %d", code)
		}
	}
	return nil
}

// AddService 注册服务，配置错误同步返回
func (m *Monitor) AddService(t Target) error {
	if err := validateTarget(&t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, t.ID)
	}
	m.services[t.ID] = &service{target: t, status: StatusUnknown}
	m.order = append(m.order, t.ID)
	m.logger.Info("添加监控服务",
		zap.String("id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Bool("critical", t.Critical))
	return nil
}

// RemoveService 移除服务，存在未关闭的故障时一并解除告警
func (m *Monitor) RemoveService(id string) bool {
	m.mu.Lock()
	svc, ok := m.services[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.services, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	incident := svc.incident
	if incident != nil {
		end := m.now()
		incident.EndTime = &end
		incident.Status = IncidentResolved
		m.archiveIncident(*incident)
		svc.incident = nil
	}
	m.mu.Unlock()

	if incident != nil && m.alerter != nil {
		m.alerter.ResolveAlert(alertPrefix+id, alerting.Severity(incident.Severity))
	}
	m.logger.Info("移除监控服务", zap.String("id", id))
	return true
}

// Start 立即探测一次，之后按间隔周期探测
func (m *Monitor) Start() error {
	m.logger.Info("启动可用性监控",
		zap.Int("services", len(m.order)),
		zap.Duration("interval", m.cfg.CheckInterval))
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	return m.scheduler.AddTask(m.task)
}

func (m *Monitor) Stop() error {
	if m.scheduler != nil {
		m.scheduler.RemoveTask(m.task.ID)
	}
	return nil
}

// CheckAll 并发探测所有启用的服务，全部结束后记录整体状态
func (m *Monitor) CheckAll(ctx context.Context) SystemStatus {
	m.mu.RLock()
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if m.services[id].target.Enabled {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("服务探测发生panic", zap.String("id", id), zap.Any("panic", r))
				}
			}()
			if _, err := m.CheckService(ctx, id); err != nil && !errors.Is(err, ErrServiceNotFound) {
				m.logger.Warn("服务探测跳过", zap.String("id", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()

	st := m.GetSystemStatus()
	if m.registry != nil {
		m.registry.Record(metrics.CategorySystemStatus, metrics.Fields{
			Values: map[string]float64{
				"total":           float64(st.Total),
				"up":              float64(st.Up),
				"down":            float64(st.Down),
				"avg_response_ms": st.AvgResponseTimeMs,
				"open_incidents":  float64(st.OpenIncidents),
			},
			Labels: map[string]string{"status": st.Status},
		})
	}
	return st
}

// CheckService 探测单个服务并推进状态机
func (m *Monitor) CheckService(ctx context.Context, id string) (CheckResult, error) {
	m.mu.RLock()
	svc, ok := m.services[id]
	m.mu.RUnlock()
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	if !svc.checking.TryLock() {
		return CheckResult{}, fmt.Errorf("%w: %s", ErrCheckInProgress, id)
	}
	defer svc.checking.Unlock()

	var res CheckResult
	if svc.target.Type == CheckInternal {
		res = m.probeInternal(ctx, &svc.target)
	} else {
		res = m.probeHTTP(ctx, &svc.target)
	}
	m.recordProbe(&svc.target, res)
	m.apply(ctx, svc, res)
	return res, nil
}

func (m *Monitor) recordProbe(t *Target, res CheckResult) {
	if m.registry == nil {
		return
	}
	m.registry.Record(metrics.CategoryExternalAPIs, metrics.Fields{
		Values: map[string]float64{
			metrics.FieldDuration:   res.ResponseTimeMs,
			metrics.FieldStatusCode: float64(res.StatusCode),
		},
		Flags: map[string]bool{
			metrics.FieldError: !res.Success,
			metrics.FieldSlow:  res.ResponseTimeMs > m.cfg.DegradedResponseMs,
		},
		Labels: map[string]string{"service": t.ID, "source": "uptime"},
	})
	if exp := m.registry.Exporter(); exp != nil {
		exp.ObserveExternal(t.ID, res.Success, res.ResponseTimeMs)
	}
}

type transition struct {
	opened   *Incident
	resolved *Incident
}

// apply 状态机：失败次数达到阈值开启故障，恢复后连续成功达到阈值关闭故障
func (m *Monitor) apply(ctx context.Context, svc *service, res CheckResult) {
	var tr transition

	m.mu.Lock()
	svc.lastCheck = res.Timestamp
	svc.lastResponseMs = res.ResponseTimeMs
	if res.Success {
		svc.consecutiveFailures = 0
		svc.consecutiveSuccesses++
		svc.lastSuccess = res.Timestamp
		svc.lastError = ""
		if svc.status != StatusDown || svc.consecutiveSuccesses >= m.cfg.RecoveryThreshold {
			svc.status = StatusUp
		}
		if svc.incident != nil && svc.consecutiveSuccesses >= m.cfg.RecoveryThreshold {
			end := res.Timestamp
			svc.incident.EndTime = &end
			svc.incident.Status = IncidentResolved
			closed := *svc.incident
			m.archiveIncident(closed)
			svc.incident = nil
			tr.resolved = &closed
		}
	} else {
		svc.consecutiveSuccesses = 0
		svc.consecutiveFailures++
		svc.lastFailure = res.Timestamp
		svc.lastError = res.Error
		svc.status = StatusDown
		if svc.incident == nil && svc.consecutiveFailures >= m.cfg.IncidentThreshold {
			severity := string(alerting.SeverityWarning)
			if svc.target.Critical {
				severity = string(alerting.SeverityCritical)
			}
			svc.incident = &Incident{
				ID:          uuid.NewString(),
				ServiceID:   svc.target.ID,
				ServiceName: svc.target.Name,
				Severity:    severity,
				StartTime:   res.Timestamp,
				Status:      IncidentOpen,
				Description: fmt.Sprintf("%s 连续 %d 次探测失败", svc.target.Name, svc.consecutiveFailures),
				Details:     IncidentDetails{Error: res.Error, StatusCode: res.StatusCode},
			}
			opened := *svc.incident
			tr.opened = &opened
		}
	}
	svc.history = append(svc.history, res)
	m.pruneHistory(svc)
	m.mu.Unlock()

	if tr.opened != nil {
		m.onIncidentOpened(ctx, tr.opened)
	}
	if tr.resolved != nil {
		m.onIncidentResolved(ctx, tr.resolved)
	}
}

func (m *Monitor) pruneHistory(svc *service) {
	cutoff := m.now().Add(-m.cfg.HistoryWindow)
	start := sort.Search(len(svc.history), func(i int) bool {
		return !svc.history[i].Timestamp.Before(cutoff)
	})
	if over := len(svc.history) - start - maxHistory; over > 0 {
		start += over
	}
	if start > 0 {
		kept := make([]CheckResult, len(svc.history)-start)
		copy(kept, svc.history[start:])
		svc.history = kept
	}
}

func (m *Monitor) archiveIncident(inc Incident) {
	m.incidents = append(m.incidents, inc)
	if over := len(m.incidents) - maxIncidents; over > 0 {
		m.incidents = append([]Incident(nil), m.incidents[over:]...)
	}
}

func (m *Monitor) onIncidentOpened(ctx context.Context, inc *Incident) {
	m.logger.Warn("服务故障",
		zap.String("service", inc.ServiceID),
		zap.String("severity", inc.Severity),
		zap.String("error", inc.Details.Error))
	if m.alerter != nil {
		err := m.alerter.TriggerAlert(alertPrefix+inc.ServiceID, alerting.Severity(inc.Severity), map[string]interface{}{
			"message":    inc.Description,
			"incidentId": inc.ID,
			"service":    inc.ServiceName,
			"error":      inc.Details.Error,
			"statusCode": inc.Details.StatusCode,
		})
		if err != nil {
			m.logger.Warn("触发故障告警失败", zap.Error(err))
		}
	}
	if m.audit != nil {
		m.audit.LogAudit(ctx, "incident_opened", "service:"+inc.ServiceID, map[string]interface{}{
			"incidentId": inc.ID,
			"severity":   inc.Severity,
			"error":      inc.Details.Error,
		})
	}
}

func (m *Monitor) onIncidentResolved(ctx context.Context, inc *Incident) {
	duration := inc.EndTime.Sub(inc.StartTime)
	m.logger.Info("服务恢复", zap.String("service", inc.ServiceID), zap.Duration("duration", duration))
	if m.alerter != nil {
		m.alerter.ResolveAlert(alertPrefix+inc.ServiceID, alerting.Severity(inc.Severity))
	}
	if m.audit != nil {
		m.audit.LogAudit(ctx, "incident_resolved", "service:"+inc.ServiceID, map[string]interface{}{
			"incidentId": inc.ID,
			"durationMs": duration.Milliseconds(),
		})
	}
}
