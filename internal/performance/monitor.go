// Package performance 定时采样系统与应用指标，按阈值触发告警并给出健康状态
package performance

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/metrics"
	"academyops/pkg/core/config"
	"academyops/pkg/scheduler"

	"go.uber.org/zap"
)

// 告警ID
const (
	AlertHighErrorRate     = "high_error_rate"
	AlertSlowResponseTime  = "slow_response_time"
	AlertHighMemoryUsage   = "high_memory_usage"
	AlertHighHeapUsage     = "high_heap_usage"
	AlertHighDBConnections = "high_db_connections"
)

// 健康状态，按优先级从高到低
const (
	StatusCritical = "critical"
	StatusDegraded = "degraded"
	StatusWarning  = "warning"
	StatusHealthy  = "healthy"
)

// Alerter 告警服务中性能监控用到的部分
type Alerter interface {
	TriggerAlert(alertID string, severity alerting.Severity, data map[string]interface{}) error
	ResolveAlert(alertID string, severity alerting.Severity) bool
	HasRecentCritical(window time.Duration) bool
}

// DBStatser 数据库连接池统计，*sql.DB 满足该接口
type DBStatser interface {
	Stats() sql.DBStats
}

// Config 性能监控配置
type Config struct {
	Performance config.PerformanceConfig
	Thresholds  config.AlertThresholds
	Registry    *metrics.Registry
	Alerter     Alerter
	Sampler     Sampler
	DB          DBStatser
	Scheduler   *scheduler.Scheduler
	Logger      *zap.Logger
}

// AppSample 一次应用层采样
type AppSample struct {
	Timestamp       time.Time       `json:"timestamp"`
	Window          string          `json:"window"`
	Requests        metrics.Summary `json:"requests"`
	Queries         metrics.Summary `json:"queries"`
	External        metrics.Summary `json:"external"`
	ErrorRate       float64         `json:"errorRate"`
	AvgResponseTime float64         `json:"avgResponseTime"`
	SlowRate        float64         `json:"slowRate"`
}

// Monitor 性能监控
type Monitor struct {
	cfg        config.PerformanceConfig
	thresholds config.AlertThresholds
	registry   *metrics.Registry
	alerter    Alerter
	sampler    Sampler
	db         DBStatser
	scheduler  *scheduler.Scheduler
	logger     *zap.Logger
	tasks      []*scheduler.Task

	mu         sync.RWMutex
	lastSystem *SystemSample
	lastApp    *AppSample
	// 每个指标当前所处的告警级别，用于级别变化时解除旧告警
	levels map[string]alerting.Severity
}

func NewMonitor(c Config) *Monitor {
	cfg := c.Performance.WithDefaults()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := c.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	m := &Monitor{
		cfg:        cfg,
		thresholds: c.Thresholds.WithDefaults(),
		registry:   registry,
		alerter:    c.Alerter,
		sampler:    c.Sampler,
		db:         c.DB,
		scheduler:  c.Scheduler,
		logger:     logger.Named("performance"),
		levels:     make(map[string]alerting.Severity),
	}

	now := time.Now()
	m.tasks = []*scheduler.Task{
		scheduler.NewIntervalTask("performance-system", now.Add(cfg.SystemInterval), cfg.SystemInterval,
			scheduler.TaskExecuteModeLocal, cfg.SystemInterval, m.SampleSystem),
		scheduler.NewIntervalTask("performance-application", now.Add(cfg.ApplicationInterval), cfg.ApplicationInterval,
			scheduler.TaskExecuteModeLocal, cfg.ApplicationInterval, m.SampleApplication),
		scheduler.NewIntervalTask("metrics-sweep", now.Add(cfg.SweepInterval), cfg.SweepInterval,
			scheduler.TaskExecuteModeLocal, time.Minute, func(ctx context.Context) error {
				removed := m.registry.Sweep(cfg.MetricsMaxAge)
				m.logger.Debug("清理过期指标", zap.Int("removed", removed))
				return nil
			}),
	}
	return m
}

// Start 注册采样任务
func (m *Monitor) Start() error {
	m.logger.Info("启动性能监控",
		zap.Duration("system_interval", m.cfg.SystemInterval),
		zap.Duration("application_interval", m.cfg.ApplicationInterval))
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	for _, t := range m.tasks {
		if err := m.scheduler.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) Stop() error {
	if m.scheduler != nil {
		for _, t := range m.tasks {
			m.scheduler.RemoveTask(t.ID)
		}
	}
	m.logger.Info("性能监控已停止")
	return nil
}

// SampleSystem 采集系统指标并检查内存与连接池阈值
func (m *Monitor) SampleSystem(ctx context.Context) error {
	if m.sampler == nil {
		return nil
	}
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn("系统指标采集部分失败", zap.Error(err))
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	if m.db != nil {
		if st := m.db.Stats(); st.MaxOpenConnections > 0 {
			sample.DBConnPercent = float64(st.InUse) * 100 / float64(st.MaxOpenConnections)
		}
	}

	m.registry.Record(metrics.CategorySystem, metrics.Fields{Values: map[string]float64{
		"rss_mb":              sample.RSSMB,
		"heap_alloc_mb":       sample.HeapAllocMB,
		"heap_sys_mb":         sample.HeapSysMB,
		"memory_percent":      sample.MemoryPercent,
		"heap_percent":        sample.HeapPercent,
		"cpu_percent":         sample.CPUPercent,
		"goroutines":          float64(sample.Goroutines),
		"open_fds":            float64(sample.OpenFDs),
		"host_memory_percent": sample.HostMemoryPercent,
		"load1":               sample.Load1,
		"db_conn_percent":     sample.DBConnPercent,
	}})

	m.mu.Lock()
	m.lastSystem = &sample
	m.mu.Unlock()

	m.evaluate(AlertHighMemoryUsage, sample.MemoryPercent, m.thresholds.Memory, map[string]interface{}{
		"memoryPercent": sample.MemoryPercent,
		"rssMb":         sample.RSSMB,
		"heapAllocMb":   sample.HeapAllocMB,
	})
	m.evaluate(AlertHighHeapUsage, sample.HeapPercent, m.thresholds.Memory, map[string]interface{}{
		"heapPercent": sample.HeapPercent,
		"heapAllocMb": sample.HeapAllocMB,
		"heapSysMb":   sample.HeapSysMB,
	})
	if m.db != nil {
		m.evaluate(AlertHighDBConnections, sample.DBConnPercent, m.thresholds.DBConnections, map[string]interface{}{
			"dbConnPercent": sample.DBConnPercent,
		})
	}
	return nil
}

// SampleApplication 汇总最近一个采样周期内的请求、查询与外部调用
func (m *Monitor) SampleApplication(ctx context.Context) error {
	sample := m.buildAppSample(m.cfg.ApplicationInterval)

	m.registry.Record(metrics.CategoryApplication, metrics.Fields{Values: map[string]float64{
		"requests":          float64(sample.Requests.Count),
		"error_rate":        sample.ErrorRate,
		"avg_response_ms":   sample.AvgResponseTime,
		"p95_response_ms":   sample.Requests.P95Duration,
		"slow_rate":         sample.SlowRate,
		"queries":           float64(sample.Queries.Count),
		"slow_queries":      float64(sample.Queries.SlowCount),
		"external_calls":    float64(sample.External.Count),
		"external_failures": float64(sample.External.ErrorCount),
	}})

	m.mu.Lock()
	m.lastApp = &sample
	m.mu.Unlock()

	// 没有请求时不评估，也不会误解除已有告警
	if sample.Requests.Count == 0 {
		return nil
	}
	m.evaluate(AlertHighErrorRate, sample.ErrorRate, m.thresholds.ErrorRate, map[string]interface{}{
		"errorRate": sample.ErrorRate,
		"requests":  sample.Requests.Count,
		"errors":    sample.Requests.ErrorCount,
	})
	m.evaluate(AlertSlowResponseTime, sample.AvgResponseTime, m.thresholds.ResponseTime, map[string]interface{}{
		"avgResponseTime": sample.AvgResponseTime,
		"p95ResponseTime": sample.Requests.P95Duration,
		"requests":        sample.Requests.Count,
	})
	return nil
}

func (m *Monitor) buildAppSample(window time.Duration) AppSample {
	req := m.registry.Summarize(metrics.CategoryAPIRequests, window)
	return AppSample{
		Timestamp:       time.Now(),
		Window:          window.String(),
		Requests:        req,
		Queries:         m.registry.Summarize(metrics.CategoryDatabaseQueries, window),
		External:        m.registry.Summarize(metrics.CategoryExternalAPIs, window),
		ErrorRate:       req.ErrorRate,
		AvgResponseTime: req.MeanDuration,
		SlowRate:        req.SlowRate,
	}
}

// evaluate 每个指标独立判断；级别变化时解除旧级别的告警，回落到阈值以下时全部解除
func (m *Monitor) evaluate(alertID string, value float64, pair config.ThresholdPair, data map[string]interface{}) {
	if m.alerter == nil {
		return
	}
	level := alerting.Severity(pair.Level(value))

	m.mu.Lock()
	prev := m.levels[alertID]
	if level == "" {
		delete(m.levels, alertID)
	} else {
		m.levels[alertID] = level
	}
	m.mu.Unlock()

	if prev != "" && prev != level {
		m.alerter.ResolveAlert(alertID, prev)
	}
	if level == "" {
		return
	}

	data["threshold"] = pair.Warning
	if level == alerting.SeverityCritical {
		data["threshold"] = pair.Critical
	}
	if err := m.alerter.TriggerAlert(alertID, level, data); err != nil {
		m.logger.Warn("触发性能告警失败", zap.String("alert", alertID), zap.Error(err))
	}
}
