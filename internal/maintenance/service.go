// Package maintenance 自动运维任务：安全与依赖更新、缓存与日志清理、证书检查、数据库优化
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"academyops/internal/alerting"
	"academyops/internal/backup"
	"academyops/pkg/core/config"
	"academyops/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	maxHistory = 100

	AlertFailed           = "maintenance_failed"
	AlertRollbackFailed   = "maintenance_rollback_failed"
	AlertApprovalRequired = "maintenance_approval_required"
	AlertCertExpiring     = "ssl_certificate_expiring"
)

var (
	ErrUnknownJob = errors.New("未知的维护任务")
	errSkipped    = errors.New("skipped")
)

// Backuper 更新前的数据库快照与回滚
type Backuper interface {
	CreateBackup(ctx context.Context, typ backup.Type) (backup.Result, error)
	RestoreBackup(ctx context.Context, nameOrPath string) error
}

// CacheStore 缓存清理只用到 SCAN 与 DEL
type CacheStore interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// LogCleaner 删除过期的轮转日志
type LogCleaner interface {
	CleanupRotated(maxAge time.Duration) (int, error)
}

// Optimizer 数据库统计信息更新
type Optimizer interface {
	Optimize(ctx context.Context) (map[string]interface{}, error)
}

type Alerter interface {
	TriggerAlert(alertID string, severity alerting.Severity, data map[string]interface{}) error
	ResolveAlert(alertID string, severity alerting.Severity) bool
}

// EventLogger 维护结果写入集中日志
type EventLogger interface {
	LogError(ctx context.Context, err error, message string, metadata map[string]interface{})
	LogAudit(ctx context.Context, action, resource string, metadata map[string]interface{})
}

// Config 维护调度配置
type Config struct {
	Maintenance config.MaintenanceConfig
	Runner      CommandRunner
	Backup      Backuper
	Cache       CacheStore
	Logs        LogCleaner
	Optimizer   Optimizer
	Alerter     Alerter
	Events      EventLogger
	Scheduler   *scheduler.Scheduler
	Logger      *zap.Logger
	Clock       func() time.Time
}

// jobResult 任务函数的返回，err 为 errSkipped 时记为跳过
type jobResult struct {
	summary string
	details map[string]interface{}
}

type jobFunc func(ctx context.Context, manual bool) (jobResult, error)

type job struct {
	name  string
	fn    jobFunc
	task  *scheduler.Task
	guard scheduler.Guard
}

// Scheduler 维护调度器
type Scheduler struct {
	cfg       config.MaintenanceConfig
	approval  UpdateLevel
	runner    CommandRunner
	backup    Backuper
	cache     CacheStore
	logs      LogCleaner
	optimizer Optimizer
	alerter   Alerter
	events    EventLogger
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	now       func() time.Time

	jobs  map[string]*job
	order []string

	mu      sync.Mutex
	started bool
	stats   Stats
	history []Record
	last    map[string]Record
}

// NewScheduler 校验 cron 表达式与审批级别
func NewScheduler(c Config) (*Scheduler, error) {
	cfg := c.Maintenance.WithDefaults()
	approval, err := ParseLevel(cfg.AutoApprovalLevel)
	if err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}
	runner := c.Runner
	if runner == nil {
		runner = ShellRunner{}
	}

	s := &Scheduler{
		cfg:       cfg,
		approval:  approval,
		runner:    runner,
		backup:    c.Backup,
		cache:     c.Cache,
		logs:      c.Logs,
		optimizer: c.Optimizer,
		alerter:   c.Alerter,
		events:    c.Events,
		scheduler: c.Scheduler,
		logger:    logger.Named("maintenance"),
		now:       now,
		jobs:      make(map[string]*job),
		last:      make(map[string]Record),
	}

	updateTimeout := 3 * cfg.CommandTimeout
	defs := []struct {
		name    string
		expr    string
		mode    scheduler.TaskExecuteMode
		timeout time.Duration
		fn      jobFunc
	}{
		{JobSecurityUpdate, cfg.SecurityUpdateCron, scheduler.TaskExecuteModeLocal, updateTimeout,
			s.updateJob(cfg.SecurityUpdateCommand, LevelPatch)},
		{JobDependencyUpdate, cfg.DependencyUpdateCron, scheduler.TaskExecuteModeLocal, updateTimeout,
			s.updateJob(cfg.DependencyUpdateCommand, LevelMinor)},
		{JobCacheCleanup, cfg.CacheCleanupCron, scheduler.TaskExecuteModeDistributed, 10 * time.Minute, s.cacheCleanup},
		{JobLogCleanup, cfg.LogCleanupCron, scheduler.TaskExecuteModeLocal, 10 * time.Minute, s.logCleanup},
		{JobSSLCheck, cfg.SSLCheckCron, scheduler.TaskExecuteModeLocal, time.Minute, s.sslCheck},
		{JobDBOptimize, cfg.DBOptimizeCron, scheduler.TaskExecuteModeDistributed, cfg.CommandTimeout, s.dbOptimize},
	}
	for _, d := range defs {
		j := &job{name: d.name, fn: d.fn}
		task, err := scheduler.NewCronTask(d.name, d.expr, d.mode, d.timeout, func(ctx context.Context) error {
			rec, err := s.run(ctx, j, false)
			if err != nil {
				return err
			}
			if rec.Status == StatusFailed {
				return errors.New(rec.Error)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("维护配置无效: %s: %w", d.name, err)
		}
		j.task = task
		s.jobs[d.name] = j
		s.order = append(s.order, d.name)
	}
	return s, nil
}

// Start 注册所有维护任务
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	for _, name := range s.order {
		if err := s.scheduler.AddTask(s.jobs[name].task); err != nil {
			return err
		}
	}
	s.started = true
	s.logger.Info("启动维护调度", zap.Int("jobs", len(s.order)), zap.String("auto_approval", s.approval.String()))
	return nil
}

// Stop 可重复调用
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	for _, name := range s.order {
		s.scheduler.RemoveTask(s.jobs[name].task.ID)
	}
	s.started = false
	return nil
}

// RunJob 手动触发，手动触发视为已审批；同名任务在执行时返回 scheduler.ErrJobRunning
func (s *Scheduler) RunJob(ctx context.Context, name string) (Record, error) {
	j, ok := s.jobs[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j, true)
}

func (s *Scheduler) run(ctx context.Context, j *job, manual bool) (Record, error) {
	var rec Record
	err := j.guard.Run(ctx, func(ctx context.Context) error {
		rec = s.execute(ctx, j, manual)
		return nil
	})
	if err != nil {
		s.logger.Warn("跳过维护任务", zap.String("job", j.name), zap.Error(err))
		return Record{}, err
	}
	s.finish(ctx, rec)
	return rec, nil
}

func (s *Scheduler) execute(ctx context.Context, j *job, manual bool) (rec Record) {
	rec = Record{ID: uuid.NewString(), Type: j.name, Manual: manual, StartTime: s.now()}
	defer func() {
		if r := recover(); r != nil {
			rec.Status = StatusFailed
			rec.Error = fmt.Sprintf("panic: %v", r)
		}
		rec.EndTime = s.now()
		rec.DurationMs = rec.EndTime.Sub(rec.StartTime).Milliseconds()
	}()

	res, err := j.fn(ctx, manual)
	rec.Summary = res.summary
	rec.Details = res.details
	switch {
	case errors.Is(err, errSkipped):
		rec.Status = StatusSkipped
	case err != nil:
		rec.Status = StatusFailed
		rec.Error = err.Error()
	default:
		rec.Status = StatusCompleted
	}
	return rec
}

func (s *Scheduler) finish(ctx context.Context, rec Record) {
	end := rec.EndTime

	s.mu.Lock()
	s.stats.TotalRuns++
	s.stats.LastRun = &end
	switch rec.Status {
	case StatusCompleted:
		s.stats.Completed++
	case StatusSkipped:
		s.stats.Skipped++
	case StatusFailed:
		s.stats.Failed++
		s.stats.LastFailure = &end
	}
	if rolledBack, _ := rec.Details["rolledBack"].(bool); rolledBack {
		s.stats.RolledBack++
	}
	s.history = append(s.history, rec)
	if over := len(s.history) - maxHistory; over > 0 {
		s.history = append([]Record(nil), s.history[over:]...)
	}
	s.last[rec.Type] = rec
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("job", rec.Type),
		zap.String("status", string(rec.Status)),
		zap.Int64("duration_ms", rec.DurationMs),
	}
	if rec.Status != StatusFailed {
		s.logger.Info("维护任务结束", append(fields, zap.String("summary", rec.Summary))...)
		if s.events != nil && rec.Status == StatusCompleted {
			s.events.LogAudit(ctx, "maintenance_"+rec.Type, "maintenance", map[string]interface{}{
				"recordId": rec.ID,
				"summary":  rec.Summary,
				"manual":   rec.Manual,
			})
		}
		return
	}

	s.logger.Error("维护任务失败", append(fields, zap.String("error", rec.Error))...)
	if s.events != nil {
		s.events.LogError(ctx, errors.New(rec.Error), "维护任务失败", map[string]interface{}{
			"recordId": rec.ID,
			"job":      rec.Type,
		})
	}
	s.alert(AlertFailed, alerting.SeverityWarning, map[string]interface{}{
		"message":  fmt.Sprintf("维护任务 %s 失败: %s", rec.Type, rec.Error),
		"job":      rec.Type,
		"recordId": rec.ID,
	})
}

func (s *Scheduler) alert(id string, sev alerting.Severity, data map[string]interface{}) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.TriggerAlert(id, sev, data); err != nil {
		s.logger.Warn("触发维护告警失败", zap.String("alert", id), zap.Error(err))
	}
}
