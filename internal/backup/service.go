// Package backup 定时数据库备份：导出、压缩、加密、异地上传与按类型保留
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"academyops/internal/alerting"
	"academyops/pkg/core/config"
	"academyops/pkg/scheduler"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	maxResults   = 100
	AlertFailed  = "backup_failed"
	partSuffix   = ".part"
	cleanupJob   = "backup-cleanup"
	dirFileMode  = 0o750
	fileFileMode = 0o640
)

// Alerter 备份失败时触发告警
type Alerter interface {
	TriggerAlert(alertID string, severity alerting.Severity, data map[string]interface{}) error
}

// EventLogger 备份结果写入集中日志
type EventLogger interface {
	LogError(ctx context.Context, err error, message string, metadata map[string]interface{})
	LogAudit(ctx context.Context, action, resource string, metadata map[string]interface{})
}

// Config 备份调度配置
type Config struct {
	Backup    config.BackupConfig
	Dumper    Dumper
	Uploader  Uploader
	Alerter   Alerter
	Events    EventLogger
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Scheduler 备份调度器
type Scheduler struct {
	cfg       config.BackupConfig
	dumper    Dumper
	uploader  Uploader
	alerter   Alerter
	events    EventLogger
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	now       func() time.Time
	tasks     []*scheduler.Task

	// guard 同一时刻只允许一个备份或恢复
	guard scheduler.Guard

	mu      sync.Mutex
	started bool
	stats   Stats
	results []Result
}

// NewScheduler cron 表达式错误或缺少导出器时直接返回错误
func NewScheduler(c Config) (*Scheduler, error) {
	cfg := c.Backup.WithDefaults()
	if c.Dumper == nil {
		return nil, errors.New("备份配置无效: 缺少数据库导出器")
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		cfg:       cfg,
		dumper:    c.Dumper,
		uploader:  c.Uploader,
		alerter:   c.Alerter,
		events:    c.Events,
		scheduler: c.Scheduler,
		logger:    logger.Named("backup"),
		now:       now,
	}

	jobs := []struct {
		name string
		expr string
		fn   scheduler.TaskFunc
	}{
		{"backup-daily", cfg.DailyCron, s.backupJob(TypeDaily)},
		{"backup-weekly", cfg.WeeklyCron, s.backupJob(TypeWeekly)},
		{"backup-monthly", cfg.MonthlyCron, s.backupJob(TypeMonthly)},
		{cleanupJob, cfg.CleanupCron, func(ctx context.Context) error {
			_, err := s.CleanupOldBackups()
			return err
		}},
	}
	for _, j := range jobs {
		task, err := scheduler.NewCronTask(j.name, j.expr, scheduler.TaskExecuteModeDistributed, cfg.Timeout, j.fn)
		if err != nil {
			return nil, fmt.Errorf("备份配置无效: %s: %w", j.name, err)
		}
		s.tasks = append(s.tasks, task)
	}
	return s, nil
}

func (s *Scheduler) backupJob(typ Type) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		res, err := s.CreateBackup(ctx, typ)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	}
}

// Start 注册所有备份任务
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := os.MkdirAll(s.cfg.Dir, dirFileMode); err != nil {
		return fmt.Errorf("创建备份目录失败: %w", err)
	}
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	for _, t := range s.tasks {
		if err := s.scheduler.AddTask(t); err != nil {
			return err
		}
	}
	s.started = true
	s.logger.Info("启动备份调度",
		zap.String("dir", s.cfg.Dir),
		zap.String("daily", s.cfg.DailyCron),
		zap.Bool("compress", s.cfg.Compress),
		zap.Bool("encrypt", s.cfg.EncryptionKey != ""))
	return nil
}

// Stop 可重复调用
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	for _, t := range s.tasks {
		s.scheduler.RemoveTask(t.ID)
	}
	s.started = false
	return nil
}

// CreateBackup 导出数据库并依次压缩、加密、上传；已有备份在执行时返回 scheduler.ErrJobRunning
func (s *Scheduler) CreateBackup(ctx context.Context, typ Type) (Result, error) {
	if _, err := ParseType(string(typ)); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.guard.Run(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		res = s.create(ctx, typ)
		return nil
	})
	if err != nil {
		s.logger.Warn("跳过备份", zap.String("type", string(typ)), zap.Error(err))
		return Result{}, err
	}
	s.finish(ctx, res)
	return res, nil
}

func (s *Scheduler) create(ctx context.Context, typ Type) Result {
	res := Result{ID: uuid.NewString(), Type: typ, StartTime: s.now()}
	defer func() {
		res.EndTime = s.now()
		res.DurationMs = res.EndTime.Sub(res.StartTime).Milliseconds()
	}()

	if err := os.MkdirAll(s.cfg.Dir, dirFileMode); err != nil {
		res.Error = fmt.Sprintf("创建备份目录失败: %v", err)
		return res
	}

	encrypted := s.cfg.EncryptionKey != ""
	name := BuildName(s.dumper.Database(), typ, res.StartTime, s.cfg.Compress, encrypted)
	final := filepath.Join(s.cfg.Dir, name)

	if err := s.writeArchive(ctx, final, encrypted); err != nil {
		res.Error = err.Error()
		return res
	}

	info, err := os.Stat(final)
	if err != nil {
		res.Error = fmt.Sprintf("读取备份文件失败: %v", err)
		return res
	}
	rec := Record{
		Name:       name,
		Path:       final,
		Size:       info.Size(),
		Type:       typ,
		Database:   s.dumper.Database(),
		Compressed: s.cfg.Compress,
		Encrypted:  encrypted,
		CreatedAt:  res.StartTime,
		ModifiedAt: info.ModTime(),
	}
	res.Record = &rec

	if s.uploader != nil {
		remote, err := s.uploader.Upload(ctx, final, name)
		s.mu.Lock()
		if err != nil {
			s.stats.RemoteFailures++
		} else {
			s.stats.RemoteUploads++
		}
		s.mu.Unlock()
		if err != nil {
			// 本地文件保留，任务记为失败
			res.Error = fmt.Sprintf("上传到 %s 失败: %v", s.uploader.Name(), err)
			return res
		}
		rec.Remote = remote
	}
	res.Success = true
	return res
}

// writeArchive 先写入 .part 临时文件，全部成功后再重命名
func (s *Scheduler) writeArchive(ctx context.Context, final string, encrypted bool) (err error) {
	part := final + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileFileMode)
	if err != nil {
		return fmt.Errorf("创建备份文件失败: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			_ = os.Remove(part)
		}
	}()

	var w io.Writer = f
	var closers []io.Closer
	if encrypted {
		ew, err := newEncryptWriter(w, s.cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("初始化加密失败: %w", err)
		}
		closers = append(closers, ew)
		w = ew
	}
	if s.cfg.Compress {
		gz := gzip.NewWriter(w)
		closers = append(closers, gz)
		w = gz
	}

	if err := s.dumper.Dump(ctx, w); err != nil {
		return fmt.Errorf("导出数据库失败: %w", err)
	}
	// 由外向内关闭：先 gzip 再加密
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return fmt.Errorf("写入备份文件失败: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("写入备份文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("写入备份文件失败: %w", err)
	}
	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("重命名备份文件失败: %w", err)
	}
	return nil
}

func (s *Scheduler) finish(ctx context.Context, res Result) {
	end := res.EndTime

	s.mu.Lock()
	s.stats.TotalBackups++
	s.stats.LastBackup = &end
	if res.Success {
		s.stats.Successful++
		s.stats.LastSuccess = &end
		if res.Record != nil {
			s.stats.TotalBytes += res.Record.Size
		}
	} else {
		s.stats.Failed++
		s.stats.LastFailure = &end
		s.stats.LastError = res.Error
	}
	s.results = append(s.results, res)
	if over := len(s.results) - maxResults; over > 0 {
		s.results = append([]Result(nil), s.results[over:]...)
	}
	s.mu.Unlock()

	if res.Success {
		s.logger.Info("备份完成",
			zap.String("type", string(res.Type)),
			zap.String("name", res.Record.Name),
			zap.Int64("size", res.Record.Size),
			zap.Int64("duration_ms", res.DurationMs))
		if s.events != nil {
			s.events.LogAudit(ctx, "backup_created", res.Record.Name, map[string]interface{}{
				"type":       string(res.Type),
				"size":       res.Record.Size,
				"durationMs": res.DurationMs,
				"remote":     res.Record.Remote,
			})
		}
		return
	}

	s.logger.Error("备份失败", zap.String("type", string(res.Type)), zap.String("error", res.Error))
	if s.events != nil {
		s.events.LogError(ctx, errors.New(res.Error), "备份失败", map[string]interface{}{
			"backupId": res.ID,
			"type":     string(res.Type),
		})
	}
	if s.alerter != nil {
		err := s.alerter.TriggerAlert(AlertFailed, alerting.SeverityCritical, map[string]interface{}{
			"message":  "数据库备份失败: " + res.Error,
			"backupId": res.ID,
			"type":     string(res.Type),
		})
		if err != nil {
			s.logger.Warn("触发备份告警失败", zap.Error(err))
		}
	}
}

// resolve 只接受备份目录内符合命名规则的文件
func (s *Scheduler) resolve(nameOrPath string) (Record, error) {
	name := filepath.Base(nameOrPath)
	rec, ok := ParseName(name)
	if !ok {
		return Record{}, fmt.Errorf("不是有效的备份文件: %s", nameOrPath)
	}
	rec.Path = filepath.Join(s.cfg.Dir, name)
	info, err := os.Stat(rec.Path)
	if err != nil {
		return Record{}, fmt.Errorf("备份文件不存在: %w", err)
	}
	rec.Size = info.Size()
	rec.ModifiedAt = info.ModTime()
	return rec, nil
}

// RestoreBackup 解密、解压后导入数据库
func (s *Scheduler) RestoreBackup(ctx context.Context, nameOrPath string) error {
	rec, err := s.resolve(nameOrPath)
	if err != nil {
		return err
	}
	if rec.Encrypted && s.cfg.EncryptionKey == "" {
		return fmt.Errorf("备份已加密，但未配置密钥: %s", rec.Name)
	}

	start := s.now()
	err = s.guard.Run(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		f, err := os.Open(rec.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		var r io.Reader = f
		if rec.Encrypted {
			if r, err = newDecryptReader(r, s.cfg.EncryptionKey); err != nil {
				return err
			}
		}
		if rec.Compressed {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return fmt.Errorf("解压失败: %w", err)
			}
			defer gz.Close()
			r = gz
		}
		if err := s.dumper.Restore(ctx, r); err != nil {
			return fmt.Errorf("导入数据库失败: %w", err)
		}
		return nil
	})

	meta := map[string]interface{}{"durationMs": s.now().Sub(start).Milliseconds()}
	if err != nil {
		s.logger.Error("恢复备份失败", zap.String("name", rec.Name), zap.Error(err))
		if s.events != nil {
			s.events.LogError(ctx, err, "恢复备份失败", map[string]interface{}{"name": rec.Name})
		}
		return err
	}
	s.logger.Info("恢复备份完成", zap.String("name", rec.Name))
	if s.events != nil {
		s.events.LogAudit(ctx, "backup_restored", rec.Name, meta)
	}
	return nil
}

// maxAge 手动与全量备份不参与自动清理，返回 0
func (s *Scheduler) maxAge(typ Type) time.Duration {
	day := 24 * time.Hour
	switch typ {
	case TypeDaily:
		return time.Duration(s.cfg.DailyRetentionDays) * day
	case TypeWeekly:
		return time.Duration(s.cfg.WeeklyRetentionWeeks) * 7 * day
	case TypeMonthly:
		return time.Duration(s.cfg.MonthlyRetentionMonths) * 30 * day
	}
	return 0
}

// ListBackups 按创建时间倒序
func (s *Scheduler) ListBackups() ([]Record, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取备份目录失败: %w", err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rec, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec.Path = filepath.Join(s.cfg.Dir, e.Name())
		rec.Size = info.Size()
		rec.ModifiedAt = info.ModTime()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CleanupOldBackups 按类型比较文件修改时间，超过保留期的删除
func (s *Scheduler) CleanupOldBackups() (CleanupResult, error) {
	var result CleanupResult
	records, err := s.ListBackups()
	if err != nil {
		return result, err
	}

	now := s.now()
	for _, rec := range records {
		limit := s.maxAge(rec.Type)
		if limit == 0 || now.Sub(rec.ModifiedAt) <= limit {
			result.Kept++
			continue
		}
		if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.Name, err))
			result.Kept++
			continue
		}
		result.Removed = append(result.Removed, rec.Name)
	}

	s.mu.Lock()
	s.stats.CleanupRuns++
	s.stats.CleanupRemoved += len(result.Removed)
	s.stats.LastCleanupTime = &now
	s.mu.Unlock()

	s.logger.Info("备份清理完成", zap.Int("removed", len(result.Removed)), zap.Int("kept", result.Kept))
	if len(result.Removed) > 0 && s.events != nil {
		s.events.LogAudit(context.Background(), "backup_cleanup", s.cfg.Dir, map[string]interface{}{
			"removed": result.Removed,
		})
	}
	if len(result.Errors) > 0 {
		return result, fmt.Errorf("部分备份删除失败: %s", strings.Join(result.Errors, "; "))
	}
	return result, nil
}
