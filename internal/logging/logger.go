// Package logging 集中式结构化日志：按类别缓冲、批量落盘、按大小轮转并可投递到远端
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"academyops/pkg/core/config"
	"academyops/pkg/core/consts"
	"academyops/pkg/scheduler"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const megabyte = 1024 * 1024

// Config 集中日志配置
type Config struct {
	Log         config.LogConfig
	Service     string
	Environment string
	// Production 为 false 时每条日志同时输出到控制台
	Production bool
	// Console 控制台输出，也是文件写入失败时的兜底
	Console   *zap.Logger
	Scheduler *scheduler.Scheduler
	Shippers  []Shipper
	Clock     func() time.Time
}

// categoryWriter 单个类别的缓冲与文件句柄
type categoryWriter struct {
	category Category
	path     string

	mu     sync.Mutex
	buffer []Entry

	// writeMu 串行化落盘与轮转，保证同一类别内按写入顺序落盘
	writeMu sync.Mutex
	file    *lumberjack.Logger

	written atomic.Int64
	failed  atomic.Int64
	rotated atomic.Int64
}

// Logger 集中日志服务
type Logger struct {
	cfg        config.LogConfig
	level      Level
	service    string
	env        string
	hostname   string
	production bool
	console    *zap.Logger
	scheduler  *scheduler.Scheduler
	shippers   []Shipper
	now        func() time.Time
	process    *processSampler
	task       *scheduler.Task

	// maxBytes 超过该大小即轮转
	maxBytes int64

	writers map[Category]*categoryWriter

	// 远端投递并发上限
	shipSem chan struct{}
	shipWg  sync.WaitGroup

	dropped atomic.Int64
	closed  atomic.Bool
}

// NewLogger 创建集中日志服务，日志目录不存在时自动创建
func NewLogger(c Config) (*Logger, error) {
	cfg := c.Log.WithDefaults()
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	console := c.Console
	if console == nil {
		console = zap.NewNop()
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}
	hostname, _ := os.Hostname()

	l := &Logger{
		cfg:        cfg,
		level:      level,
		service:    c.Service,
		env:        c.Environment,
		hostname:   hostname,
		production: c.Production,
		console:    console.Named("logging"),
		scheduler:  c.Scheduler,
		shippers:   c.Shippers,
		now:        now,
		process:    newProcessSampler(),
		maxBytes:   int64(cfg.MaxFileSizeMB) * megabyte,
		writers:    make(map[Category]*categoryWriter, len(Categories)),
		shipSem:    make(chan struct{}, 4),
	}
	if l.service == "" {
		l.service = "academyops"
	}

	for _, cat := range Categories {
		path := filepath.Join(cfg.Dir, string(cat)+".log")
		l.writers[cat] = &categoryWriter{
			category: cat,
			path:     path,
			buffer:   make([]Entry, 0, cfg.BufferSize),
			file: &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxFileSizeMB,
				MaxBackups: cfg.MaxFiles,
				Compress:   cfg.Compress,
			},
		}
	}

	l.task = scheduler.NewIntervalTask("log-flush", time.Now().Add(cfg.FlushInterval), cfg.FlushInterval,
		scheduler.TaskExecuteModeLocal, cfg.FlushInterval, func(ctx context.Context) error {
			l.process.refresh()
			l.Flush()
			return nil
		})
	return l, nil
}

// Start 注册定时刷盘任务
func (l *Logger) Start() error {
	if l.scheduler == nil {
		return nil
	}
	return l.scheduler.AddTask(l.task)
}

// Level 当前阈值
func (l *Logger) Level() Level {
	return l.level
}

// Enabled 判断该级别是否会被记录
func (l *Logger) Enabled(level Level) bool {
	return level <= l.level
}

// Log 记录一条日志，任何文件错误都不会返回给调用方
func (l *Logger) Log(category Category, level Level, message string, metadata map[string]interface{}) {
	l.LogContext(context.Background(), category, level, message, metadata)
}

// LogContext 同 Log，关联ID缺失时从 ctx 的追踪ID中取
func (l *Logger) LogContext(ctx context.Context, category Category, level Level, message string, metadata map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}
	w, ok := l.writers[category]
	if !ok {
		l.console.Warn("未知的日志类别，改写到 application", zap.String("category", string(category)))
		w = l.writers[CategoryApplication]
		category = CategoryApplication
	}
	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	entry := l.buildEntry(ctx, category, level, message, metadata)
	if !l.production {
		l.echo(entry)
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, entry)
	full := len(w.buffer) >= l.cfg.BufferSize
	w.mu.Unlock()

	if full {
		l.flushWriter(w)
	}
}

func (l *Logger) buildEntry(ctx context.Context, category Category, level Level, message string, metadata map[string]interface{}) Entry {
	entry := Entry{
		Timestamp:   l.now(),
		Level:       level.String(),
		Category:    category,
		Message:     message,
		Service:     l.service,
		Environment: l.env,
		Hostname:    l.hostname,
		Process:     l.process.snapshot(),
	}

	if len(metadata) > 0 {
		entry.Metadata = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			switch k {
			case KeyCorrelationID:
				entry.CorrelationID = fmt.Sprint(v)
			case KeyUserID:
				entry.UserID = fmt.Sprint(v)
			case KeySessionID:
				entry.SessionID = fmt.Sprint(v)
			case KeyRequestID:
				entry.RequestID = fmt.Sprint(v)
			default:
				entry.Metadata[k] = v
			}
		}
		if len(entry.Metadata) == 0 {
			entry.Metadata = nil
		}
	}

	if entry.CorrelationID == "" && ctx != nil {
		if traceID, ok := ctx.Value(consts.TraceKey).(string); ok {
			entry.CorrelationID = traceID
		}
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = entry.RequestID
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	return entry
}

func (l *Logger) echo(e Entry) {
	fields := []zap.Field{
		zap.String("category", string(e.Category)),
		zap.String("correlationId", e.CorrelationID),
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}
	switch e.Level {
	case "ERROR":
		l.console.Error(e.Message, fields...)
	case "WARN":
		l.console.Warn(e.Message, fields...)
	case "DEBUG":
		l.console.Debug(e.Message, fields...)
	default:
		l.console.Info(e.Message, fields...)
	}
}

// Flush 刷写所有类别的缓冲
func (l *Logger) Flush() {
	for _, cat := range Categories {
		l.flushWriter(l.writers[cat])
	}
}

func (l *Logger) flushWriter(w *categoryWriter) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	entries := w.buffer
	w.buffer = make([]Entry, 0, l.cfg.BufferSize)
	w.mu.Unlock()

	var sb strings.Builder
	encoded := 0
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			w.failed.Add(1)
			l.console.Error("日志序列化失败", zap.String("category", string(w.category)), zap.Error(err))
			continue
		}
		sb.Write(line)
		sb.WriteByte('\n')
		encoded++
	}
	if encoded == 0 {
		return
	}

	if _, err := w.file.Write([]byte(sb.String())); err != nil {
		w.failed.Add(int64(encoded))
		l.console.Error("日志写入失败",
			zap.String("file", w.path),
			zap.Int("entries", encoded),
			zap.Error(err))
		return
	}
	w.written.Add(int64(encoded))

	l.rotateIfNeeded(w)
	l.ship(w.category, entries)
}

// rotateIfNeeded 文件超过阈值时轮转，旧文件的压缩与清理由 lumberjack 异步完成
func (l *Logger) rotateIfNeeded(w *categoryWriter) {
	info, err := os.Stat(w.path)
	if err != nil {
		l.console.Warn("读取日志文件信息失败", zap.String("file", w.path), zap.Error(err))
		return
	}
	if info.Size() < l.maxBytes {
		return
	}
	if err := w.file.Rotate(); err != nil {
		l.console.Error("日志轮转失败", zap.String("file", w.path), zap.Error(err))
		return
	}
	w.rotated.Add(1)
	l.console.Info("日志文件已轮转", zap.String("file", w.path), zap.Int64("size", info.Size()))
}

// ship 异步投递到远端，超过并发上限时丢弃本批
func (l *Logger) ship(category Category, entries []Entry) {
	if len(l.shippers) == 0 {
		return
	}
	select {
	case l.shipSem <- struct{}{}:
	default:
		l.console.Warn("远端投递繁忙，丢弃本批日志", zap.String("category", string(category)), zap.Int("entries", len(entries)))
		return
	}

	l.shipWg.Add(1)
	go func() {
		defer l.shipWg.Done()
		defer func() { <-l.shipSem }()
		defer func() {
			if r := recover(); r != nil {
				l.console.Error("远端投递发生panic", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range l.shippers {
			if err := s.Ship(ctx, entries); err != nil {
				l.console.Warn("远端投递失败",
					zap.String("shipper", s.Name()),
					zap.String("category", string(category)),
					zap.Error(err))
			}
		}
	}()
}

// Close 停止定时任务并刷写全部缓冲，可重复调用
func (l *Logger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.scheduler != nil {
		l.scheduler.RemoveTask(l.task.ID)
	}
	l.Flush()
	l.shipWg.Wait()

	var errs []error
	for _, cat := range Categories {
		w := l.writers[cat]
		w.writeMu.Lock()
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cat, err))
		}
		w.writeMu.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭日志文件失败: %v", errs)
	}
	return nil
}
