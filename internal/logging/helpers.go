package logging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func merge(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

// LogError 错误日志，metadata 中附带错误文本与类型
func (l *Logger) LogError(ctx context.Context, err error, message string, metadata map[string]interface{}) {
	meta := map[string]interface{}{}
	if err != nil {
		meta["error"] = err.Error()
		var unwrapped interface{ Unwrap() error }
		if errors.As(err, &unwrapped) && unwrapped.Unwrap() != nil {
			meta["cause"] = unwrapped.Unwrap().Error()
		}
		if message == "" {
			message = err.Error()
		}
	}
	l.LogContext(ctx, CategoryError, LevelError, message, merge(meta, metadata))
}

// AccessRecord 一次请求的访问日志
type AccessRecord struct {
	Method     string
	Path       string
	StatusCode int
	DurationMs float64
	UserID     string
	RequestID  string
	IP         string
	UserAgent  string
}

// LogAccess 5xx 记为 WARN，其余为 INFO
func (l *Logger) LogAccess(ctx context.Context, r AccessRecord) {
	level := LevelInfo
	if r.StatusCode >= 500 {
		level = LevelWarn
	}
	meta := map[string]interface{}{
		"method":     r.Method,
		"path":       r.Path,
		"statusCode": r.StatusCode,
		"durationMs": r.DurationMs,
	}
	if r.UserID != "" {
		meta[KeyUserID] = r.UserID
	}
	if r.RequestID != "" {
		meta[KeyRequestID] = r.RequestID
	}
	if r.IP != "" {
		meta["ip"] = r.IP
	}
	if r.UserAgent != "" {
		meta["userAgent"] = r.UserAgent
	}
	l.LogContext(ctx, CategoryAccess, level, r.Method+" "+r.Path, meta)
}

// LogSecurity 安全事件，统一 WARN 级别
func (l *Logger) LogSecurity(ctx context.Context, event string, metadata map[string]interface{}) {
	l.LogContext(ctx, CategorySecurity, LevelWarn, event, merge(map[string]interface{}{
		"securityEvent": event,
	}, metadata))
}

// LogAudit 审计日志：谁对什么做了什么
func (l *Logger) LogAudit(ctx context.Context, action, resource string, metadata map[string]interface{}) {
	l.LogContext(ctx, CategoryAudit, LevelInfo, action+" "+resource, merge(map[string]interface{}{
		"action":   action,
		"resource": resource,
	}, metadata))
}

// LogPerformance 性能日志
func (l *Logger) LogPerformance(ctx context.Context, operation string, durationMs float64, metadata map[string]interface{}) {
	l.LogContext(ctx, CategoryPerformance, LevelInfo, operation, merge(map[string]interface{}{
		"operation":  operation,
		"durationMs": durationMs,
	}, metadata))
}

func (l *Logger) LogInfo(ctx context.Context, message string, metadata map[string]interface{}) {
	l.LogContext(ctx, CategoryApplication, LevelInfo, message, metadata)
}

func (l *Logger) LogWarn(ctx context.Context, message string, metadata map[string]interface{}) {
	l.LogContext(ctx, CategoryApplication, LevelWarn, message, metadata)
}

func (l *Logger) LogDebug(ctx context.Context, message string, metadata map[string]interface{}) {
	l.LogContext(ctx, CategoryDebug, LevelDebug, message, metadata)
}

// CategoryStats 单个类别的统计
type CategoryStats struct {
	Buffered     int   `json:"buffered"`
	Written      int64 `json:"written"`
	Failed       int64 `json:"failed"`
	Rotations    int64 `json:"rotations"`
	FileSize     int64 `json:"fileSize"`
	RotatedFiles int   `json:"rotatedFiles"`
}

// Stats 日志服务统计
type Stats struct {
	Level      string                     `json:"level"`
	Dir        string                     `json:"dir"`
	Dropped    int64                      `json:"dropped"`
	Categories map[Category]CategoryStats `json:"categories"`
}

// GetLoggingStats 各类别的缓冲、写入与文件情况
func (l *Logger) GetLoggingStats() Stats {
	stats := Stats{
		Level:      l.level.String(),
		Dir:        l.cfg.Dir,
		Dropped:    l.dropped.Load(),
		Categories: make(map[Category]CategoryStats, len(l.writers)),
	}
	for _, cat := range Categories {
		w := l.writers[cat]
		w.mu.Lock()
		buffered := len(w.buffer)
		w.mu.Unlock()

		cs := CategoryStats{
			Buffered:  buffered,
			Written:   w.written.Load(),
			Failed:    w.failed.Load(),
			Rotations: w.rotated.Load(),
		}
		if info, err := os.Stat(w.path); err == nil {
			cs.FileSize = info.Size()
		}
		cs.RotatedFiles = len(l.rotatedFiles(cat))
		stats.Categories[cat] = cs
	}
	return stats
}

// RotatedFile 已轮转的历史日志文件
type RotatedFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// rotatedFiles 按修改时间从旧到新
func (l *Logger) rotatedFiles(cat Category) []RotatedFile {
	matches, _ := filepath.Glob(filepath.Join(l.cfg.Dir, string(cat)+"-*.log*"))
	files := make([]RotatedFile, 0, len(matches))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".log") && !strings.HasSuffix(m, ".log.gz") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, RotatedFile{Path: m, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })
	return files
}

// RotatedFiles 所有类别的历史日志文件
func (l *Logger) RotatedFiles() []RotatedFile {
	var all []RotatedFile
	for _, cat := range Categories {
		all = append(all, l.rotatedFiles(cat)...)
	}
	return all
}

// CleanupRotated 删除修改时间早于 maxAge 的历史日志，返回删除数量
func (l *Logger) CleanupRotated(maxAge time.Duration) (int, error) {
	cutoff := l.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, f := range l.RotatedFiles() {
		if !f.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
