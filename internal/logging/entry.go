package logging

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Level 日志级别，数值越大越详细
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel 兼容 warning / err 等常见写法
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug", "trace":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("未知的日志级别: %q", s)
}

// Category 日志类别，每个类别单独一个文件
type Category string

const (
	CategoryApplication Category = "application"
	CategoryError       Category = "error"
	CategoryAccess      Category = "access"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryAudit       Category = "audit"
	CategoryDebug       Category = "debug"
)

// Categories 固定的类别集合
var Categories = []Category{
	CategoryApplication,
	CategoryError,
	CategoryAccess,
	CategorySecurity,
	CategoryPerformance,
	CategoryAudit,
	CategoryDebug,
}

// metadata 中会被提升为顶层字段的键
const (
	KeyCorrelationID = "correlationId"
	KeyUserID        = "userId"
	KeySessionID     = "sessionId"
	KeyRequestID     = "requestId"
)

// ProcessInfo 写入时的进程快照
type ProcessInfo struct {
	PID           int     `json:"pid"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heapAllocMb"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Entry 结构化日志记录
type Entry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         string                 `json:"level"`
	Category      Category               `json:"category"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID string                 `json:"correlationId"`
	UserID        string                 `json:"userId,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	RequestID     string                 `json:"requestId,omitempty"`
	Service       string                 `json:"service"`
	Environment   string                 `json:"environment"`
	Hostname      string                 `json:"hostname"`
	Process       ProcessInfo            `json:"process"`
}

// processSampler 缓存进程快照，ReadMemStats 只在定时刷新时调用
type processSampler struct {
	started time.Time
	pid     int
	heapMB  atomic.Uint64 // 字节数
}

func newProcessSampler() *processSampler {
	p := &processSampler{started: time.Now(), pid: os.Getpid()}
	p.refresh()
	return p
}

func (p *processSampler) refresh() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.heapMB.Store(uint64(ms.HeapAlloc))
}

func (p *processSampler) snapshot() ProcessInfo {
	return ProcessInfo{
		PID:           p.pid,
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(p.heapMB.Load()) / 1024 / 1024,
		UptimeSeconds: time.Since(p.started).Seconds(),
	}
}
