package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	startTimeKey = "monitoring:start_time"
	callerKey    = "monitoring:caller"
	pluginPkg    = "academyops/internal/monitoring.(*QueryPlugin)"
)

// QueryRecorder 接收插件采集到的数据库操作
type QueryRecorder interface {
	RecordQuery(ctx context.Context, q QueryInfo)
}

// QueryPlugin GORM 插件，每次增删改查结束后上报耗时、SQL 与调用位置
type QueryPlugin struct {
	recorder    QueryRecorder
	userPackage string // 用户包名，用于过滤堆栈信息
	traceKey    interface{}
	logger      *zap.Logger
}

// QueryPluginConfig 插件配置
type QueryPluginConfig struct {
	Recorder    QueryRecorder
	UserPackage string      // 用户包名前缀
	TraceKey    interface{} // context 中 TraceID 的键
	Logger      *zap.Logger
}

func NewQueryPlugin(c QueryPluginConfig) *QueryPlugin {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPlugin{
		recorder:    c.Recorder,
		userPackage: c.UserPackage,
		traceKey:    c.TraceKey,
		logger:      logger.Named("gorm"),
	}
}

// Name 实现 gorm.Plugin
func (p *QueryPlugin) Name() string {
	return "academyops:query_monitor"
}

// Initialize 实现 gorm.Plugin
func (p *QueryPlugin) Initialize(db *gorm.DB) error {
	if p.recorder == nil {
		return fmt.Errorf("数据库监控失败: 缺少指标接收方")
	}
	cb := db.Callback()
	steps := []struct {
		name string
		err  error
	}{
		{"create", cb.Create().Before("gorm:create").Register("monitoring:create_before", p.before)},
		{"create", cb.Create().After("gorm:create").Register("monitoring:create_after", p.after)},
		{"update", cb.Update().Before("gorm:update").Register("monitoring:update_before", p.before)},
		{"update", cb.Update().After("gorm:update").Register("monitoring:update_after", p.after)},
		{"delete", cb.Delete().Before("gorm:delete").Register("monitoring:delete_before", p.before)},
		{"delete", cb.Delete().After("gorm:delete").Register("monitoring:delete_after", p.after)},
		{"query", cb.Query().Before("gorm:query").Register("monitoring:query_before", p.before)},
		{"query", cb.Query().After("gorm:query").Register("monitoring:query_after", p.after)},
		{"raw", cb.Raw().Before("gorm:raw").Register("monitoring:raw_before", p.before)},
		{"raw", cb.Raw().After("gorm:raw").Register("monitoring:raw_after", p.after)},
		{"row", cb.Row().Before("gorm:row").Register("monitoring:row_before", p.before)},
		{"row", cb.Row().After("gorm:row").Register("monitoring:row_after", p.after)},
	}
	for _, s := range steps {
		if s.err != nil {
			return fmt.Errorf("数据库监控失败: 注册 %s 回调: %w", s.name, s.err)
		}
	}
	p.logger.Info("GORM 监控插件初始化成功")
	return nil
}

func (p *QueryPlugin) before(db *gorm.DB) {
	db.Set(startTimeKey, time.Now())
	if caller := p.callerInfo(); caller != "" {
		db.Set(callerKey, caller)
	}
}

func (p *QueryPlugin) after(db *gorm.DB) {
	v, ok := db.Get(startTimeKey)
	if !ok {
		return
	}
	start, ok := v.(time.Time)
	if !ok {
		return
	}

	q := QueryInfo{
		DurationMs:   float64(time.Since(start).Microseconds()) / 1000,
		RowsAffected: db.RowsAffected,
		Err:          db.Error,
	}
	ctx := context.Background()
	if db.Statement != nil {
		q.SQL = db.Statement.SQL.String()
		q.Params = db.Statement.Vars
		q.Table = db.Statement.Table
		if db.Statement.Context != nil {
			ctx = db.Statement.Context
		}
	}
	if p.traceKey != nil {
		if id := ctx.Value(p.traceKey); id != nil {
			q.TraceID = fmt.Sprintf("%v", id)
		}
	}
	if c, ok := db.Get(callerKey); ok {
		q.Caller, _ = c.(string)
	}
	q.Operation = operationOf(q.SQL)
	p.recorder.RecordQuery(ctx, q)
}

// callerInfo 取第一个用户代码帧，格式 func@file:line
func (p *QueryPlugin) callerInfo() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if p.isUserCode(frame.Function, frame.File) {
			return fmt.Sprintf("%s@%s:%d", shortFunc(frame.Function), shortFile(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

func (p *QueryPlugin) isUserCode(function, file string) bool {
	if strings.Contains(function, "gorm.io/") || strings.Contains(file, "gorm.io/") ||
		strings.HasPrefix(function, pluginPkg) {
		return false
	}
	if p.userPackage != "" {
		return strings.Contains(function, p.userPackage)
	}
	for _, pattern := range []string{"runtime.", "reflect.", "database/sql", "github.com/gofiber/fiber"} {
		if strings.Contains(function, pattern) {
			return false
		}
	}
	return true
}

func shortFunc(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		return full[i+1:]
	}
	return full
}

func shortFile(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}
