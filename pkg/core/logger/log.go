package logger

import (
	"context"
	"sync"

	"academyops/pkg/core/config"
	"academyops/pkg/core/consts"

	jsoniter "github.com/json-iterator/go"
	"github.com/openzipkin/zipkin-go"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

type Log struct {
	*logrus.Entry
}

var (
	log *Log
	mu  sync.Mutex
)

func newLogrus(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(level)
	return logger
}

func InitLogger(level string) *Log {
	mu.Lock()
	defer mu.Unlock()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log = &Log{Entry: logrus.NewEntry(newLogrus(logLevel))}
	return log
}

func GetLogger() *Log {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		return log
	}
	return &Log{Entry: logrus.NewEntry(newLogrus(logrus.DebugLevel))}
}

// Send2Cloud 将控制器日志同步投递到 SLS
func (l *Log) Send2Cloud(appName, host string, config config.LogConfig) {
	l.Entry.Logger.AddHook(NewSlsHook(appName, host, config))
}

func (l *Log) WithField(key string, value interface{}) *Log {
	return &Log{l.Entry.WithField(key, value)}
}

func (l *Log) WithFields(arg interface{}) *Log {
	var fields map[string]interface{}
	bytes, err := jsoniter.Marshal(arg)
	if err != nil {
		return l.WithField("arg", arg)
	}
	if err = jsoniter.Unmarshal(bytes, &fields); err != nil {
		return l.WithField("arg", arg)
	}
	return &Log{l.Entry.WithFields(fields)}
}

func (l *Log) WithEntryName(entryName string) *Log {
	return l.WithField("EntryName", entryName)
}

func (l *Log) WithErr(err error) *Log {
	if err == nil {
		return l
	}
	return l.WithField("Err", err.Error())
}

func (l *Log) WithTrace(ctx context.Context) *Log {
	return l.WithField("TraceId", TraceID(ctx))
}

// TraceID 从上下文取追踪ID，优先 zipkin span，其次上下文值，都没有时生成新ID
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return uuid.NewV4().String()
	}
	if span := zipkin.SpanFromContext(ctx); span != nil {
		return span.Context().TraceID.String()
	}
	if traceID, ok := ctx.Value(consts.TraceKey).(string); ok && traceID != "" {
		return traceID
	}
	return uuid.NewV4().String()
}

func (l *Log) WithUserID(userId interface{}) *Log {
	return l.WithField("UserId", userId)
}
