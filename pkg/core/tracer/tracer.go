package tracer

import (
	"context"

	"academyops/pkg/core/consts"

	"github.com/openzipkin/zipkin-go"
	uuid "github.com/satori/go.uuid"
)

// Tracer 请求链路追踪
type Tracer interface {
	StartTrace(ctx context.Context, name string) (context.Context, string, func())
	// StartTraceWithParent parent 为上游透传的追踪上下文，格式由实现决定
	StartTraceWithParent(ctx context.Context, name string, parent string) (context.Context, string, func(), error)
}

// New 配置了 zipkin 时返回 ZipkinTracer，否则只生成追踪ID
func New(zt *zipkin.Tracer, appName string) Tracer {
	if zt == nil {
		return NewSimpleTracer()
	}
	return NewZipkinTracer(zt, appName)
}

// SimpleTracer 不上报，只生成和传递追踪ID
type SimpleTracer struct{}

func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{}
}

func (t *SimpleTracer) StartTrace(ctx context.Context, _ string) (context.Context, string, func()) {
	traceID := uuid.NewV4().String()
	return context.WithValue(ctx, consts.TraceKey, traceID), traceID, func() {}
}

// StartTraceWithParent 直接沿用上游的追踪ID
func (t *SimpleTracer) StartTraceWithParent(ctx context.Context, name string, parent string) (context.Context, string, func(), error) {
	if parent == "" {
		ctx, id, finish := t.StartTrace(ctx, name)
		return ctx, id, finish, nil
	}
	return context.WithValue(ctx, consts.TraceKey, parent), parent, func() {}, nil
}
