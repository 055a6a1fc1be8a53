package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrJobRunning 同名作业仍在执行
var ErrJobRunning = errors.New("job is already running")

// Guard 作业级别的重入保护，定时触发与手动触发共用同一个标记
type Guard struct {
	running atomic.Bool
}

// Run 作业未在执行时运行 fn，否则直接返回 ErrJobRunning
func (g *Guard) Run(ctx context.Context, fn TaskFunc) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer g.running.Store(false)
	return fn(ctx)
}

// Running 是否正在执行
func (g *Guard) Running() bool {
	return g.running.Load()
}

// Exclusive 包装任务函数，重叠调用返回 ErrJobRunning
func Exclusive(fn TaskFunc) TaskFunc {
	g := &Guard{}
	return func(ctx context.Context) error {
		return g.Run(ctx, fn)
	}
}
