package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler 进程内任务调度器
//
// 任务执行期间不在堆中，执行结束后才计算下一次时间并重新入堆，
// 因此同一个任务永远不会与自己重叠执行。
type Scheduler struct {
	name       string
	locker     Locker
	lockPrefix string
	maxWorkers int
	logger     *zap.Logger

	isRunning atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	queue   *taskQueue
	mu      sync.Mutex
	running map[string]*Task

	workerSemaphore chan struct{}

	timer   *time.Timer
	timerMu sync.Mutex

	stats *SchedulerStats
}

// SchedulerStats 调度器统计信息
type SchedulerStats struct {
	mu              sync.RWMutex
	TotalTasks      int64     `json:"totalTasks"`
	CompletedRuns   int64     `json:"completedRuns"`
	FailedRuns      int64     `json:"failedRuns"`
	SkippedRuns     int64     `json:"skippedRuns"`
	LastExecuteTime time.Time `json:"lastExecuteTime"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	Name       string
	MaxWorkers int
	// Locker 为空时分布式任务退化为本地执行
	Locker     Locker
	LockPrefix string
	Logger     *zap.Logger
}

// DefaultSchedulerConfig 默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Name:       "academyops",
		MaxWorkers: 10,
		LockPrefix: "academyops:scheduler:",
	}
}

// NewScheduler 创建调度器
func NewScheduler(config SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.LockPrefix == "" {
		config.LockPrefix = def.LockPrefix
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		name:            config.Name,
		locker:          config.Locker,
		lockPrefix:      config.LockPrefix,
		maxWorkers:      config.MaxWorkers,
		logger:          config.Logger.Named("scheduler"),
		ctx:             ctx,
		cancel:          cancel,
		queue:           newTaskQueue(),
		running:         make(map[string]*Task),
		workerSemaphore: make(chan struct{}, config.MaxWorkers),
		stats:           &SchedulerStats{},
	}
}

// Start 启动调度器，Start 之前添加的任务会在启动后开始计时
func (s *Scheduler) Start() error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("调度器已关闭，不能再次启动")
	}
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("调度器已经在运行")
	}
	s.logger.Info("启动调度器", zap.String("name", s.name), zap.Int("tasks", s.queue.size()))
	s.resetTimer()
	return nil
}

// Stop 停止调度器并等待执行中的任务结束，可重复调用
func (s *Scheduler) Stop() error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.logger.Info("停止调度器", zap.String("name", s.name))
	s.cancel()
	s.stopTimer()
	s.wg.Wait()
	s.logger.Info("调度器已停止", zap.String("name", s.name))
	return nil
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task *Task) error {
	if task == nil {
		return errors.New("任务不能为空")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("调度器已关闭")
	}

	s.queue.push(task)
	s.stats.mu.Lock()
	s.stats.TotalTasks++
	s.stats.mu.Unlock()

	s.logger.Debug("添加任务", zap.String("task", task.Name), zap.String("id", task.ID),
		zap.Time("next", task.NextTime()))
	s.resetTimer()
	return nil
}

// RemoveTask 移除任务，执行中的任务会在本次结束后不再入堆
func (s *Scheduler) RemoveTask(taskID string) bool {
	if t := s.queue.remove(taskID); t != nil {
		t.setStatus(TaskStatusCanceled)
		s.resetTimer()
		return true
	}

	s.mu.Lock()
	t, ok := s.running[taskID]
	s.mu.Unlock()
	if ok {
		t.mu.Lock()
		t.status = TaskStatusCanceled
		t.mu.Unlock()
		return true
	}
	return false
}

// ListTasks 列出排队与执行中的任务
func (s *Scheduler) ListTasks() []TaskInfo {
	var infos []TaskInfo
	for _, t := range s.queue.list() {
		infos = append(infos, t.Info())
	}
	s.mu.Lock()
	for _, t := range s.running {
		infos = append(infos, t.Info())
	}
	s.mu.Unlock()
	return infos
}

// GetStats 获取统计信息副本
func (s *Scheduler) GetStats() SchedulerStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return SchedulerStats{
		TotalTasks:      s.stats.TotalTasks,
		CompletedRuns:   s.stats.CompletedRuns,
		FailedRuns:      s.stats.FailedRuns,
		SkippedRuns:     s.stats.SkippedRuns,
		LastExecuteTime: s.stats.LastExecuteTime,
	}
}

func (s *Scheduler) resetTimer() {
	if !s.isRunning.Load() {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	next, ok := s.queue.nextTime()
	if !ok {
		return
	}

	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	s.timer = time.AfterFunc(wait, s.onTimerFired)
}

func (s *Scheduler) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onTimerFired() {
	if !s.isRunning.Load() {
		return
	}

	for _, task := range s.queue.popReady(time.Now()) {
		s.dispatch(task)
	}
	s.resetTimer()
}

func (s *Scheduler) dispatch(task *Task) {
	select {
	case s.workerSemaphore <- struct{}{}:
	default:
		s.logger.Warn("工作者池已满，任务延后执行", zap.String("task", task.Name))
		task.mu.Lock()
		task.nextTime = time.Now().Add(time.Second)
		task.mu.Unlock()
		s.queue.push(task)
		return
	}

	s.mu.Lock()
	s.running[task.ID] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workerSemaphore }()

		s.runTask(task)

		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()

		if task.advance(time.Now()) && s.isRunning.Load() {
			s.queue.push(task)
			s.resetTimer()
		}
	}()
}

// runTask 执行一次任务，任务内部的 panic 不会影响调度器
func (s *Scheduler) runTask(task *Task) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("任务执行崩溃", zap.String("task", task.Name), zap.Any("panic", r))
			s.stats.mu.Lock()
			s.stats.FailedRuns++
			s.stats.mu.Unlock()
		}
	}()

	if task.Mode == TaskExecuteModeDistributed && s.locker != nil {
		lock, err := s.locker.Obtain(ctx, s.lockPrefix+task.Name, task.GetTimeout())
		if err != nil {
			if errors.Is(err, ErrLockNotObtained) {
				s.logger.Debug("其他节点正在执行，跳过", zap.String("task", task.Name))
			} else {
				s.logger.Warn("获取任务锁失败，跳过", zap.String("task", task.Name), zap.Error(err))
			}
			s.stats.mu.Lock()
			s.stats.SkippedRuns++
			s.stats.mu.Unlock()
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				s.logger.Warn("释放任务锁失败", zap.String("task", task.Name), zap.Error(err))
			}
		}()
	}

	err := task.execute(ctx)
	duration := time.Since(start)

	s.stats.mu.Lock()
	s.stats.LastExecuteTime = start
	if err != nil {
		s.stats.FailedRuns++
	} else {
		s.stats.CompletedRuns++
	}
	s.stats.mu.Unlock()

	switch {
	case errors.Is(err, ErrJobRunning):
		s.logger.Warn("任务上一次执行尚未结束，本次跳过", zap.String("task", task.Name))
	case err != nil:
		s.logger.Error("任务执行失败", zap.String("task", task.Name), zap.Duration("duration", duration), zap.Error(err))
	default:
		s.logger.Debug("任务执行成功", zap.String("task", task.Name), zap.Duration("duration", duration))
	}
}
