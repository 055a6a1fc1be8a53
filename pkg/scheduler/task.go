package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskType 任务类型
type TaskType string

const (
	TaskTypeOnce     TaskType = "once"
	TaskTypeInterval TaskType = "interval"
	TaskTypeCron     TaskType = "cron"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// TaskExecuteMode 任务执行模式
type TaskExecuteMode int

const (
	// TaskExecuteModeDistributed 多实例部署时只在抢到锁的节点执行
	TaskExecuteModeDistributed TaskExecuteMode = iota
	// TaskExecuteModeLocal 每个实例都执行
	TaskExecuteModeLocal
)

// TaskFunc 任务执行函数
type TaskFunc func(ctx context.Context) error

// Schedule 计算下一次触发时间，返回零值表示不再触发
type Schedule interface {
	Next(t time.Time) time.Time
}

type onceSchedule struct {
	at   time.Time
	done bool
}

func (s *onceSchedule) Next(time.Time) time.Time {
	if s.done {
		return time.Time{}
	}
	s.done = true
	return s.at
}

type everySchedule struct {
	interval time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// cronParser 支持可选的秒字段，"0 0 2 * * *" 与 "0 2 * * *" 都合法
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron 校验并解析 cron 表达式
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Task 调度单元
type Task struct {
	ID      string
	Name    string
	Type    TaskType
	Mode    TaskExecuteMode
	Timeout time.Duration
	Expr    string

	fn       TaskFunc
	schedule Schedule

	mu         sync.Mutex
	status     TaskStatus
	nextTime   time.Time
	lastRun    time.Time
	lastErr    error
	runCount   int64
	failCount  int64
	createTime time.Time
}

// TaskInfo 任务只读快照
type TaskInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      TaskType   `json:"type"`
	Expr      string     `json:"expr,omitempty"`
	Status    TaskStatus `json:"status"`
	NextTime  time.Time  `json:"nextTime"`
	LastRun   time.Time  `json:"lastRun"`
	LastError string     `json:"lastError,omitempty"`
	RunCount  int64      `json:"runCount"`
	FailCount int64      `json:"failCount"`
}

func newTask(name string, typ TaskType, mode TaskExecuteMode, timeout time.Duration, schedule Schedule, fn TaskFunc) *Task {
	now := time.Now()
	t := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Type:       typ,
		Mode:       mode,
		Timeout:    timeout,
		fn:         fn,
		schedule:   schedule,
		status:     TaskStatusWaiting,
		createTime: now,
	}
	return t
}

// NewOnceTask 在指定时间执行一次
func NewOnceTask(name string, executeTime time.Time, mode TaskExecuteMode, timeout time.Duration, fn TaskFunc) *Task {
	t := newTask(name, TaskTypeOnce, mode, timeout, &onceSchedule{at: executeTime}, fn)
	t.nextTime = t.schedule.Next(time.Now())
	return t
}

// NewIntervalTask 从 startTime 开始按固定间隔执行，间隔从上一次执行结束时算起
func NewIntervalTask(name string, startTime time.Time, interval time.Duration, mode TaskExecuteMode, timeout time.Duration, fn TaskFunc) *Task {
	t := newTask(name, TaskTypeInterval, mode, timeout, everySchedule{interval: interval}, fn)
	t.nextTime = startTime
	return t
}

// NewCronTask 按 cron 表达式执行
func NewCronTask(name string, expr string, mode TaskExecuteMode, timeout time.Duration, fn TaskFunc) (*Task, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	t := newTask(name, TaskTypeCron, mode, timeout, schedule, fn)
	t.Expr = expr
	t.nextTime = schedule.Next(time.Now())
	return t, nil
}

// GetTimeout 未设置时默认 30 秒
func (t *Task) GetTimeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return t.Timeout
}

func (t *Task) NextTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextTime
}

func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) ready(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == TaskStatusWaiting && !t.nextTime.IsZero() && !now.Before(t.nextTime)
}

func (t *Task) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// advance 计算下一次触发时间，没有下一次时任务结束
func (t *Task) advance(from time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TaskStatusCanceled {
		return false
	}
	next := t.schedule.Next(from)
	if next.IsZero() {
		t.status = TaskStatusCompleted
		t.nextTime = time.Time{}
		return false
	}
	t.nextTime = next
	t.status = TaskStatusWaiting
	return true
}

func (t *Task) execute(ctx context.Context) error {
	t.setStatus(TaskStatusRunning)

	var err error
	if t.fn != nil {
		err = t.fn(ctx)
	}

	t.mu.Lock()
	t.lastRun = time.Now()
	t.lastErr = err
	t.runCount++
	if err != nil {
		t.failCount++
	}
	t.mu.Unlock()
	return err
}

// Info 返回任务快照
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:        t.ID,
		Name:      t.Name,
		Type:      t.Type,
		Expr:      t.Expr,
		Status:    t.status,
		NextTime:  t.nextTime,
		LastRun:   t.lastRun,
		RunCount:  t.runCount,
		FailCount: t.failCount,
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	return info
}
