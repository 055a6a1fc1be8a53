package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cfg SchedulerConfig) *Scheduler {
	s := NewScheduler(cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestIntervalTaskRunsRepeatedly(t *testing.T) {
	s := newTestScheduler(t, SchedulerConfig{})

	var runs atomic.Int32
	task := NewIntervalTask("tick", time.Now(), 10*time.Millisecond, TaskExecuteModeLocal, time.Second,
		func(ctx context.Context) error {
			runs.Add(1)
			return nil
		})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.GetStats().CompletedRuns, int64(3))
}

func TestTaskNeverOverlapsItself(t *testing.T) {
	s := newTestScheduler(t, SchedulerConfig{})

	var (
		current atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
	)
	task := NewIntervalTask("slow", time.Now(), time.Millisecond, TaskExecuteModeLocal, time.Second,
		func(ctx context.Context) error {
			n := current.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			runs.Add(1)
			return nil
		})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestOnceTaskCompletes(t *testing.T) {
	s := newTestScheduler(t, SchedulerConfig{})

	done := make(chan struct{})
	task := NewOnceTask("once", time.Now().Add(5*time.Millisecond), TaskExecuteModeLocal, time.Second,
		func(ctx context.Context) error {
			close(done)
			return nil
		})
	require.NoError(t, s.AddTask(task))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("一次性任务没有执行")
	}
	assert.Eventually(t, func() bool { return task.Status() == TaskStatusCompleted }, time.Second, 5*time.Millisecond)
}

func TestPanicDoesNotStopScheduler(t *testing.T) {
	s := newTestScheduler(t, SchedulerConfig{})

	var runs atomic.Int32
	task := NewIntervalTask("boom", time.Now(), 5*time.Millisecond, TaskExecuteModeLocal, time.Second,
		func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestRemoveTask(t *testing.T) {
	s := newTestScheduler(t, SchedulerConfig{})

	task := NewIntervalTask("later", time.Now().Add(time.Hour), time.Hour, TaskExecuteModeLocal, time.Second, nil)
	require.NoError(t, s.AddTask(task))
	assert.Len(t, s.ListTasks(), 1)

	assert.True(t, s.RemoveTask(task.ID))
	assert.False(t, s.RemoveTask(task.ID))
	assert.Empty(t, s.ListTasks())
	assert.Equal(t, TaskStatusCanceled, task.Status())
}

func TestCronExpressions(t *testing.T) {
	_, err := NewCronTask("bad", "not a cron", TaskExecuteModeLocal, time.Second, nil)
	assert.Error(t, err)

	withSeconds, err := NewCronTask("daily", "0 0 2 * * *", TaskExecuteModeLocal, time.Second, nil)
	require.NoError(t, err)
	next := withSeconds.NextTime()
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())

	_, err = NewCronTask("fiveFields", "30 1 * * *", TaskExecuteModeLocal, time.Second, nil)
	assert.NoError(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.Error(t, s.Start())
}

type refusingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *refusingLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return nil, ErrLockNotObtained
}

func TestDistributedTaskSkippedWithoutLock(t *testing.T) {
	locker := &refusingLocker{}
	s := newTestScheduler(t, SchedulerConfig{Locker: locker})

	var ran atomic.Bool
	task := NewIntervalTask("backup", time.Now(), 5*time.Millisecond, TaskExecuteModeDistributed, time.Second,
		func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return s.GetStats().SkippedRuns >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load())

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, "academyops:scheduler:backup", locker.keys[0])
}

func TestExclusiveRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fn := Exclusive(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- fn(context.Background()) }()
	<-started

	assert.ErrorIs(t, fn(context.Background()), ErrJobRunning)
	close(release)
	assert.NoError(t, <-errCh)
}
