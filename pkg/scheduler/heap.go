package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// taskQueue 按下次执行时间排序的最小堆
type taskQueue struct {
	mu    sync.Mutex
	items taskItems
}

type taskItems []*Task

func (q taskItems) Len() int { return len(q) }

func (q taskItems) Less(i, j int) bool {
	return q[i].NextTime().Before(q[j].NextTime())
}

func (q taskItems) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskItems) Push(x interface{}) {
	*q = append(*q, x.(*Task))
}

func (q *taskItems) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	heap.Init(&q.items)
	return q
}

func (q *taskQueue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, t)
}

func (q *taskQueue) remove(id string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.items {
		if t.ID == id {
			return heap.Remove(&q.items, i).(*Task)
		}
	}
	return nil
}

// nextTime 堆顶任务的执行时间，空堆返回 false
func (q *taskQueue) nextTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].NextTime(), true
}

// popReady 弹出所有到期任务
func (q *taskQueue) popReady(now time.Time) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*Task
	for len(q.items) > 0 && q.items[0].ready(now) {
		ready = append(ready, heap.Pop(&q.items).(*Task))
	}
	return ready
}

func (q *taskQueue) list() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.items))
	copy(out, q.items)
	return out
}

func (q *taskQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
