// Package queue holds tasks between receipt from the coordination server
// and execution. The scheduler is the only mutator; the health loop, admin
// listener, and update watcher read the size from their own goroutines, so
// access is guarded by a mutex.
package queue

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-agent/internal/metrics"
	"github.com/sungwon/mail-agent/internal/task"
)

// Queue is an ordered in-memory sequence of pending tasks. Removal is FIFO
// for drain processing, but tasks may also be removed by identity when a
// batch completes out of strict order.
type Queue struct {
	mu    sync.Mutex
	tasks []task.Task
	log   zerolog.Logger
}

// MemoryStats is a diagnostic snapshot of the queue and process memory.
// It is exposed for observability only, never for control flow.
type MemoryStats struct {
	QueueSize  int    `json:"queueSize"`
	HeapAlloc  uint64 `json:"heapAllocBytes"`
	Goroutines int    `json:"goroutines"`
}

// New creates an empty Queue.
func New(log zerolog.Logger) *Queue {
	return &Queue{log: log}
}

// Size returns the number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Enqueue appends tasks in order. It never rejects.
func (q *Queue) Enqueue(tasks []task.Task) {
	if len(tasks) == 0 {
		return
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	size := len(q.tasks)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(size))
	q.log.Info().
		Int("added", len(tasks)).
		Int("queue_size", size).
		Msg("tasks enqueued")
}

// DequeueFront removes and returns the oldest task, FIFO order. The second
// return value is false when the queue is empty.
func (q *Queue) DequeueFront() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task.Task{}, false
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	metrics.QueueDepth.Set(float64(len(q.tasks)))
	return t, true
}

// RemoveByID removes the task with the given queue ID, wherever it sits.
// Returns false when no such task is queued.
func (q *Queue) RemoveByID(queueID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t.QueueID == queueID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			metrics.QueueDepth.Set(float64(len(q.tasks)))
			return true
		}
	}
	return false
}

// DrainAll empties the queue and returns how many tasks were discarded.
// Permitted only during shutdown, after the caller has confirmed the
// remaining tasks are being abandoned intentionally.
func (q *Queue) DrainAll() int {
	q.mu.Lock()
	n := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()

	metrics.QueueDepth.Set(0)
	if n > 0 {
		q.log.Warn().Int("discarded", n).Msg("queue drained, unprocessed tasks discarded")
	}
	return n
}

// Stats returns a diagnostic snapshot.
func (q *Queue) Stats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return MemoryStats{
		QueueSize:  q.Size(),
		HeapAlloc:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}
}
