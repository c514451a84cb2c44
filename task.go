package pathspace

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ExecutionCategory selects when a deferred computation is submitted to the
// worker pool.
type ExecutionCategory int

const (
	// ExecutionImmediate submits the task at insert time.
	ExecutionImmediate ExecutionCategory = iota
	// ExecutionLazy submits the task on the first read or take that
	// observes it unstarted.
	ExecutionLazy
)

// Deferred wraps a computation inserted as a value. Its result materializes
// at the insertion path once the task has run; until then reads report the
// value as not yet available.
type Deferred struct {
	Fn       func() (any, error)
	Category ExecutionCategory
}

// TaskState is the lifecycle phase of a deferred computation.
type TaskState int32

const (
	TaskNotStarted TaskState = iota
	TaskStarting
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskNotStarted:
		return "not-started"
	case TaskStarting:
		return "starting"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	}
	return fmt.Sprintf("TaskState(%d)", int32(s))
}

// Task is one queued deferred computation. It lives in a leaf's execution
// queue until consumed. Every state transition is a single compare-and-swap,
// which is what guarantees at-most-once submission from racing readers.
type Task struct {
	fn         func() (any, error)
	category   ExecutionCategory
	notifyPath string
	notify     func(path string)

	state  int32
	done   chan struct{}
	result any
	err    error

	arena *taskArena
}

func (t *Task) State() TaskState {
	return TaskState(atomic.LoadInt32(&t.state))
}

// HasStarted reports whether the task left NotStarted.
func (t *Task) HasStarted() bool {
	return t.State() != TaskNotStarted
}

// TryStart claims the task for submission. Only one claimant ever wins.
func (t *Task) TryStart() bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(TaskNotStarted), int32(TaskStarting))
}

func (t *Task) transitionToRunning() bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(TaskStarting), int32(TaskRunning))
}

// markCompleted publishes the result. The atomic state store orders the
// result write before any reader that observes TaskCompleted.
func (t *Task) markCompleted(result any) {
	t.result = result
	if atomic.CompareAndSwapInt32(&t.state, int32(TaskRunning), int32(TaskCompleted)) {
		close(t.done)
	}
}

// markFailed records failure. A no-op once Completed: a completed result
// always wins the race against a late failure report.
func (t *Task) markFailed(err error) {
	if t.State() == TaskCompleted {
		return
	}
	t.err = err
	if atomic.CompareAndSwapInt32(&t.state, int32(TaskRunning), int32(TaskFailed)) ||
		atomic.CompareAndSwapInt32(&t.state, int32(TaskStarting), int32(TaskFailed)) {
		close(t.done)
	}
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) reset(fn func() (any, error), category ExecutionCategory, notifyPath string, notify func(string)) {
	t.fn = fn
	t.category = category
	t.notifyPath = notifyPath
	t.notify = notify
	atomic.StoreInt32(&t.state, int32(TaskNotStarted))
	t.done = make(chan struct{})
	t.result = nil
	t.err = nil
}

// taskArena is a capacity-bounded allocation pool for tasks. Exhaustion is
// not an error: allocation falls back to the heap and the surplus task is
// simply not recycled.
type taskArena struct {
	mu          sync.Mutex
	free        []*Task
	outstanding int
	capacity    int
}

func newTaskArena(capacity int) *taskArena {
	return &taskArena{capacity: capacity}
}

func (a *taskArena) acquire(fn func() (any, error), category ExecutionCategory, notifyPath string, notify func(string)) *Task {
	a.mu.Lock()
	var t *Task
	if n := len(a.free); n > 0 {
		t = a.free[n-1]
		a.free = a.free[:n-1]
	} else if a.outstanding < a.capacity {
		t = &Task{arena: a}
		a.outstanding++
	}
	a.mu.Unlock()
	if t == nil {
		t = &Task{}
	}
	t.reset(fn, category, notifyPath, notify)
	return t
}

// release returns a consumed task to the pool. Heap-fallback tasks have no
// arena and are dropped for the garbage collector.
func (a *taskArena) release(t *Task) {
	if t.arena != a {
		return
	}
	t.fn = nil
	t.notify = nil
	t.result = nil
	t.err = nil
	a.mu.Lock()
	a.free = append(a.free, t)
	a.mu.Unlock()
}
