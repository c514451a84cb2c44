package pathspace

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultWorkerCount is the number of pool workers a Space starts when its
// Config does not say otherwise.
const DefaultWorkerCount = 4

// TaskPool runs deferred computations on a fixed set of worker goroutines
// pulling a FIFO queue. A pool may be shared between spaces by passing it in
// Config.
type TaskPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Task
	shutdown bool

	active int64
	wg     sync.WaitGroup
	size   int
}

// NewTaskPool starts a pool of n workers.
func NewTaskPool(n int) *TaskPool {
	if n <= 0 {
		n = DefaultWorkerCount
	}
	p := &TaskPool{size: n}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *TaskPool) Size() int {
	return p.size
}

// ActiveTasks returns the number of tasks currently executing.
func (p *TaskPool) ActiveTasks() int {
	return int(atomic.LoadInt64(&p.active))
}

// Add submits a task. The TryStart compare-and-swap makes submission
// at-most-once: the loser of a racing lazy submit gets a nil error and no
// second enqueue.
func (p *TaskPool) Add(t *Task) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	if !t.TryStart() {
		p.mu.Unlock()
		return nil
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	p.mu.Unlock()
	return nil
}

// Shutdown stops accepting tasks, lets workers drain the queue, and joins
// them.
func (p *TaskPool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *TaskPool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.shutdown {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(t)
	}
}

func (p *TaskPool) run(t *Task) {
	if !t.transitionToRunning() {
		return
	}
	atomic.AddInt64(&p.active, 1)
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.markFailed(fmt.Errorf("%w: panic: %v", ErrTaskFailed, r))
			}
		}()
		result, err := t.fn()
		if err != nil {
			t.markFailed(fmt.Errorf("%w: %v", ErrTaskFailed, err))
			return
		}
		t.markCompleted(result)
	}()
	atomic.AddInt64(&p.active, -1)

	// Wake blocked readers of the task's insertion path now that its
	// result (or failure) is observable.
	if t.notify != nil && t.notifyPath != "" {
		t.notify(t.notifyPath)
	}
}
