package pathspace

import (
	"sync"
	"time"
)

// waitMap is the blocking read/take registry: one entry per path that has
// (or has had) waiters, each with its own condition variable. All entries
// share the registry mutex as their locker, so a guard's wait atomically
// releases the same lock under which availability was re-checked and a
// wakeup cannot be missed.
type waitMap struct {
	mu      sync.Mutex
	entries map[string]*waitEntry
	total   int
	gen     uint64
}

type waitEntry struct {
	cond    *sync.Cond
	waiters int
}

func newWaitMap() *waitMap {
	return &waitMap{entries: map[string]*waitEntry{}}
}

// Wait registers a waiter on path and returns a guard holding the registry
// lock. The caller re-checks availability, then blocks via the guard's wait
// methods, and must call Done exactly once when finished (on every return
// path).
func (w *waitMap) Wait(path string) *waitGuard {
	w.mu.Lock()
	e := w.entries[path]
	if e == nil {
		e = &waitEntry{cond: sync.NewCond(&w.mu)}
		w.entries[path] = e
	}
	e.waiters++
	w.total++
	return &waitGuard{w: w, e: e, gen: w.gen}
}

// Notify wakes waiters registered on path, plus any waiter parked on a
// glob pattern the path matches. Notifying a glob expands nothing; the
// pattern side of the match is always the waiter's. Unknown paths are a
// no-op.
func (w *waitMap) Notify(path string) {
	w.mu.Lock()
	for key, e := range w.entries {
		if key == path {
			e.cond.Broadcast()
			continue
		}
		if ok, err := MatchPaths(key, path); err == nil && ok {
			e.cond.Broadcast()
		}
	}
	w.mu.Unlock()
}

// NotifyAll wakes every registered path's waiters.
func (w *waitMap) NotifyAll() {
	w.mu.Lock()
	for _, e := range w.entries {
		e.cond.Broadcast()
	}
	w.mu.Unlock()
}

// Clear drops all entries and advances the registry generation. Every
// parked waiter is broadcast first; a waiter that wakes on a dropped entry
// observes the stale generation through its guard and stops retrying.
func (w *waitMap) Clear() {
	w.mu.Lock()
	w.gen++
	for _, e := range w.entries {
		e.cond.Broadcast()
	}
	w.entries = map[string]*waitEntry{}
	w.total = 0
	w.mu.Unlock()
}

// HasWaiters reports whether any waiter is currently registered.
func (w *waitMap) HasWaiters() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total > 0
}

// waitGuard scopes one registered waiter. Between Wait(path) and Done the
// registry lock is held except while parked inside a wait call.
type waitGuard struct {
	w        *waitMap
	e        *waitEntry
	gen      uint64
	released bool
}

// Stale reports whether the registry was cleared since this guard was
// taken. Must be called with the registry lock held, as between the
// guard's wait calls.
func (g *waitGuard) Stale() bool {
	return g.w.gen != g.gen
}

// Wait parks until a notification (or spurious wakeup).
func (g *waitGuard) Wait() {
	g.e.cond.Wait()
}

// WaitUntil parks until a notification or the deadline. Returns true if the
// deadline has passed. sync.Cond has no timed wait; a timer broadcast
// substitutes for one.
func (g *waitGuard) WaitUntil(deadline time.Time) (timedOut bool) {
	if !time.Now().Before(deadline) {
		return true
	}
	timer := time.AfterFunc(time.Until(deadline), g.e.cond.Broadcast)
	g.e.cond.Wait()
	timer.Stop()
	return !time.Now().Before(deadline)
}

// WaitUntilPred parks until pred holds or the deadline passes. Returns
// whether pred was satisfied. pred runs under the registry lock.
func (g *waitGuard) WaitUntilPred(deadline time.Time, pred func() bool) bool {
	for !pred() {
		if g.WaitUntil(deadline) {
			return pred()
		}
	}
	return true
}

// Done deregisters the waiter and releases the registry lock. Safe on every
// return path; extra calls are no-ops.
func (g *waitGuard) Done() {
	if g.released {
		return
	}
	g.released = true
	if g.e.waiters > 0 {
		g.e.waiters--
	}
	if g.w.total > 0 {
		g.w.total--
	}
	g.w.mu.Unlock()
}
