package pathspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config carries the tunables for a Space. The zero value is usable:
// JSON value codec, a private worker pool, a lookup cache, and no
// snapshot layer.
type Config struct {
	// Marshal and Unmarshal encode values that do not take the inline
	// fast path. They default to encoding/json.
	Marshal   func(any) ([]byte, error)
	Unmarshal func([]byte, any) error

	// Workers sizes the private worker pool. Ignored when Pool is set.
	Workers int

	// Pool shares a worker pool across spaces. The caller owns its
	// shutdown; Close leaves it running.
	Pool *TaskPool

	// TaskArenaSize bounds the recycled task allocation arena.
	// Exhaustion falls back to plain heap allocation.
	TaskArenaSize int

	// CacheSize and CacheTTL shape the path lookup cache. CacheSize <= 0
	// disables it; CacheTTL defaults to a minute.
	CacheSize int
	CacheTTL  time.Duration

	// SnapshotDebounce enables the snapshot layer: once writes quiet
	// down for this long, a fresh immutable copy serves clean peeks
	// without touching the live tree's locks. Zero disables it.
	SnapshotDebounce time.Duration

	// Debug dumps operation traces to stdout.
	Debug bool
}

const (
	defaultCacheSize     = 1024
	defaultCacheTTL      = time.Minute
	defaultTaskArenaSize = 128
)

// Space is a concurrent, hierarchical, path-addressable value store.
// Producers insert typed values at paths; consumers read (peek) or take
// (pop) them, optionally blocking until data arrives. Glob patterns fan
// one operation out across matching locations, and values may be deferred
// computations whose results materialize on demand.
//
// All methods are safe for concurrent use.
type Space struct {
	root      *leaf
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	waiters   *waitMap
	pool      *TaskPool
	ownPool   bool
	arena     *taskArena
	cache     *lookupCache
	snap      *snapshotLayer
	debug     bool
}

// New creates a Space from cfg. Pass Config{} for the defaults.
func New(cfg Config) *Space {
	if cfg.Marshal == nil {
		cfg.Marshal = json.Marshal
	}
	if cfg.Unmarshal == nil {
		cfg.Unmarshal = json.Unmarshal
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerCount
	}
	if cfg.TaskArenaSize <= 0 {
		cfg.TaskArenaSize = defaultTaskArenaSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	s := &Space{
		root:      newLeaf(),
		marshal:   cfg.Marshal,
		unmarshal: cfg.Unmarshal,
		waiters:   newWaitMap(),
		arena:     newTaskArena(cfg.TaskArenaSize),
		cache:     newLookupCache(cfg.CacheSize, cfg.CacheTTL),
		debug:     cfg.Debug,
	}
	if cfg.Pool != nil {
		s.pool = cfg.Pool
	} else {
		s.pool = NewTaskPool(cfg.Workers)
		s.ownPool = true
	}
	s.snap = newSnapshotLayer(s.root, cfg.SnapshotDebounce)
	return s
}

// OutOptions shapes one Read or Take.
type OutOptions struct {
	// Block parks the caller until a matching value arrives.
	Block bool
	// Timeout bounds a blocking call; expiry returns ErrTimeout. Zero
	// with Block set waits until the value arrives or ctx is done.
	Timeout time.Duration
}

// Insert appends value at every location path addresses. Concrete
// components create missing nodes; glob components only match existing
// ones. A Deferred value enqueues a computation, a *Space value mounts a
// nested space, anything else is stored as data.
//
// Fan-out is partial-failure tolerant: the result aggregates per-branch
// counts and errors, and one bad branch never aborts its siblings. The
// returned error covers only structural problems with path itself.
func (s *Space) Insert(path string, value any) (InsertResult, error) {
	comps, err := parseGlobPath(path)
	if err != nil {
		return InsertResult{}, err
	}
	if len(comps) == 0 {
		return InsertResult{}, fmt.Errorf("%w: cannot insert at the root", ErrInvalidPath)
	}
	op := &insertOp{space: s, notify: s.waiters.Notify}
	switch v := value.(type) {
	case Deferred:
		op.deferred = &v
	case *Deferred:
		op.deferred = v
	case *Space:
		op.mount = v
	default:
		op.value = value
	}
	var res InsertResult
	s.root.insert("", comps, op, &res)
	s.finishInsert(&res)
	if s.debug {
		fmt.Printf("insert %s: %d values, %d spaces, %d tasks, %d errors\n",
			path, res.ValuesInserted, res.SpacesInserted, res.TasksInserted, len(res.Errors))
	}
	return res, nil
}

// finishInsert submits immediate tasks and wakes waiters, strictly after
// every leaf lock has been released.
func (s *Space) finishInsert(res *InsertResult) {
	for _, t := range res.tasks {
		if t.category == ExecutionImmediate {
			if err := s.pool.Add(t); err != nil {
				res.Errors = append(res.Errors, err)
			}
		}
	}
	for _, p := range res.notified {
		s.snap.markDirty(p)
		s.waiters.Notify(p)
	}
}

// newTask builds a task for a deferred value landing at path. Completion
// calls notify(path) so blocked readers observe the result; notify is
// chained across mount boundaries so host-side waiters wake too.
func (s *Space) newTask(d *Deferred, path string, notify func(string)) *Task {
	return s.arena.acquire(d.Fn, d.Category, path, notify)
}

func (s *Space) deps() outDeps {
	return outDeps{
		unmarshal: s.unmarshal,
		submit:    s.pool.Add,
		release:   s.arena.release,
	}
}

// Read peeks the front value at path into out without removing it. out
// must be a non-nil pointer; *any accepts whatever type is queued, any
// other pointer type-checks against the stored value. A final component
// "name[n]" peeks the n-th queued value of the requested type instead of
// the front.
func (s *Space) Read(ctx context.Context, path string, out any, opts ...OutOptions) error {
	return s.outer(ctx, path, out, false, opts)
}

// Take reads like Read and then removes the consumed value. Indexed
// addressing is peek-only; Take of an indexed path still pops nothing.
func (s *Space) Take(ctx context.Context, path string, out any, opts ...OutOptions) error {
	return s.outer(ctx, path, out, true, opts)
}

func (s *Space) outer(ctx context.Context, path string, out any, pop bool, opts []OutOptions) error {
	var o OutOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	comps, err := parseGlobPath(path)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return fmt.Errorf("%w: cannot read the root", ErrInvalidPath)
	}

	if !pop && !o.Block {
		if err, ok := s.snapshotRead(comps, out); ok {
			return err
		}
	}

	if !o.Block {
		return s.out(comps, out, pop)
	}

	err = s.out(comps, out, pop)
	if err == nil || !retryable(err) {
		return err
	}

	// an indexed final component waits under its base path, which is
	// what inserts notify
	waitPath := path
	if base, _, ok := parseIndex(comps[len(comps)-1]); ok && !isGlob(base) {
		waitPath = joinPath(append(append([]string(nil), comps[:len(comps)-1]...), base))
	}

	var deadline time.Time
	if o.Timeout > 0 {
		deadline = time.Now().Add(o.Timeout)
	}
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
			deadline = d
		}
		if ctx.Done() != nil {
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-ctx.Done():
					s.waiters.Notify(waitPath)
				case <-stop:
				}
			}()
		}
	}

	g := s.waiters.Wait(waitPath)
	defer g.Done()
	for {
		// re-check under the registry lock so a notification between
		// the last attempt and parking cannot be missed
		err = s.out(comps, out, pop)
		if err == nil || !retryable(err) {
			return err
		}
		if g.Stale() {
			return fmt.Errorf("%w: %s: space was cleared", ErrNoSuchPath, path)
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if deadline.IsZero() {
			g.Wait()
			continue
		}
		if g.WaitUntil(deadline) {
			err = s.out(comps, out, pop)
			if err == nil || !retryable(err) {
				return err
			}
			return fmt.Errorf("%w: %s after %v", ErrTimeout, path, o.Timeout)
		}
	}
}

// retryable reports whether a blocking caller should park and try again:
// the value may simply not exist yet.
func retryable(err error) bool {
	return errors.Is(err, ErrNoObjectFound) || errors.Is(err, ErrNoSuchPath)
}

// snapshotRead serves a non-blocking peek of a concrete path from the
// snapshot layer. The second return is false when the snapshot cannot
// serve it and the live tree should.
func (s *Space) snapshotRead(comps []string, out any) (error, bool) {
	if !s.snap.enabled() || isGlobPathIgnoringIndex(comps) {
		return nil, false
	}
	last := comps[len(comps)-1]
	base, idx, hasIdx := parseIndex(last)
	key := joinPath(comps)
	if hasIdx {
		key = joinPath(append(append([]string(nil), comps[:len(comps)-1]...), base))
	}
	nd, ok := s.snap.lookup(key)
	if !ok {
		return nil, false
	}
	if hasIdx {
		return nd.readAt(out, idx, s.deps()), true
	}
	return nd.deserialize(out, false, s.deps()), true
}

// isGlobPathIgnoringIndex is isGlobPath except that a final "base[n]"
// indexed component with a concrete base does not count as a glob.
func isGlobPathIgnoringIndex(comps []string) bool {
	for i, c := range comps {
		if !isGlob(c) {
			continue
		}
		if i == len(comps)-1 {
			if base, _, ok := parseIndex(c); ok && !isGlob(base) {
				continue
			}
		}
		return true
	}
	return false
}

// out performs one non-blocking read or take against the live tree, going
// through the lookup cache for plain concrete paths.
func (s *Space) out(comps []string, out any, pop bool) error {
	concrete := !isGlobPathIgnoringIndex(comps)
	_, _, lastIdx := parseIndex(comps[len(comps)-1])
	cacheable := concrete && !lastIdx
	var key string
	if cacheable {
		key = joinPath(comps)
		if lf := s.cache.get(key); lf != nil {
			if err, ok := s.cachedOut(lf, out, pop, key); ok {
				return err
			}
			s.cache.invalidate(key)
		}
	}
	op := &outOp{pop: pop, deps: s.deps()}
	err := s.root.out("", comps, out, op)
	for _, p := range op.touched {
		s.snap.markDirty(p)
	}
	if err == nil && cacheable {
		if lf := s.root.resolve(comps); lf != nil {
			s.cache.put(key, lf)
		}
	}
	return err
}

// cachedOut reads straight from a cached leaf. The second return is false
// when the entry went stale and the caller should walk the tree.
func (s *Space) cachedOut(lf *leaf, out any, pop bool, key string) (error, bool) {
	lf.mu.Lock()
	if lf.detached || lf.data == nil {
		lf.mu.Unlock()
		return nil, false
	}
	err := lf.data.deserialize(out, pop, s.deps())
	lf.mu.Unlock()
	if err == nil && pop {
		s.snap.markDirty(key)
	}
	return err, true
}

// forwardInsert lands an insert arriving through a mount in this space's
// tree, under this space's codec, pool, and notifications. prefix is the
// host-side path of the mount node; the returned result carries the
// notified paths re-prefixed with it, so the host wakes its own waiters
// blocked on the full host-side path. Task notifiers are chained the same
// way for completion wakeups.
func (s *Space) forwardInsert(prefix string, comps []string, op *insertOp) InsertResult {
	fop := *op
	fop.space = s
	hostNotify := op.notify
	fop.notify = func(p string) {
		s.waiters.Notify(p)
		if hostNotify != nil {
			hostNotify(prefix + p)
		}
	}
	var res InsertResult
	if len(comps) == 0 {
		res.Errors = append(res.Errors, fmt.Errorf("%w: insert lands on a mounted space", ErrInvalidPathComponent))
		return res
	}
	s.root.insert("", comps, &fop, &res)
	s.finishInsert(&res)
	for i, p := range res.notified {
		res.notified[i] = prefix + p
	}
	res.tasks = nil
	return res
}

// forwardOut serves a read or take arriving through a mount.
func (s *Space) forwardOut(comps []string, out any, op *outOp) error {
	if len(comps) == 0 {
		return fmt.Errorf("%w: mounted space itself holds no value", ErrNoObjectFound)
	}
	fop := &outOp{pop: op.pop, deps: s.deps()}
	err := s.root.out("", comps, out, fop)
	for _, p := range fop.touched {
		s.snap.markDirty(p)
	}
	return err
}

// forwardList serves a ListChildren arriving through a mount.
func (s *Space) forwardList(comps []string) ([]string, error) {
	return s.root.list(comps)
}

// ListChildren returns the sorted, deduplicated child names under path.
// A name holding extra mounts also appears with "[1]", "[2]"… suffixes.
func (s *Space) ListChildren(path string) ([]string, error) {
	comps, err := parseGlobPath(path)
	if err != nil {
		return nil, err
	}
	for _, c := range comps {
		if isGlob(c) {
			if base, _, ok := parseIndex(c); !ok || isGlob(base) {
				return nil, fmt.Errorf("%w: %q is not concrete", ErrInvalidPath, path)
			}
		}
	}
	return s.root.list(comps)
}

// Clear empties the whole space: values, structure, mounts, caches, and
// the snapshot. Blocked readers are woken first and observe ErrNoSuchPath.
func (s *Space) Clear() {
	s.waiters.NotifyAll()
	s.root.clearChildren()
	s.cache.clear()
	s.snap.clear()
	s.waiters.Clear()
}

// Close releases background resources: the snapshot worker and, when the
// pool is privately owned, the worker pool. A shared pool is left running.
func (s *Space) Close() {
	s.snap.close()
	if s.ownPool {
		s.pool.Shutdown()
	}
}

// HasWaiters reports whether any goroutine is currently blocked in Read or
// Take on this space.
func (s *Space) HasWaiters() bool {
	return s.waiters.HasWaiters()
}

// CacheStats returns the lookup cache counters.
func (s *Space) CacheStats() CacheStats {
	return s.cache.stats()
}

// ResetCacheStats zeroes the lookup cache counters.
func (s *Space) ResetCacheStats() {
	s.cache.resetStats()
}

// InvalidateCachedPaths drops lookup cache entries addressed by pattern: a
// concrete path drops that entry and everything below it, a glob pattern
// drops every matching entry.
func (s *Space) InvalidateCachedPaths(pattern string) error {
	comps, err := parseGlobPath(pattern)
	if err != nil {
		return err
	}
	if isGlobPath(comps) {
		s.cache.invalidatePattern(pattern)
		return nil
	}
	s.cache.invalidatePrefix(joinPath(comps))
	return nil
}

// SnapshotMetrics returns the snapshot layer counters.
func (s *Space) SnapshotMetrics() SnapshotMetrics {
	return s.snap.metrics()
}

// RebuildSnapshot forces an immediate snapshot rebuild instead of waiting
// for the debounce interval.
func (s *Space) RebuildSnapshot() {
	if s.snap.enabled() {
		s.snap.Rebuild()
	}
}

// ExportSnapshot encodes the value queue at a concrete path into the
// versioned snapshot byte format. Execution entries are excluded.
func (s *Space) ExportSnapshot(path string) ([]byte, error) {
	comps, err := parseConcretePath(path)
	if err != nil {
		return nil, err
	}
	lf := s.root.resolve(comps)
	if lf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPath, path)
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.data == nil {
		return nil, fmt.Errorf("%w: %s holds no values", ErrNoObjectFound, path)
	}
	return lf.data.encodeSnapshot(), nil
}

// ImportSnapshot decodes buf and replaces the value queue at a concrete
// path, creating the node if needed. A malformed buffer fails closed and
// leaves the space unmodified.
func (s *Space) ImportSnapshot(path string, buf []byte) error {
	comps, err := parseConcretePath(path)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return fmt.Errorf("%w: cannot import at the root", ErrInvalidPath)
	}
	nd, err := decodeSnapshot(buf)
	if err != nil {
		return err
	}
	node := s.root
	prefix := ""
	for _, name := range comps {
		node, err = node.getOrCreateChild(name)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", prefix, name, err)
		}
		prefix = prefix + "/" + name
	}
	node.mu.Lock()
	if len(node.children) > 0 || node.mounts != nil {
		node.mu.Unlock()
		return fmt.Errorf("%w: %s is not a value node", ErrInvalidPathComponent, path)
	}
	node.data = nd
	node.mu.Unlock()
	s.snap.markDirty(prefix)
	s.waiters.Notify(prefix)
	return nil
}
