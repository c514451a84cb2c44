package pathspace

import (
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotMetrics reports how the snapshot layer is doing: how often reads
// were served from it, how often they fell through to the live tree, and
// the cost of the most recent rebuild.
type SnapshotMetrics struct {
	Hits        uint64
	Misses      uint64
	Rebuilds    uint64
	LastRebuild time.Duration
	Bytes       int64
	Paths       int
}

// snapshotView is one immutable point-in-time copy of every value queue,
// keyed by concrete path. Views are never mutated after publication, so
// readers take no lock.
type snapshotView struct {
	values map[string]*nodeData
	built  time.Time
}

// snapshotLayer serves peeks from an immutable tree copy when the target's
// subtree has not changed since the copy was taken. Mutations mark their
// top-level subtree dirty; a background worker rebuilds the view once
// writes quiet down for the debounce interval. Dirty subtrees fall through
// to the live, lock-protected tree.
type snapshotLayer struct {
	root     *leaf
	debounce time.Duration

	view atomic.Pointer[snapshotView]

	mu       sync.Mutex
	dirty    map[string]bool
	lastMark time.Time

	stop     chan struct{}
	stopOnce sync.Once

	hits     atomic.Uint64
	misses   atomic.Uint64
	rebuilds atomic.Uint64
	lastDur  atomic.Int64
	bytes    atomic.Int64
	paths    atomic.Int64
}

func newSnapshotLayer(root *leaf, debounce time.Duration) *snapshotLayer {
	s := &snapshotLayer{
		root:     root,
		debounce: debounce,
		dirty:    map[string]bool{},
		stop:     make(chan struct{}),
	}
	if debounce > 0 {
		go s.worker()
	}
	return s
}

func (s *snapshotLayer) enabled() bool {
	return s != nil && s.debounce > 0
}

// markDirty records a mutation under path. The dirty unit is the top-level
// subtree: any write under /a/... invalidates snapshot reads of /a/...
// until the next rebuild.
func (s *snapshotLayer) markDirty(path string) {
	if !s.enabled() {
		return
	}
	root := rootComponent(path)
	s.mu.Lock()
	s.dirty[root] = true
	s.lastMark = time.Now()
	s.mu.Unlock()
}

func rootComponent(path string) string {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}

// lookup returns the snapshotted queue for a concrete path if the view
// exists and the path's subtree is clean. A clean subtree with no entry
// still reports a miss so the caller produces the live tree's error.
func (s *snapshotLayer) lookup(path string) (*nodeData, bool) {
	if !s.enabled() {
		return nil, false
	}
	v := s.view.Load()
	if v == nil {
		s.misses.Add(1)
		return nil, false
	}
	root := rootComponent(path)
	s.mu.Lock()
	d := s.dirty[root]
	s.mu.Unlock()
	if d {
		s.misses.Add(1)
		return nil, false
	}
	nd, ok := v.values[path]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return nd, true
}

// Rebuild takes a fresh copy of the whole tree and publishes it. Mutations
// racing with the walk re-mark their subtree dirty, so a stale copy of a
// concurrently-written queue is never served.
func (s *snapshotLayer) Rebuild() {
	if s == nil {
		return
	}
	start := time.Now()
	s.mu.Lock()
	s.dirty = map[string]bool{}
	s.mu.Unlock()

	values := map[string]*nodeData{}
	collectValues(s.root, "", values)

	var bytes int64
	for _, nd := range values {
		for i := range nd.elems {
			bytes += int64(len(nd.elems[i].blob))
		}
	}
	s.view.Store(&snapshotView{values: values, built: time.Now()})
	s.rebuilds.Add(1)
	s.lastDur.Store(int64(time.Since(start)))
	s.bytes.Store(bytes)
	s.paths.Store(int64(len(values)))
}

func collectValues(l *leaf, prefix string, out map[string]*nodeData) {
	l.mu.Lock()
	if l.data != nil && !l.data.empty() {
		out[prefix] = l.data.copyValues()
	}
	kids := make(map[string]*leaf, len(l.children))
	for name, c := range l.children {
		kids[name] = c
	}
	l.mu.Unlock()
	for name, c := range kids {
		collectValues(c, prefix+"/"+name, out)
	}
}

// copyValues clones the queue's settled values. Execution entries are
// dropped; an in-flight computation has no snapshottable value.
func (nd *nodeData) copyValues() *nodeData {
	out := &nodeData{}
	for i := range nd.elems {
		e := nd.elems[i]
		if e.kind == kindExecution {
			continue
		}
		if e.blob != nil {
			e.blob = append([]byte(nil), e.blob...)
		}
		e.task = nil
		out.elems = append(out.elems, e)
		out.pushRun(e.typeName, e.kind)
	}
	return out
}

func (s *snapshotLayer) worker() {
	interval := s.debounce / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			due := len(s.dirty) > 0 && time.Since(s.lastMark) >= s.debounce
			s.mu.Unlock()
			if due || s.view.Load() == nil {
				s.Rebuild()
			}
		}
	}
}

// clear wholesale-drops the view; the next rebuild starts from scratch.
func (s *snapshotLayer) clear() {
	if s == nil {
		return
	}
	s.view.Store(nil)
	s.mu.Lock()
	s.dirty = map[string]bool{}
	s.mu.Unlock()
}

func (s *snapshotLayer) close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *snapshotLayer) metrics() SnapshotMetrics {
	if s == nil {
		return SnapshotMetrics{}
	}
	return SnapshotMetrics{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Rebuilds:    s.rebuilds.Load(),
		LastRebuild: time.Duration(s.lastDur.Load()),
		Bytes:       s.bytes.Load(),
		Paths:       int(s.paths.Load()),
	}
}
