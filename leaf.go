package pathspace

import (
	"fmt"
	"sort"
	"sync"
)

// leaf is one trie node. A node holds either children (structure), a value
// queue, or nested space mounts; a node with a queue or mounts blocks deeper
// structure. Each node has its own lock and locks are never held for two
// nodes at once: walks lock a node, snapshot what they need, unlock, then
// descend.
type leaf struct {
	mu       sync.Mutex
	children map[string]*leaf
	data     *nodeData
	mounts   []*Space
	detached bool
}

func newLeaf() *leaf {
	return &leaf{}
}

// insertOp carries one insert through the fan-out walk. Exactly one of
// value, deferred, or mount is set. space is the Space whose tree is being
// walked; forwarding into a mounted Space rebinds it. notify is the
// completion notifier tasks capture, already chained across any mount
// boundaries crossed on the way in.
type insertOp struct {
	value    any
	deferred *Deferred
	mount    *Space
	space    *Space
	notify   func(path string)
}

// InsertResult aggregates a fan-out insert. One failing branch never aborts
// its siblings; each branch's error is collected with the path it failed at.
type InsertResult struct {
	ValuesInserted int
	SpacesInserted int
	TasksInserted  int
	Errors         []error

	// concrete paths that gained a value, notified after all locks drop
	notified []string
	// tasks created during this insert, submitted per policy afterward
	tasks []*Task
}

func (r *InsertResult) merge(o InsertResult) {
	r.ValuesInserted += o.ValuesInserted
	r.SpacesInserted += o.SpacesInserted
	r.TasksInserted += o.TasksInserted
	r.Errors = append(r.Errors, o.Errors...)
	r.notified = append(r.notified, o.notified...)
	r.tasks = append(r.tasks, o.tasks...)
}

func (l *leaf) childNames() []string {
	l.mu.Lock()
	names := make([]string, 0, len(l.children))
	for name := range l.children {
		names = append(names, name)
	}
	l.mu.Unlock()
	sort.Strings(names)
	return names
}

func (l *leaf) child(name string) *leaf {
	l.mu.Lock()
	c := l.children[name]
	l.mu.Unlock()
	return c
}

// getOrCreateChild creates name under l if absent. A node already holding a
// value queue or mounts cannot grow children.
func (l *leaf) getOrCreateChild(name string) (*leaf, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detached {
		return nil, fmt.Errorf("%w: node was cleared", ErrNoSuchPath)
	}
	if c, ok := l.children[name]; ok {
		return c, nil
	}
	if l.data != nil || l.mounts != nil {
		return nil, fmt.Errorf("%w: %q below a value node", ErrInvalidPathComponent, name)
	}
	if l.children == nil {
		l.children = map[string]*leaf{}
	}
	c := newLeaf()
	l.children[name] = c
	return c, nil
}

// insert walks the remaining glob components below l. Concrete components
// create missing children; glob components only match existing ones. prefix
// is the concrete path of l, used for notification and error reporting.
func (l *leaf) insert(prefix string, comps []string, op *insertOp, res *InsertResult) {
	name := comps[0]
	final := len(comps) == 1

	if name == superMatch {
		if !final {
			// zero components consumed
			l.insert(prefix, comps[1:], op, res)
		}
		for _, cname := range l.childNames() {
			c := l.child(cname)
			if c == nil {
				continue
			}
			cpath := prefix + "/" + cname
			// a final ** lands on every descendant value node;
			// structural nodes are passed through, not errors
			if final && !c.hasChildren() {
				c.appendHere(cpath, op, res)
			}
			c.insert(cpath, comps, op, res)
		}
		return
	}

	if !isGlob(name) {
		child, err := l.getOrCreateChild(name)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s/%s: %w", prefix, name, err))
			return
		}
		cpath := prefix + "/" + name
		if final {
			child.appendHere(cpath, op, res)
			return
		}
		if sub := child.mountsSnapshot(); sub != nil {
			for _, sp := range sub {
				res.merge(sp.forwardInsert(cpath, comps[1:], op))
			}
			return
		}
		if child.hasData() {
			res.Errors = append(res.Errors,
				fmt.Errorf("%s: %w: value node in the middle of the path", cpath, ErrInvalidPathComponent))
			return
		}
		child.insert(cpath, comps[1:], op, res)
		return
	}

	// glob component: fan out over existing children; matching none is not
	// an error, the branch simply inserts nothing
	for _, cname := range l.childNames() {
		if !matchName(name, cname) {
			continue
		}
		child := l.child(cname)
		if child == nil {
			continue
		}
		cpath := prefix + "/" + cname
		if final {
			child.appendHere(cpath, op, res)
			continue
		}
		if sub := child.mountsSnapshot(); sub != nil {
			for _, sp := range sub {
				res.merge(sp.forwardInsert(cpath, comps[1:], op))
			}
			continue
		}
		if child.hasData() {
			res.Errors = append(res.Errors,
				fmt.Errorf("%s: %w: value node in the middle of the path", cpath, ErrInvalidPathComponent))
			continue
		}
		child.insert(cpath, comps[1:], op, res)
	}
}

// appendHere lands the inserted value, task, or mount at l, whose concrete
// path is path. Mounted sub-spaces receive a broadcast of the value at
// their root, which is invalid, so a value landing on a mount node is a
// branch error.
func (l *leaf) appendHere(path string, op *insertOp, res *InsertResult) {
	l.mu.Lock()
	if l.detached {
		l.mu.Unlock()
		res.Errors = append(res.Errors, fmt.Errorf("%s: %w: node was cleared", path, ErrNoSuchPath))
		return
	}
	if len(l.children) > 0 {
		l.mu.Unlock()
		res.Errors = append(res.Errors,
			fmt.Errorf("%s: %w: node has children", path, ErrInvalidPathComponent))
		return
	}
	if op.mount != nil {
		l.mounts = append(l.mounts, op.mount)
		l.mu.Unlock()
		res.SpacesInserted++
		res.notified = append(res.notified, path)
		return
	}
	if l.mounts != nil {
		l.mu.Unlock()
		res.Errors = append(res.Errors,
			fmt.Errorf("%s: %w: node holds mounted spaces", path, ErrInvalidPathComponent))
		return
	}
	if l.data == nil {
		l.data = &nodeData{}
	}
	if op.deferred != nil {
		t := op.space.newTask(op.deferred, path, op.notify)
		if t == nil {
			l.mu.Unlock()
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", path, ErrShuttingDown))
			return
		}
		l.data.pushExecution(t)
		l.mu.Unlock()
		res.TasksInserted++
		res.tasks = append(res.tasks, t)
		res.notified = append(res.notified, path)
		return
	}
	err := l.data.serialize(op.value, op.space.marshal)
	l.mu.Unlock()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("%s: %w", path, err))
		return
	}
	res.ValuesInserted++
	res.notified = append(res.notified, path)
}

func (l *leaf) isDetached() bool {
	l.mu.Lock()
	d := l.detached
	l.mu.Unlock()
	return d
}

func (l *leaf) hasChildren() bool {
	l.mu.Lock()
	ok := len(l.children) > 0
	l.mu.Unlock()
	return ok
}

func (l *leaf) hasData() bool {
	l.mu.Lock()
	ok := l.data != nil
	l.mu.Unlock()
	return ok
}

func (l *leaf) mountsSnapshot() []*Space {
	l.mu.Lock()
	if l.mounts == nil {
		l.mu.Unlock()
		return nil
	}
	m := append([]*Space(nil), l.mounts...)
	l.mu.Unlock()
	return m
}

// outOp carries one read or take through the trie walk.
type outOp struct {
	pop  bool
	deps outDeps
	// concrete paths whose queue was mutated, for cache invalidation and
	// snapshot dirty marking
	touched []string
}

// out resolves comps below l and reads (or pops) the front matching value
// into out. Glob components are allowed only in the final position; an
// indexed final component peeks the n-th value of the requested type.
func (l *leaf) out(prefix string, comps []string, out any, op *outOp) error {
	name := comps[0]
	final := len(comps) == 1

	// "base[n]" with a concrete base is indexed addressing, not a
	// character class; escape the bracket to get the class
	base, idx, hasIdx := parseIndex(name)
	if hasIdx && isGlob(base) {
		base, idx, hasIdx = name, 0, false
	}
	if isGlob(name) && !hasIdx {
		if !final {
			return fmt.Errorf("%w: glob %q before the final component", ErrInvalidPath, name)
		}
		return l.outGlob(prefix, name, out, op)
	}

	// a literal child wins over the indexed reading of the component
	child := l.child(name)
	usedIdx := false
	if child == nil && hasIdx {
		child = l.child(base)
		usedIdx = true
	}
	if child == nil {
		return fmt.Errorf("%w: %s/%s", ErrNoSuchPath, prefix, name)
	}
	cpath := prefix + "/" + name
	if usedIdx {
		cpath = prefix + "/" + base
	}

	if mounts := child.mountsSnapshot(); mounts != nil {
		mi := 0
		if usedIdx {
			mi = idx
		}
		if mi >= len(mounts) {
			return fmt.Errorf("%w: %s has %d mounts", ErrNoSuchPath, cpath, len(mounts))
		}
		if final {
			return fmt.Errorf("%w: %s is a mounted space", ErrNoObjectFound, cpath)
		}
		return mounts[mi].forwardOut(comps[1:], out, op)
	}

	if final {
		child.mu.Lock()
		defer child.mu.Unlock()
		if child.data == nil {
			return fmt.Errorf("%w: %s holds no values", ErrNoObjectFound, cpath)
		}
		if usedIdx {
			// indexed access always peeks
			return child.data.readAt(out, idx, op.deps)
		}
		err := child.data.deserialize(out, op.pop, op.deps)
		if err == nil && op.pop {
			op.touched = append(op.touched, cpath)
		}
		return err
	}

	if child.hasData() {
		return fmt.Errorf("%w: %s: value node in the middle of the path", ErrInvalidPathComponent, cpath)
	}
	return child.out(cpath, comps[1:], out, op)
}

// outGlob tries each matching child in sorted name order and returns the
// first success. A match that exists but cannot serve the request yields
// that branch's error; no match at all is ErrNoSuchPath.
func (l *leaf) outGlob(prefix, pattern string, out any, op *outOp) error {
	foundAny := false
	var lastErr error
	for _, cname := range l.childNames() {
		if !matchName(pattern, cname) {
			continue
		}
		child := l.child(cname)
		if child == nil {
			continue
		}
		foundAny = true
		cpath := prefix + "/" + cname
		child.mu.Lock()
		if child.data == nil {
			child.mu.Unlock()
			lastErr = fmt.Errorf("%w: %s holds no values", ErrNoObjectFound, cpath)
			continue
		}
		err := child.data.deserialize(out, op.pop, op.deps)
		child.mu.Unlock()
		if err == nil {
			if op.pop {
				op.touched = append(op.touched, cpath)
			}
			return nil
		}
		lastErr = err
	}
	if foundAny {
		return lastErr
	}
	return fmt.Errorf("%w: %s/%s matched nothing", ErrNoSuchPath, prefix, pattern)
}

// resolve walks a concrete path to its leaf without creating anything.
// It stops at mounted spaces; only plain data leaves are resolvable, which
// keeps resolved pointers cacheable.
func (l *leaf) resolve(comps []string) *leaf {
	node := l
	for _, name := range comps {
		if node.mountsSnapshot() != nil {
			return nil
		}
		node = node.child(name)
		if node == nil {
			return nil
		}
	}
	if node.mountsSnapshot() != nil {
		return nil
	}
	return node
}

// list returns the sorted, deduplicated child names of the node at comps,
// with [n] suffixes for mounts past the first.
func (l *leaf) list(comps []string) ([]string, error) {
	node := l
	prefix := ""
	for i, name := range comps {
		next := node.child(name)
		mi := 0
		if next == nil {
			if base, idx, ok := parseIndex(name); ok {
				next = node.child(base)
				mi = idx
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoSuchPath, prefix, name)
		}
		if mounts := next.mountsSnapshot(); mounts != nil {
			if mi >= len(mounts) {
				return nil, fmt.Errorf("%w: %s/%s has %d mounts", ErrNoSuchPath, prefix, name, len(mounts))
			}
			return mounts[mi].forwardList(comps[i+1:])
		}
		prefix = prefix + "/" + name
		node = next
	}
	seen := map[string]bool{}
	var names []string
	for _, cname := range node.childNames() {
		c := node.child(cname)
		if c == nil {
			continue
		}
		add := func(n string) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
		add(cname)
		if m := c.mountsSnapshot(); len(m) > 1 {
			for i := 1; i < len(m); i++ {
				add(fmt.Sprintf("%s[%d]", cname, i))
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// detach marks the whole subtree dead and drops its contents. Cached
// pointers into the subtree observe detached and miss.
func (l *leaf) detach() {
	l.mu.Lock()
	l.detached = true
	kids := l.children
	l.children = nil
	l.data = nil
	l.mounts = nil
	l.mu.Unlock()
	for _, c := range kids {
		c.detach()
	}
}

// clearChildren empties the node in place, detaching every subtree, without
// marking the node itself dead. Used on the root by Clear.
func (l *leaf) clearChildren() {
	l.mu.Lock()
	kids := l.children
	l.children = nil
	l.data = nil
	l.mounts = nil
	l.mu.Unlock()
	for _, c := range kids {
		c.detach()
	}
}
