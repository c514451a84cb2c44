package pathspace

import "fmt"

// VisitOptions bounds a tree enumeration.
type VisitOptions struct {
	// Root is the concrete path to start from; empty or "/" visits the
	// whole space.
	Root string
	// MaxDepth limits how far below Root the walk descends; 0 is
	// unlimited.
	MaxDepth int
	// MaxChildren limits how many children of each node are visited, in
	// sorted name order; 0 is unlimited.
	MaxChildren int
}

// Visitor is invoked once per visited node, children in sorted name order.
// Returning false skips the node's subtree.
type Visitor func(n VisitNode) bool

// VisitNode is the per-node handle a Visitor receives. It stays valid only
// for the duration of the callback.
type VisitNode struct {
	// Path is the node's concrete path.
	Path string
	// Depth is the node's distance below the visit root.
	Depth int

	l *leaf
	s *Space
}

// ValueCount returns how many entries the node's queue holds, deferred
// computations included. Zero for structural nodes.
func (n VisitNode) ValueCount() int {
	n.l.mu.Lock()
	defer n.l.mu.Unlock()
	if n.l.data == nil {
		return 0
	}
	return n.l.data.len()
}

// Mounts returns how many nested spaces are mounted at the node.
func (n VisitNode) Mounts() int {
	n.l.mu.Lock()
	defer n.l.mu.Unlock()
	return len(n.l.mounts)
}

// Read peeks the node's front value into out, with the same typing rules
// as Space.Read.
func (n VisitNode) Read(out any) error {
	n.l.mu.Lock()
	defer n.l.mu.Unlock()
	if n.l.data == nil {
		return fmt.Errorf("%w: %s holds no values", ErrNoObjectFound, n.Path)
	}
	return n.l.data.deserialize(out, false, n.s.deps())
}

// Snapshot encodes the node's queue into the versioned snapshot format.
func (n VisitNode) Snapshot() ([]byte, error) {
	n.l.mu.Lock()
	defer n.l.mu.Unlock()
	if n.l.data == nil {
		return nil, fmt.Errorf("%w: %s holds no values", ErrNoObjectFound, n.Path)
	}
	return n.l.data.encodeSnapshot(), nil
}

// Visit enumerates the tree depth-first below opts.Root, invoking fn per
// node. The walk holds no lock while fn runs; concurrent mutations may be
// observed or missed, like any racing reader.
func (s *Space) Visit(fn Visitor, opts VisitOptions) error {
	root := s.root
	rootPath := ""
	if opts.Root != "" && opts.Root != "/" {
		comps, err := parseConcretePath(opts.Root)
		if err != nil {
			return err
		}
		root = s.root.resolve(comps)
		if root == nil {
			return fmt.Errorf("%w: %s", ErrNoSuchPath, opts.Root)
		}
		rootPath = joinPath(comps)
	}
	s.visitNode(root, rootPath, 0, fn, opts)
	return nil
}

func (s *Space) visitNode(l *leaf, path string, depth int, fn Visitor, opts VisitOptions) {
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return
	}
	names := l.childNames()
	if opts.MaxChildren > 0 && len(names) > opts.MaxChildren {
		names = names[:opts.MaxChildren]
	}
	for _, name := range names {
		c := l.child(name)
		if c == nil {
			continue
		}
		cpath := path + "/" + name
		if !fn(VisitNode{Path: cpath, Depth: depth + 1, l: c, s: s}) {
			continue
		}
		s.visitNode(c, cpath, depth+1, fn, opts)
	}
}
