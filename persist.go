package pathspace

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/minio/blake2b-simd"
)

// Persist is the interface for loading and storing serialized tree
// snapshots. The given string identity corresponds to the content, which is
// immutable (never modified).
type Persist interface {
	Store(ctx context.Context, name string, value []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Tree snapshot wire format: magic, uvarint version, uvarint path count,
// then per path a length-prefixed path string and a length-prefixed queue
// snapshot. Paths are sorted so equal trees produce equal bytes and equal
// content addresses.
const (
	treeMagic   = "PSTS"
	treeVersion = 1
)

// Save persists a point-in-time snapshot of every value queue in the space
// and returns its content address. Execution entries and mounted sub-spaces
// are not included.
func (s *Space) Save(ctx context.Context, p Persist) (string, error) {
	values := map[string]*nodeData{}
	collectValues(s.root, "", values)
	paths := make([]string, 0, len(values))
	for path := range values {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	buf := append([]byte(nil), treeMagic...)
	buf = binary.AppendUvarint(buf, treeVersion)
	buf = appendLength(buf, len(paths))
	for _, path := range paths {
		buf = appendLength(buf, len(path))
		buf = append(buf, path...)
		queue := values[path].encodeSnapshot()
		buf = appendLength(buf, len(queue))
		buf = append(buf, queue...)
	}

	hashBytes := blake2b.Sum256(buf)
	name := base64.RawURLEncoding.EncodeToString(hashBytes[:])
	if err := p.Store(ctx, name, buf); err != nil {
		return "", fmt.Errorf("persist store: %w", err)
	}
	return name, nil
}

// LoadSnapshot loads a persisted tree snapshot by content address and
// installs its queues into the space, creating nodes as needed. The whole
// blob is parsed and verified before anything is applied; a malformed or
// tampered blob leaves the space unmodified.
func (s *Space) LoadSnapshot(ctx context.Context, p Persist, name string) error {
	buf, err := p.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("persist load %s: %w", name, err)
	}
	hashBytes := blake2b.Sum256(buf)
	if got := base64.RawURLEncoding.EncodeToString(hashBytes[:]); got != name {
		return fmt.Errorf("%w: content of %s hashes to %s", ErrMalformedInput, name, got)
	}
	queues, err := decodeTreeSnapshot(buf)
	if err != nil {
		return err
	}
	for path, nd := range queues {
		if err := s.installQueue(path, nd); err != nil {
			return err
		}
	}
	return nil
}

func decodeTreeSnapshot(buf []byte) (map[string]*nodeData, error) {
	if len(buf) < len(treeMagic) || string(buf[:len(treeMagic)]) != treeMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedInput)
	}
	buf = buf[len(treeMagic):]
	var version int
	buf, err := decodeLength(buf, &version)
	if err != nil {
		return nil, err
	}
	if version != treeVersion {
		return nil, fmt.Errorf("%w: unsupported tree snapshot version %d", ErrMalformedInput, version)
	}
	var count int
	buf, err = decodeLength(buf, &count)
	if err != nil {
		return nil, err
	}
	queues := map[string]*nodeData{}
	for i := 0; i < count; i++ {
		var pathBytes, queueBytes []byte
		buf, err = decodeBytes(buf, &pathBytes)
		if err != nil {
			return nil, err
		}
		buf, err = decodeBytes(buf, &queueBytes)
		if err != nil {
			return nil, err
		}
		path := string(pathBytes)
		if _, err := parseConcretePath(path); err != nil {
			return nil, fmt.Errorf("%w: snapshot path %q", ErrMalformedInput, path)
		}
		nd, err := decodeSnapshot(queueBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		queues[path] = nd
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedInput, len(buf))
	}
	return queues, nil
}

func (s *Space) installQueue(path string, nd *nodeData) error {
	comps, err := parseConcretePath(path)
	if err != nil {
		return err
	}
	node := s.root
	for _, name := range comps {
		node, err = node.getOrCreateChild(name)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	node.mu.Lock()
	if len(node.children) > 0 || node.mounts != nil {
		node.mu.Unlock()
		return fmt.Errorf("%w: %s is not a value node", ErrInvalidPathComponent, path)
	}
	node.data = nd
	node.mu.Unlock()
	s.snap.markDirty(path)
	s.waiters.Notify(path)
	return nil
}
