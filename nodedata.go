package pathspace

import (
	"fmt"
	"reflect"
)

type valueKind uint8

const (
	kindInline valueKind = iota
	kindSerialized
	kindExecution
)

// element is one queued value. Inline elements carry the value itself;
// serialized elements carry its marshaled bytes plus the type identity it
// was stored under; execution elements carry the deferred task whose result
// stands in for a value.
type element struct {
	kind     valueKind
	typeName string
	val      any
	blob     []byte
	task     *Task
}

// typeRun is one entry of the run-length type sequence: count consecutive
// queue entries of one type identity. The sequence as a whole describes the
// queue's type order without walking elements.
type typeRun struct {
	typeName string
	kind     valueKind
	count    int
}

// nodeData is the ordered, possibly mixed-type value queue owned by exactly
// one trie leaf. All access is serialized by the owning leaf's lock.
type nodeData struct {
	elems []element
	runs  []typeRun
}

// executionTypeName tags execution entries in the run-length sequence.
const executionTypeName = "(execution)"

func typeNameOf(t reflect.Type) string {
	if t == nil {
		return "(nil)"
	}
	return t.String()
}

// inlineKind reports whether values of t take the fast path: stored as-is,
// no codec involved.
func inlineKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

// serialize appends v to the back of the queue.
func (nd *nodeData) serialize(v any, marshal func(any) ([]byte, error)) error {
	t := reflect.TypeOf(v)
	if t == nil {
		return fmt.Errorf("%w: untyped nil", ErrUnserializableType)
	}
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Errorf("%w: %s", ErrUnserializableType, t)
	}
	name := typeNameOf(t)
	if b, ok := v.([]byte); ok {
		// cloned so the caller's buffer cannot mutate the queue
		nd.elems = append(nd.elems, element{kind: kindInline, typeName: name, val: append([]byte(nil), b...)})
		nd.pushRun(name, kindInline)
		return nil
	}
	if inlineKind(t) {
		nd.elems = append(nd.elems, element{kind: kindInline, typeName: name, val: v})
		nd.pushRun(name, kindInline)
		return nil
	}
	if marshal == nil {
		return fmt.Errorf("%w: inserting %s", ErrSerializationFunctionMissing, t)
	}
	b, err := marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnserializableType, t, err)
	}
	nd.elems = append(nd.elems, element{kind: kindSerialized, typeName: name, blob: b})
	nd.pushRun(name, kindSerialized)
	return nil
}

// pushExecution enqueues a deferred computation, interleaved into the type
// sequence via an execution run so overall insertion order is preserved.
func (nd *nodeData) pushExecution(t *Task) {
	nd.elems = append(nd.elems, element{kind: kindExecution, typeName: executionTypeName, task: t})
	nd.pushRun(executionTypeName, kindExecution)
}

func (nd *nodeData) pushRun(typeName string, kind valueKind) {
	if n := len(nd.runs); n > 0 && nd.runs[n-1].typeName == typeName && nd.runs[n-1].kind == kind {
		nd.runs[n-1].count++
		return
	}
	nd.runs = append(nd.runs, typeRun{typeName: typeName, kind: kind, count: 1})
}

func (nd *nodeData) popRun() {
	if len(nd.runs) == 0 {
		return
	}
	nd.runs[0].count--
	if nd.runs[0].count == 0 {
		nd.runs = nd.runs[1:]
	}
}

func (nd *nodeData) empty() bool {
	return len(nd.elems) == 0
}

func (nd *nodeData) len() int {
	return len(nd.elems)
}

// outDeps carries the per-space hooks deserialize needs: the configured
// codec, lazy task submission, and arena recycling of consumed tasks.
type outDeps struct {
	unmarshal func([]byte, any) error
	submit    func(*Task) error
	release   func(*Task)
}

// deserialize reads the front of the queue into out, popping it when pop is
// set. An execution entry whose task has not finished reports
// ErrNoObjectFound so callers can retry or block; a lazy unstarted task is
// submitted first (at most once, guarded by the task's own CAS).
func (nd *nodeData) deserialize(out any, pop bool, d outDeps) error {
	if len(nd.elems) == 0 {
		return fmt.Errorf("%w: queue is empty", ErrNoObjectFound)
	}
	e := &nd.elems[0]
	if e.kind == kindExecution {
		return nd.deserializeExecution(out, pop, d)
	}

	want, wildcard, err := requestedType(out)
	if err != nil {
		return err
	}
	if !wildcard && typeNameOf(want) != e.typeName {
		return fmt.Errorf("%w: queue holds %s, requested %s", ErrInvalidType, e.typeName, want)
	}

	switch e.kind {
	case kindInline:
		if err := assignInline(out, e.val); err != nil {
			return err
		}
	case kindSerialized:
		if d.unmarshal == nil {
			return fmt.Errorf("%w: reading %s", ErrSerializationFunctionMissing, e.typeName)
		}
		if err := d.unmarshal(e.blob, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedInput, e.typeName, err)
		}
	}
	if pop {
		nd.elems = nd.elems[1:]
		nd.popRun()
	}
	return nil
}

func (nd *nodeData) deserializeExecution(out any, pop bool, d outDeps) error {
	task := nd.elems[0].task
	switch task.State() {
	case TaskCompleted:
		if err := assignTo(out, task.result); err != nil {
			return err
		}
		if pop {
			nd.elems = nd.elems[1:]
			nd.popRun()
			if d.release != nil {
				d.release(task)
			}
		}
		return nil
	case TaskFailed:
		return task.err
	case TaskNotStarted:
		if task.category == ExecutionLazy && d.submit != nil {
			if err := d.submit(task); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: task not yet complete", ErrNoObjectFound)
	default:
		return fmt.Errorf("%w: task not yet complete", ErrNoObjectFound)
	}
}

// readAt peeks the n-th queued element of the requested type without
// disturbing anything in between. Execution entries are skipped entirely;
// they have no settled type to index by.
func (nd *nodeData) readAt(out any, n int, d outDeps) error {
	want, wildcard, err := requestedType(out)
	if err != nil {
		return err
	}
	wantName := typeNameOf(want)
	seen := 0
	for i := range nd.elems {
		e := &nd.elems[i]
		if e.kind == kindExecution {
			continue
		}
		if !wildcard && e.typeName != wantName {
			continue
		}
		if seen < n {
			seen++
			continue
		}
		switch e.kind {
		case kindInline:
			return assignInline(out, e.val)
		case kindSerialized:
			if d.unmarshal == nil {
				return fmt.Errorf("%w: reading %s", ErrSerializationFunctionMissing, e.typeName)
			}
			if err := d.unmarshal(e.blob, out); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedInput, e.typeName, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: fewer than %d values queued", ErrNoObjectFound, n+1)
}

// requestedType extracts the target element type from an output pointer.
// A *any target is a wildcard accepting whatever is at the front.
func requestedType(out any) (t reflect.Type, wildcard bool, err error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, false, fmt.Errorf("%w: output must be a non-nil pointer", ErrInvalidType)
	}
	et := rv.Type().Elem()
	if et.Kind() == reflect.Interface {
		return et, true, nil
	}
	return et, false, nil
}

// assignTo stores v through the output pointer.
func assignTo(out, v any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: output must be a non-nil pointer", ErrInvalidType)
	}
	ev := rv.Elem()
	sv := reflect.ValueOf(v)
	if !sv.IsValid() {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}
	if !sv.Type().AssignableTo(ev.Type()) {
		return fmt.Errorf("%w: stored %s, requested %s", ErrInvalidType, sv.Type(), ev.Type())
	}
	ev.Set(sv)
	return nil
}

// assignInline stores a queued inline value through the output pointer.
// The caller has already matched the recorded type name. Byte slices are
// cloned so the caller cannot mutate the queue's copy, and a value
// reconstructed from a snapshot, which decodes named scalar types as their
// underlying kind, is converted back when the kinds agree.
func assignInline(out, v any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: output must be a non-nil pointer", ErrInvalidType)
	}
	if b, ok := v.([]byte); ok {
		v = append([]byte(nil), b...)
	}
	ev := rv.Elem()
	sv := reflect.ValueOf(v)
	if sv.Type().AssignableTo(ev.Type()) {
		ev.Set(sv)
		return nil
	}
	if sv.Kind() == ev.Kind() && sv.Type().ConvertibleTo(ev.Type()) {
		ev.Set(sv.Convert(ev.Type()))
		return nil
	}
	return fmt.Errorf("%w: stored %s, requested %s", ErrInvalidType, sv.Type(), ev.Type())
}
