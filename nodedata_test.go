package pathspace

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonDeps() outDeps {
	return outDeps{unmarshal: json.Unmarshal}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	for i := 0; i < 5; i++ {
		require.NoError(t, nd.serialize(i, json.Marshal))
	}
	for i := 0; i < 5; i++ {
		var got int
		require.NoError(t, nd.deserialize(&got, true, jsonDeps()))
		assert.Equal(t, i, got)
	}
	assert.True(t, nd.empty())
}

func TestQueueMixedTypes(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize(1, json.Marshal))
	require.NoError(t, nd.serialize("two", json.Marshal))
	require.NoError(t, nd.serialize(3.0, json.Marshal))

	var i int
	require.NoError(t, nd.deserialize(&i, true, jsonDeps()))
	assert.Equal(t, 1, i)
	var s string
	require.NoError(t, nd.deserialize(&s, true, jsonDeps()))
	assert.Equal(t, "two", s)
	var f float64
	require.NoError(t, nd.deserialize(&f, true, jsonDeps()))
	assert.Equal(t, 3.0, f)
}

func TestQueueTypeMismatchDoesNotMutate(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize("front", json.Marshal))

	var i int
	err := nd.deserialize(&i, true, jsonDeps())
	assert.ErrorIs(t, err, ErrInvalidType)
	assert.Equal(t, 1, nd.len())

	var s string
	require.NoError(t, nd.deserialize(&s, true, jsonDeps()))
	assert.Equal(t, "front", s)
}

func TestQueueWildcardRead(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize(42, json.Marshal))
	var got any
	require.NoError(t, nd.deserialize(&got, false, jsonDeps()))
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, nd.len())
}

func TestQueueEmpty(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	var got int
	err := nd.deserialize(&got, true, jsonDeps())
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

type payload struct {
	Name  string
	Count int
}

func TestQueueSerializedPath(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	in := payload{Name: "x", Count: 3}
	require.NoError(t, nd.serialize(in, json.Marshal))
	var out payload
	require.NoError(t, nd.deserialize(&out, true, jsonDeps()))
	assert.Equal(t, in, out)
}

func TestQueueByteSliceInline(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	src := []byte("raw bytes")
	// nil marshal proves the inline path: no codec is consulted
	require.NoError(t, nd.serialize(src, nil))
	src[0] = 'X'

	var got []byte
	require.NoError(t, nd.deserialize(&got, true, outDeps{}))
	assert.Equal(t, []byte("raw bytes"), got)
}

func TestQueueByteSlicePeekIsCopy(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize([]byte("raw bytes"), nil))

	// mutating a peeked slice must not reach the queue's copy
	var peeked []byte
	require.NoError(t, nd.deserialize(&peeked, false, outDeps{}))
	peeked[0] = 'X'

	var got []byte
	require.NoError(t, nd.deserialize(&got, true, outDeps{}))
	assert.Equal(t, []byte("raw bytes"), got)
}

func TestQueueSerializationFunctionMissing(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	err := nd.serialize(payload{}, nil)
	assert.ErrorIs(t, err, ErrSerializationFunctionMissing)
	assert.True(t, nd.empty())
}

func TestQueueUnserializable(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	assert.ErrorIs(t, nd.serialize(nil, json.Marshal), ErrUnserializableType)
	assert.ErrorIs(t, nd.serialize(make(chan int), json.Marshal), ErrUnserializableType)
	assert.ErrorIs(t, nd.serialize(func() {}, json.Marshal), ErrUnserializableType)
	assert.True(t, nd.empty())
}

func TestQueueRunLengthMerging(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	for i := 0; i < 3; i++ {
		require.NoError(t, nd.serialize(i, json.Marshal))
	}
	require.NoError(t, nd.serialize("s", json.Marshal))
	for i := 0; i < 2; i++ {
		require.NoError(t, nd.serialize(i, json.Marshal))
	}
	require.Len(t, nd.runs, 3)
	assert.Equal(t, 3, nd.runs[0].count)
	assert.Equal(t, 1, nd.runs[1].count)
	assert.Equal(t, 2, nd.runs[2].count)

	var got int
	require.NoError(t, nd.deserialize(&got, true, jsonDeps()))
	require.Len(t, nd.runs, 3)
	assert.Equal(t, 2, nd.runs[0].count)
}

func TestQueueReadAt(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	for i := 0; i < 5; i++ {
		require.NoError(t, nd.serialize(i*10, json.Marshal))
	}
	var got int
	require.NoError(t, nd.readAt(&got, 2, jsonDeps()))
	assert.Equal(t, 20, got)
	assert.Equal(t, 5, nd.len())

	err := nd.readAt(&got, 5, jsonDeps())
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

func TestQueueReadAtSkipsOtherTypes(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize("a", json.Marshal))
	require.NoError(t, nd.serialize(1, json.Marshal))
	require.NoError(t, nd.serialize("b", json.Marshal))

	var s string
	require.NoError(t, nd.readAt(&s, 1, jsonDeps()))
	assert.Equal(t, "b", s)
}

func TestQueueExecutionNotReady(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	task := &Task{category: ExecutionLazy, done: make(chan struct{})}
	nd.pushExecution(task)

	submitted := 0
	d := outDeps{
		unmarshal: json.Unmarshal,
		submit: func(tk *Task) error {
			submitted++
			return nil
		},
	}
	var got int
	err := nd.deserialize(&got, true, d)
	assert.ErrorIs(t, err, ErrNoObjectFound)
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, nd.len())
}

func TestQueueExecutionCompleted(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	task := &Task{done: make(chan struct{})}
	require.True(t, task.TryStart())
	require.True(t, task.transitionToRunning())
	task.markCompleted(99)
	nd.pushExecution(task)

	released := 0
	d := outDeps{
		unmarshal: json.Unmarshal,
		release:   func(tk *Task) { released++ },
	}
	var got int
	require.NoError(t, nd.deserialize(&got, true, d))
	assert.Equal(t, 99, got)
	assert.Equal(t, 1, released)
	assert.True(t, nd.empty())
}

func TestQueueExecutionFailed(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	task := &Task{done: make(chan struct{})}
	require.True(t, task.TryStart())
	require.True(t, task.transitionToRunning())
	task.markFailed(errors.New("boom"))
	nd.pushExecution(task)

	var got int
	err := nd.deserialize(&got, true, jsonDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestQueueExecutionPreservesOrder(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize(1, json.Marshal))
	task := &Task{done: make(chan struct{})}
	nd.pushExecution(task)
	require.NoError(t, nd.serialize(2, json.Marshal))

	require.Len(t, nd.runs, 3)
	assert.Equal(t, executionTypeName, nd.runs[1].typeName)

	var got int
	require.NoError(t, nd.deserialize(&got, true, jsonDeps()))
	assert.Equal(t, 1, got)

	// the unfinished execution now blocks the front
	err := nd.deserialize(&got, true, jsonDeps())
	assert.ErrorIs(t, err, ErrNoObjectFound)
}
