package pathspace

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize(true, json.Marshal))
	require.NoError(t, nd.serialize(-7, json.Marshal))
	require.NoError(t, nd.serialize(uint16(9), json.Marshal))
	require.NoError(t, nd.serialize(3.25, json.Marshal))
	require.NoError(t, nd.serialize("hello", json.Marshal))
	require.NoError(t, nd.serialize([]byte{0x00, 0xff, 0x10}, json.Marshal))
	require.NoError(t, nd.serialize(payload{Name: "p", Count: 2}, json.Marshal))

	decoded, err := decodeSnapshot(nd.encodeSnapshot())
	require.NoError(t, err)
	require.Equal(t, nd.len(), decoded.len())
	assert.Equal(t, nd.runs, decoded.runs)

	var b bool
	require.NoError(t, decoded.deserialize(&b, true, jsonDeps()))
	assert.True(t, b)
	var i int
	require.NoError(t, decoded.deserialize(&i, true, jsonDeps()))
	assert.Equal(t, -7, i)
	var u uint16
	require.NoError(t, decoded.deserialize(&u, true, jsonDeps()))
	assert.Equal(t, uint16(9), u)
	var f float64
	require.NoError(t, decoded.deserialize(&f, true, jsonDeps()))
	assert.Equal(t, 3.25, f)
	var s string
	require.NoError(t, decoded.deserialize(&s, true, jsonDeps()))
	assert.Equal(t, "hello", s)
	var raw []byte
	require.NoError(t, decoded.deserialize(&raw, true, jsonDeps()))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, raw)
	var p payload
	require.NoError(t, decoded.deserialize(&p, true, jsonDeps()))
	assert.Equal(t, payload{Name: "p", Count: 2}, p)
}

func TestSnapshotExcludesExecutions(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize(1, json.Marshal))
	nd.pushExecution(&Task{done: make(chan struct{})})
	require.NoError(t, nd.serialize(2, json.Marshal))

	decoded, err := decodeSnapshot(nd.encodeSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.len())

	var got int
	require.NoError(t, decoded.deserialize(&got, true, jsonDeps()))
	assert.Equal(t, 1, got)
	require.NoError(t, decoded.deserialize(&got, true, jsonDeps()))
	assert.Equal(t, 2, got)
}

func TestSnapshotDecodeFailsClosed(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	require.NoError(t, nd.serialize("x", json.Marshal))
	good := nd.encodeSnapshot()

	_, err := decodeSnapshot(nil)
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = decodeSnapshot([]byte("XXXX"))
	assert.ErrorIs(t, err, ErrMalformedInput)

	// truncation anywhere fails
	for cut := len(snapshotMagic); cut < len(good); cut++ {
		_, err := decodeSnapshot(good[:cut])
		assert.ErrorIs(t, err, ErrMalformedInput, "cut at %d", cut)
	}

	// trailing garbage fails
	_, err = decodeSnapshot(append(append([]byte(nil), good...), 0xff))
	assert.ErrorIs(t, err, ErrMalformedInput)

	// unknown version fails
	bad := append([]byte(nil), good...)
	bad[len(snapshotMagic)] = 0x7f
	_, err = decodeSnapshot(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestSnapshotEmptyQueue(t *testing.T) {
	t.Parallel()
	nd := &nodeData{}
	decoded, err := decodeSnapshot(nd.encodeSnapshot())
	require.NoError(t, err)
	assert.True(t, decoded.empty())
}

func TestInlineRoundTripProperties(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(nil)

	properties.Property("int round-trips", prop.ForAll(
		func(v int64) bool {
			got, err := decodeInline(encodeInline(v))
			return err == nil && got == v
		},
		gen.Int64(),
	))

	properties.Property("uint round-trips", prop.ForAll(
		func(v uint32) bool {
			got, err := decodeInline(encodeInline(v))
			return err == nil && got == v
		},
		gen.UInt32(),
	))

	properties.Property("float round-trips", prop.ForAll(
		func(v float64) bool {
			got, err := decodeInline(encodeInline(v))
			return err == nil && got == v
		},
		gen.Float64(),
	))

	properties.Property("string round-trips", prop.ForAll(
		func(v string) bool {
			got, err := decodeInline(encodeInline(v))
			return err == nil && got == v
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
