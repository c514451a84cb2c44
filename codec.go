package pathspace

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Queue snapshot wire format: magic, uvarint version, uvarint element
// count, then per element a kind byte, a length-prefixed type name, and a
// length-prefixed payload. Inline payloads carry a reflect.Kind byte plus a
// kind-specific encoding; serialized payloads carry the marshaled bytes
// verbatim. Execution entries are never encoded: an in-flight computation
// has no snapshottable value.
const (
	snapshotMagic   = "PSNQ"
	snapshotVersion = 1
)

func appendLength(buf []byte, n int) []byte {
	return binary.AppendUvarint(buf, uint64(n))
}

func decodeLength(buf []byte, n *int) ([]byte, error) {
	k, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("%w: bad length", ErrMalformedInput)
	}
	*n = int(k)
	return buf[sz:], nil
}

func decodeBytes(buf []byte, body *[]byte) ([]byte, error) {
	var n int
	buf, err := decodeLength(buf, &n)
	if err != nil {
		return nil, err
	}
	if len(buf) < n {
		return nil, fmt.Errorf("%w: truncated body", ErrMalformedInput)
	}
	*body = buf[:n]
	return buf[n:], nil
}

// encodeSnapshot serializes the queue, excluding execution entries.
func (nd *nodeData) encodeSnapshot() []byte {
	buf := append([]byte(nil), snapshotMagic...)
	buf = binary.AppendUvarint(buf, snapshotVersion)
	count := 0
	for i := range nd.elems {
		if nd.elems[i].kind != kindExecution {
			count++
		}
	}
	buf = appendLength(buf, count)
	for i := range nd.elems {
		e := &nd.elems[i]
		if e.kind == kindExecution {
			continue
		}
		buf = append(buf, byte(e.kind))
		buf = appendLength(buf, len(e.typeName))
		buf = append(buf, e.typeName...)
		var payload []byte
		if e.kind == kindInline {
			payload = encodeInline(e.val)
		} else {
			payload = e.blob
		}
		buf = appendLength(buf, len(payload))
		buf = append(buf, payload...)
	}
	return buf
}

// decodeSnapshot parses a snapshot produced by encodeSnapshot into a fresh
// queue. Unknown version or truncated input fails closed: nothing is
// returned unless the whole buffer parses.
func decodeSnapshot(buf []byte) (*nodeData, error) {
	if len(buf) < len(snapshotMagic) || string(buf[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedInput)
	}
	buf = buf[len(snapshotMagic):]
	var version int
	buf, err := decodeLength(buf, &version)
	if err != nil {
		return nil, err
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrMalformedInput, version)
	}
	var count int
	buf, err = decodeLength(buf, &count)
	if err != nil {
		return nil, err
	}
	nd := &nodeData{}
	for i := 0; i < count; i++ {
		if len(buf) == 0 {
			return nil, fmt.Errorf("%w: truncated element", ErrMalformedInput)
		}
		kind := valueKind(buf[0])
		buf = buf[1:]
		if kind != kindInline && kind != kindSerialized {
			return nil, fmt.Errorf("%w: bad element kind %d", ErrMalformedInput, kind)
		}
		var nameBytes, payload []byte
		buf, err = decodeBytes(buf, &nameBytes)
		if err != nil {
			return nil, err
		}
		buf, err = decodeBytes(buf, &payload)
		if err != nil {
			return nil, err
		}
		name := string(nameBytes)
		if kind == kindInline {
			v, err := decodeInline(payload)
			if err != nil {
				return nil, err
			}
			nd.elems = append(nd.elems, element{kind: kindInline, typeName: name, val: v})
		} else {
			nd.elems = append(nd.elems, element{
				kind:     kindSerialized,
				typeName: name,
				blob:     append([]byte(nil), payload...),
			})
		}
		nd.pushRun(name, kind)
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedInput, len(buf))
	}
	return nd, nil
}

// encodeInline encodes a fast-path scalar as a reflect.Kind byte followed
// by a kind-specific representation.
func encodeInline(v any) []byte {
	rv := reflect.ValueOf(v)
	buf := []byte{byte(rv.Kind())}
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf = binary.AppendVarint(buf, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf = binary.AppendUvarint(buf, rv.Uint())
	case reflect.Float32:
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(rv.Float())))
	case reflect.Float64:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(rv.Float()))
	case reflect.String:
		buf = append(buf, rv.String()...)
	case reflect.Slice:
		// only []byte ever takes the inline path
		buf = append(buf, rv.Bytes()...)
	}
	return buf
}

func decodeInline(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty inline payload", ErrMalformedInput)
	}
	kind := reflect.Kind(payload[0])
	body := payload[1:]
	switch kind {
	case reflect.Bool:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: bad bool payload", ErrMalformedInput)
		}
		return body[0] != 0, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, sz := binary.Varint(body)
		if sz <= 0 {
			return nil, fmt.Errorf("%w: bad int payload", ErrMalformedInput)
		}
		switch kind {
		case reflect.Int:
			return int(n), nil
		case reflect.Int8:
			return int8(n), nil
		case reflect.Int16:
			return int16(n), nil
		case reflect.Int32:
			return int32(n), nil
		default:
			return n, nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, sz := binary.Uvarint(body)
		if sz <= 0 {
			return nil, fmt.Errorf("%w: bad uint payload", ErrMalformedInput)
		}
		switch kind {
		case reflect.Uint:
			return uint(n), nil
		case reflect.Uint8:
			return uint8(n), nil
		case reflect.Uint16:
			return uint16(n), nil
		case reflect.Uint32:
			return uint32(n), nil
		default:
			return n, nil
		}
	case reflect.Float32:
		if len(body) != 4 {
			return nil, fmt.Errorf("%w: bad float32 payload", ErrMalformedInput)
		}
		return math.Float32frombits(binary.BigEndian.Uint32(body)), nil
	case reflect.Float64:
		if len(body) != 8 {
			return nil, fmt.Errorf("%w: bad float64 payload", ErrMalformedInput)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(body)), nil
	case reflect.String:
		return string(body), nil
	case reflect.Slice:
		return append([]byte(nil), body...), nil
	}
	return nil, fmt.Errorf("%w: unsupported inline kind %d", ErrMalformedInput, kind)
}
