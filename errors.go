package pathspace

import "errors"

// Errors returned by Space operations. Callers discriminate with errors.Is;
// operations wrap these with path and type context.
var (
	// ErrInvalidPath reports a malformed path or glob pattern: empty,
	// missing leading '/', trailing '/', empty component, '.' or '..'
	// component, unclosed '[', unmatched ']', or a reversed character
	// range.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidPathComponent reports a structurally valid path whose
	// intermediate component names a leaf that holds data, which blocks
	// deeper structure.
	ErrInvalidPathComponent = errors.New("path sub-component names data")

	// ErrInvalidType reports a mismatch between the requested type and
	// the type at the front of the queue.
	ErrInvalidType = errors.New("type mismatch")

	// ErrNoObjectFound reports an existing leaf with nothing of the
	// requested kind queued.
	ErrNoObjectFound = errors.New("no object found")

	// ErrNoSuchPath reports that nothing is mounted at the path at all.
	ErrNoSuchPath = errors.New("no such path")

	// ErrTimeout reports that a blocking read or take reached its
	// deadline before a value arrived.
	ErrTimeout = errors.New("timeout")

	// ErrSerializationFunctionMissing reports an insert of a non-inline
	// value on a Space configured without a Marshal function.
	ErrSerializationFunctionMissing = errors.New("serialization function missing")

	// ErrUnserializableType reports a value no codec can represent, such
	// as a channel or function.
	ErrUnserializableType = errors.New("unserializable type")

	// ErrMalformedInput reports a truncated or version-incompatible
	// snapshot buffer. The store is left unmodified.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTaskFailed reports that the deferred computation at the front of
	// the queue ran and failed.
	ErrTaskFailed = errors.New("task failed")

	// ErrShuttingDown reports a task submission to a pool whose shutdown
	// has begun.
	ErrShuttingDown = errors.New("task pool shutting down")
)
