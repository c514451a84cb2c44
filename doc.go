// Package pathspace provides a concurrent, hierarchical, path-addressable
// data store in the tuple-space tradition: producers insert typed values at
// string paths, consumers read (peek) or take (pop) them, optionally blocking
// until a value arrives.  One Space can coordinate many goroutines without
// any of them sharing more than path strings.
//
// # Uses
//
// - Decoupled producer/consumer pipelines keyed by path
//
// - Work queues whose items are deferred computations, run by a worker pool
// and consumed as plain values once complete
//
// - Hierarchical configuration or state trees with glob fan-out
//
// # Paths and globs
//
// Paths look like "/sensors/temp/celsius".  Operations may address many
// locations at once with glob components: "*" within one component, "**"
// spanning components, "?" for one character, and "[a-z]"/"[!a-z]" character
// classes.  Inserting at "/sensors/*/raw" appends to every existing sensor's
// raw queue in one call; each matching branch succeeds or fails on its own
// and the result reports both.
//
// # Values
//
// Each path holds an ordered queue that may mix types.  Plain scalars,
// strings, and byte slices are stored inline; everything else goes through a
// pluggable codec, JSON by default.  A Deferred value enqueues a computation
// whose result materializes at the path once a worker has run it.  "path[n]"
// peeks the n-th queued value without disturbing the rest.
//
// # Concurrency
//
// All methods are safe for concurrent use.  Blocking reads park on a
// per-path wait registry and are woken exactly when their path gains a
// value.  A lookup cache and a debounced immutable snapshot serve hot,
// unchanged subtrees without touching the live tree's locks.
//
// # Persistence
//
// A Space can save a point-in-time snapshot of all its queues through the
// Persist interface, content-addressed by hash, to anything: a filesystem,
// KV store, or blob store.  See the persist/file and persist/s3
// subpackages.
package pathspace
