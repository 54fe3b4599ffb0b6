// Package engine coordinates model and session lifecycles for multi-session
// inference. It is structured into small files by concern:
//
//   - engine.go: core Engine type, constructor, status reporting.
//   - config.go: Config and package defaults.
//   - errors.go: error types, Is* helpers, and stable result codes.
//   - registry.go: model registry (load/unload, content hashes, token length).
//   - session.go: the Session type and its lifecycle helpers.
//   - store.go: session store (creation, locking, TTL eviction, destruction).
//   - decode.go: prefix-reusing decode with batched suffix evaluation.
//   - infer.go: the token sampling loop, stop sequences, grammar switching.
//   - sampling.go: sampling state wrapper with in-place grammar swap.
//   - metrics.go: Prometheus counters for sessions, decodes, and tokens.
//
// Locks are acquired registry → store → session, never upward. HashByID is
// the sole exception: it releases the registry lock before hashing and
// stores the memoized result atomically. All public session operations are
// safe for concurrent use; model load/unload are serialized and documented
// as not concurrent with each other.
//
// Callbacks (load progress, decode progress, per-token) run synchronously
// on the caller's goroutine while the relevant lock is held; they must not
// re-enter the engine.
//
// External packages should construct one Engine per tensor runtime and use
// public methods only. Internal types are subject to change.
package engine
