package engine

import (
	"sync"
	"sync/atomic"

	"github.com/vladfaust/simularity/internal/runtime"
)

// Session is one stateful generation context. Its KV cache always holds
// exactly decode(prompt): every mutation of prompt goes through a decode of
// the same tokens, in order.
//
// All fields below the mutex are guarded by it. expiresAt is atomic because
// the store's eviction scan reads it without taking the session lock.
type Session struct {
	id    uint64
	entry *modelEntry
	ctx   runtime.Context
	batch *runtime.Batch

	// expiresAt is the expiration instant in unix nanoseconds; 0 when TTL
	// is disabled.
	expiresAt atomic.Int64

	mu sync.Mutex
	// prompt is the token sequence the KV cache was built from.
	prompt []runtime.Token
	// initialPromptSize is the prompt length right after creation; Reset
	// truncates back to it.
	initialPromptSize int
	// committed is the prompt length that survives the next Decode. Infer
	// extends prompt past it; Commit advances it.
	committed int
	// progressHook bridges the runtime's per-evaluation callback to the
	// caller's progress callback during one decode call. Non-nil only while
	// the session's own mutex holder runs a decode.
	progressHook func()
}

// ID returns the session id.
func (s *Session) ID() uint64 { return s.id }

// onEval is installed as the context's eval hook at creation time. The
// runtime only invokes it on the thread currently holding the session
// mutex, so reading the slot without extra synchronization is safe.
func (s *Session) onEval() {
	if hook := s.progressHook; hook != nil {
		hook()
	}
}

// freeSession releases the runtime context and the model reference. Callers hold
// the session mutex, which guarantees no work is in flight.
func (e *Engine) freeSession(s *Session) {
	if err := s.ctx.Close(); err != nil {
		e.cfg.Logger.Warn().Err(err).Uint64("session", s.id).Msg("free context")
	}
	s.entry.release(e.cfg.Logger)
}

// touch refreshes the expiration timestamp. Called on every successful
// session operation.
func (e *Engine) touch(s *Session) {
	if e.cfg.SessionTTL > 0 {
		s.expiresAt.Store(e.now().Add(e.cfg.SessionTTL).UnixNano())
	}
}

// expired reports whether the session's TTL has elapsed at instant nowNanos.
func (s *Session) expired(nowNanos int64) bool {
	at := s.expiresAt.Load()
	return at != 0 && at < nowNanos
}
