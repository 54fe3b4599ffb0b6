package engine

import (
	"sort"
	"time"

	"github.com/vladfaust/simularity/internal/runtime"
)

// CreateParams carries everything needed to create a session.
type CreateParams struct {
	// Model is the registry id of a loaded model.
	Model string
	// ContextSize in tokens; 0 selects the runtime default.
	ContextSize int
	// BatchSize in tokens; 0 selects the runtime default.
	BatchSize int
	// InitialPrompt is decoded into the fresh session (optional).
	InitialPrompt string
	// StateFile, when set, is loaded into the session if it exists, or
	// written after the initial decode if it does not.
	StateFile string
	// Progress receives decode (or state-load) progress in [0,1].
	Progress func(float32) bool
}

// CreateSession builds a session for a loaded model and returns its id plus
// the context length after the initial prompt. When the store is at
// capacity and a TTL is configured, the oldest expired session is evicted;
// with no expired candidate the call fails.
func (e *Engine) CreateSession(p CreateParams) (uint64, int, error) {
	e.regMu.Lock()
	entry, ok := e.models[p.Model]
	if !ok {
		e.regMu.Unlock()
		return 0, 0, modelNotFoundError{id: p.Model}
	}
	entry.retain()
	e.regMu.Unlock()

	e.storeMu.Lock()
	if e.cfg.MaxSessions > 0 && len(e.sessions) >= e.cfg.MaxSessions {
		victim := e.firstExpiredLocked()
		if victim == nil {
			e.storeMu.Unlock()
			entry.release(e.cfg.Logger)
			return 0, 0, capacityError{}
		}
		e.evictLocked(victim)
	}

	s := &Session{entry: entry}
	ctx, err := entry.model.NewContext(runtime.ContextParams{
		NCtx:   p.ContextSize,
		NBatch: p.BatchSize,
		// Flash attention stays on unconditionally: it changes the state
		// file format, and toggling it per session would make saved states
		// non-interchangeable.
		FlashAttention: true,
		EvalHook:       s.onEval,
	})
	if err != nil {
		e.storeMu.Unlock()
		entry.release(e.cfg.Logger)
		return 0, 0, contextCreationError{err: err}
	}
	s.ctx = ctx
	nb := ctx.NBatch()
	if nb <= 0 {
		nb = defaultBatchSize
	}
	s.batch = runtime.NewBatch(nb)

	// The id is committed only now, after context creation succeeded, so a
	// failed create never burns an id.
	e.lastID++
	s.id = e.lastID
	e.sessions[s.id] = s
	s.mu.Lock()
	e.storeMu.Unlock()

	n, err := e.primeSession(s, p.InitialPrompt, p.StateFile, p.Progress)
	if err != nil {
		// The session mutex must be released before the store mutex is
		// retaken: a concurrent lookup may already hold the store lock
		// while waiting on this session.
		s.mu.Unlock()
		_ = e.DestroySession(s.id)
		return 0, 0, err
	}
	s.initialPromptSize = n
	s.committed = n
	e.touch(s)
	s.mu.Unlock()

	e.sessionsTotal.Add(1)
	sessionsCreated.Inc()
	e.cfg.Logger.Info().Uint64("session", s.id).Str("model", p.Model).Int("length", n).Msg("session created")
	return s.id, n, nil
}

// firstExpiredLocked returns the expired session with the lowest id, or
// nil. Iteration is by ascending id, matching the ordered map of the
// original store, so eviction order is deterministic.
func (e *Engine) firstExpiredLocked() *Session {
	nowNanos := e.now().UnixNano()
	if e.cfg.SessionTTL == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if s := e.sessions[id]; s.expired(nowNanos) {
			return s
		}
	}
	return nil
}

// evictLocked removes the victim from the store and frees it. The caller
// holds the store mutex; the victim's own mutex is taken to wait out any
// in-flight work before its context is freed.
func (e *Engine) evictLocked(victim *Session) {
	delete(e.sessions, victim.id)
	victim.mu.Lock()
	e.freeSession(victim)
	victim.mu.Unlock()
	e.evictionsTotal.Add(1)
	sessionsEvicted.WithLabelValues("ttl").Inc()
	e.cfg.Logger.Info().Uint64("session", victim.id).Msg("session evicted")
}

// lockSession atomically looks up a session and acquires its mutex. The
// store lock is held across the acquisition so a concurrent destroy cannot
// free the session out from under the caller; it is released as soon as
// the session lock is obtained.
func (e *Engine) lockSession(id uint64) (*Session, func(), error) {
	e.storeMu.Lock()
	s, ok := e.sessions[id]
	if !ok {
		e.storeMu.Unlock()
		return nil, nil, sessionNotFoundError{id: id}
	}
	s.mu.Lock()
	e.storeMu.Unlock()
	return s, s.mu.Unlock, nil
}

// Touch reports whether the session exists and has not expired, refreshing
// its TTL when it has not. An expired session is removed on the spot.
// The first return is the refreshed expiration in unix seconds (0 with
// TTL disabled).
func (e *Engine) Touch(id uint64) (int64, bool) {
	e.storeMu.Lock()
	s, ok := e.sessions[id]
	if !ok {
		e.storeMu.Unlock()
		return 0, false
	}
	if s.expired(e.now().UnixNano()) {
		delete(e.sessions, id)
		e.storeMu.Unlock()
		s.mu.Lock()
		e.freeSession(s)
		s.mu.Unlock()
		sessionsEvicted.WithLabelValues("touch").Inc()
		return 0, false
	}
	e.storeMu.Unlock()
	e.touch(s)
	at := s.expiresAt.Load()
	if at == 0 {
		return 0, true
	}
	return time.Unix(0, at).Unix(), true
}

// DestroySession removes the session and frees its resources. The session
// mutex is acquired first, so destruction waits for in-flight work.
func (e *Engine) DestroySession(id uint64) error {
	e.storeMu.Lock()
	s, ok := e.sessions[id]
	if !ok {
		e.storeMu.Unlock()
		return sessionNotFoundError{id: id}
	}
	delete(e.sessions, id)
	e.storeMu.Unlock()

	s.mu.Lock()
	e.freeSession(s)
	s.mu.Unlock()
	e.cfg.Logger.Info().Uint64("session", id).Msg("session destroyed")
	return nil
}

// ResetSession truncates the session back to its initial prompt, dropping
// the KV suffix, and returns the new context length.
func (e *Engine) ResetSession(id uint64) (int, error) {
	s, release, err := e.lockSession(id)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := s.ctx.RemoveRange(s.initialPromptSize, -1); err != nil {
		return 0, err
	}
	s.prompt = s.prompt[:s.initialPromptSize]
	s.committed = s.initialPromptSize
	e.touch(s)
	return len(s.prompt), nil
}

// CommitSession marks the whole prompt, including any tokens generated by
// Infer, as surviving the next Decode. Returns the context length.
func (e *Engine) CommitSession(id uint64) (int, error) {
	s, release, err := e.lockSession(id)
	if err != nil {
		return 0, err
	}
	defer release()

	s.committed = len(s.prompt)
	e.touch(s)
	return len(s.prompt), nil
}
