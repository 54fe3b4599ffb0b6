package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladfaust/simularity/internal/runtime"
	"github.com/vladfaust/simularity/pkg/types"
)

// Engine owns the model registry and the session store and dispatches every
// operation. Construct one per tensor runtime; there is no package-level
// state.
type Engine struct {
	cfg Config
	rt  runtime.Runtime
	now func() time.Time

	regMu  sync.Mutex
	models map[string]*modelEntry

	storeMu  sync.Mutex
	sessions map[uint64]*Session
	lastID   uint64

	startedAt      time.Time
	sessionsTotal  atomic.Uint64
	evictionsTotal atomic.Uint64
}

// New constructs an Engine over the given runtime.
func New(rt runtime.Runtime, cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		rt:        rt,
		now:       now,
		models:    make(map[string]*modelEntry),
		sessions:  make(map[uint64]*Session),
		startedAt: now(),
	}
}

// Status returns a read-only projection of the engine state.
func (e *Engine) Status() types.StatusResponse {
	now := e.now()

	e.storeMu.Lock()
	nSessions := len(e.sessions)
	e.storeMu.Unlock()

	return types.StatusResponse{
		Models:            e.Models(),
		Sessions:          nSessions,
		MaxSessions:       e.cfg.MaxSessions,
		SessionTTLSeconds: int64(e.cfg.SessionTTL / time.Second),
		SessionsTotal:     e.sessionsTotal.Load(),
		EvictionsTotal:    e.evictionsTotal.Load(),
		UptimeSeconds:     int64(now.Sub(e.startedAt) / time.Second),
		ServerTimeUnix:    now.Unix(),
	}
}

// Ready reports whether the engine can serve requests. It is true as soon
// as the engine exists; model availability is per-request.
func (e *Engine) Ready() bool { return true }

// Close destroys all sessions and unloads all models.
func (e *Engine) Close() error {
	e.storeMu.Lock()
	ids := make([]uint64, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.storeMu.Unlock()
	for _, id := range ids {
		_ = e.DestroySession(id)
	}

	e.regMu.Lock()
	entries := make([]*modelEntry, 0, len(e.models))
	for id, entry := range e.models {
		entries = append(entries, entry)
		delete(e.models, id)
	}
	e.regMu.Unlock()
	for _, entry := range entries {
		entry.release(e.cfg.Logger)
	}
	return nil
}
