package engine

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vladfaust/simularity/internal/modelhash"
	"github.com/vladfaust/simularity/internal/runtime"
	"github.com/vladfaust/simularity/pkg/types"
)

// modelEntry is a registry slot. The model handle is immutable and shared
// between the registry and any live session; a reference count keeps it
// alive until the last holder releases it.
type modelEntry struct {
	id    string
	path  string
	model runtime.Model
	refs  atomic.Int32
	// hash memoizes the 64-bit content hash; 0 means not yet computed.
	hash atomic.Uint64
}

func (m *modelEntry) retain() { m.refs.Add(1) }

func (m *modelEntry) release(log zerolog.Logger) {
	if m.refs.Add(-1) == 0 {
		if err := m.model.Close(); err != nil {
			log.Warn().Err(err).Str("model", m.id).Msg("free model handle")
		}
	}
}

func (m *modelEntry) info() types.ModelInfo {
	ri := m.model.Info()
	return types.ModelInfo{NParams: ri.NParams, Size: ri.Size, NCtxTrain: ri.NCtxTrain}
}

// LoadModel loads a model from path and registers it under id. A duplicate
// id returns the existing model's info together with a duplicate error, so
// callers can treat re-loading as a cheap lookup. progress may abort the
// load by returning false.
func (e *Engine) LoadModel(path, id string, progress func(float32) bool) (types.ModelInfo, error) {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	if existing, ok := e.models[id]; ok {
		return existing.info(), duplicateModelError{id: id, info: existing.info()}
	}

	mdl, err := e.rt.LoadModel(path, progress)
	if err != nil {
		return types.ModelInfo{}, modelLoadError{path: path, err: err}
	}
	entry := &modelEntry{id: id, path: path, model: mdl}
	entry.refs.Store(1)
	e.models[id] = entry

	e.cfg.Logger.Info().Str("model", id).Str("path", path).Msg("model loaded")
	return entry.info(), nil
}

// UnloadModel removes the registry entry. The handle itself is freed when
// the last session referencing it is destroyed.
func (e *Engine) UnloadModel(id string) error {
	e.regMu.Lock()
	entry, ok := e.models[id]
	if !ok {
		e.regMu.Unlock()
		return modelNotFoundError{id: id}
	}
	delete(e.models, id)
	e.regMu.Unlock()

	entry.release(e.cfg.Logger)
	e.cfg.Logger.Info().Str("model", id).Msg("model unloaded")
	return nil
}

// HashByID returns the memoized content hash of a loaded model, computing
// it on first use. The registry lock is released for the duration of the
// file hash; the memo slot is atomic, so a concurrent caller at worst
// hashes twice and stores the same value.
func (e *Engine) HashByID(id string) (uint64, error) {
	e.regMu.Lock()
	entry, ok := e.models[id]
	if !ok {
		e.regMu.Unlock()
		return 0, modelNotFoundError{id: id}
	}
	if h := entry.hash.Load(); h != 0 {
		e.regMu.Unlock()
		return h, nil
	}
	entry.retain()
	path := entry.path
	e.regMu.Unlock()
	defer entry.release(e.cfg.Logger)

	h, err := modelhash.File(path)
	if err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}
	if h > 0 {
		entry.hash.Store(h)
	}
	return h, nil
}

// HashByPath hashes an arbitrary model file. Nothing is memoized.
func (e *Engine) HashByPath(path string) (uint64, error) {
	return modelhash.File(path)
}

// TokenLength returns how many tokens text occupies for the given model.
// No special tokens are added.
func (e *Engine) TokenLength(id, text string) (int, error) {
	e.regMu.Lock()
	entry, ok := e.models[id]
	if !ok {
		e.regMu.Unlock()
		return 0, modelNotFoundError{id: id}
	}
	entry.retain()
	e.regMu.Unlock()
	defer entry.release(e.cfg.Logger)

	tokens, err := entry.model.Tokenize(text, false, true)
	if err != nil {
		return 0, tokenizeError{err: err}
	}
	return len(tokens), nil
}

// Models lists the registry contents, sorted by id.
func (e *Engine) Models() []types.Model {
	e.regMu.Lock()
	out := make([]types.Model, 0, len(e.models))
	for _, entry := range e.models {
		m := types.Model{ID: entry.id, Path: entry.path, Info: entry.info()}
		if h := entry.hash.Load(); h != 0 {
			m.Hash = fmt.Sprintf("%016x", h)
		}
		out = append(out, m)
	}
	e.regMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
