package engine

import (
	"errors"

	"github.com/vladfaust/simularity/internal/common/fsutil"
	"github.com/vladfaust/simularity/internal/runtime"
)

// Decode brings the session to the full target prompt, reusing the longest
// common token prefix already materialized in the KV cache and decoding
// only the remainder. Any tokens left uncommitted by a previous Infer are
// discarded first. Returns the new context length.
func (e *Engine) Decode(id uint64, prompt string, progress func(float32) bool) (int, error) {
	s, release, err := e.lockSession(id)
	if err != nil {
		return 0, err
	}
	defer release()

	target, err := s.entry.model.Tokenize(prompt, true, true)
	if err != nil {
		return 0, tokenizeError{err: err}
	}
	n, err := e.decodeTokens(s, target, progress)
	if err != nil {
		return 0, err
	}
	e.touch(s)
	return n, nil
}

// decodeTokens is the prefix decoder. The caller holds the session mutex.
//
// The KV cache invariant — cache contents equal decode(prompt) — is upheld
// by removing exactly the cache suffix past the common prefix and decoding
// the target suffix in nBatch-sized chunks, requesting logits only for the
// final token.
func (e *Engine) decodeTokens(s *Session, target []runtime.Token, progress func(float32) bool) (int, error) {
	nCtx := s.ctx.NCtx()
	if nCtx <= 0 {
		nCtx = defaultContextSize
	}
	if len(target) > nCtx {
		return 0, contextOverflowError{}
	}

	// A previous Infer may have left generation past the committed length;
	// Decode discards it, prompt and cache both.
	if s.committed < len(s.prompt) {
		if err := s.ctx.RemoveRange(s.committed, -1); err != nil {
			return 0, err
		}
		s.prompt = s.prompt[:s.committed]
	}

	nMatch := commonPrefix(s.prompt, target)
	if err := s.ctx.RemoveRange(nMatch, -1); err != nil {
		return 0, err
	}

	if nMatch == len(target) {
		s.prompt = append(s.prompt[:0:0], target...)
		s.committed = len(target)
		return len(target), nil
	}

	nBatch := s.batch.Cap()
	nBatches := (len(target) - nMatch + nBatch - 1) / nBatch
	// Two hook calls per token are expected (key and value passes); the |1
	// guards the divisor in degenerate configurations.
	maxCalls := 2*nBatch | 1

	defer func() { s.progressHook = nil }()
	for bi := 0; bi < nBatches; bi++ {
		if progress != nil {
			calls := 0
			frac := float32(bi) / float32(nBatches)
			span := float32(nBatches)
			s.progressHook = func() {
				calls++
				progress(frac + (float32(calls)/float32(maxCalls))/span)
			}
		}

		s.batch.Clear()
		start := nMatch + bi*nBatch
		end := start + nBatch
		if end > len(target) {
			end = len(target)
		}
		for i := start; i < end; i++ {
			s.batch.Add(target[i], i, i == len(target)-1)
		}
		if err := s.ctx.Decode(s.batch); err != nil {
			return 0, mapDecodeError(err)
		}
		decodeBatches.Inc()
	}

	s.prompt = append(s.prompt[:0:0], target...)
	s.committed = len(target)
	return len(target), nil
}

// primeSession installs the initial prompt into a fresh session: from a
// saved state file when one exists, from a plain decode otherwise. The
// caller holds the session mutex. Returns the resulting context length.
func (e *Engine) primeSession(s *Session, initialPrompt, stateFile string, progress func(float32) bool) (int, error) {
	if initialPrompt == "" {
		return 0, nil
	}

	stateExisted := stateFile != "" && fsutil.FileExists(stateFile)
	if stateExisted {
		if loaded, err := s.ctx.LoadState(stateFile); err == nil {
			s.prompt = loaded
			s.committed = len(loaded)
			if progress != nil {
				progress(1)
			}
			return len(loaded), nil
		} else {
			// A stale or corrupt state file is not fatal; decode from
			// scratch instead.
			e.cfg.Logger.Warn().Err(err).Str("state_file", stateFile).Msg("state load failed, decoding fresh")
			if err := s.ctx.RemoveRange(0, -1); err != nil {
				return 0, err
			}
		}
	}

	target, err := s.entry.model.Tokenize(initialPrompt, true, true)
	if err != nil {
		return 0, tokenizeError{err: err}
	}
	n, err := e.decodeTokens(s, target, progress)
	if err != nil {
		return 0, err
	}

	if stateFile != "" && !stateExisted {
		if err := s.ctx.SaveState(stateFile, s.prompt); err != nil {
			e.cfg.Logger.Warn().Err(err).Str("state_file", stateFile).Msg("state save failed")
		}
	}
	return n, nil
}

// mapDecodeError translates runtime decode failures into engine errors.
func mapDecodeError(err error) error {
	if errors.Is(err, runtime.ErrKVSlotExhausted) {
		return contextOverflowError{}
	}
	var de *runtime.DecodeError
	if errors.As(err, &de) {
		return decodeFailedError{code: de.Code}
	}
	return err
}

// commonPrefix returns the length of the longest common prefix of a and b.
func commonPrefix(a, b []runtime.Token) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
