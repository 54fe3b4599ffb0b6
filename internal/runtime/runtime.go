// Package runtime defines the narrow capability set the inference core
// requires from a tensor runtime: model loading, tokenization, batched
// decode against a KV cache, sampling, and context state files.
//
// The production implementation binds llama.cpp through yzma and is enabled
// with `-tags=yzma`. Default builds compile a refusing stub so that the core
// and its tests stay free of native libraries.
package runtime

import (
	"errors"
	"fmt"
)

// Token is a vocabulary token id.
type Token int32

// Info is the runtime-reported shape of a loaded model.
type Info struct {
	NParams   uint64
	Size      uint64
	NCtxTrain int64
}

// ContextParams configures a fresh inference context.
type ContextParams struct {
	// NCtx is the context size in tokens; 0 selects the runtime default.
	NCtx int
	// NBatch is the decode batch size in tokens; 0 selects the runtime default.
	NBatch int
	// FlashAttention toggles flash attention. It affects state-file
	// compatibility, so callers should keep it stable across a deployment.
	FlashAttention bool
	// EvalHook, when non-nil, is invoked once per tensor evaluation inside
	// Decode, on the calling goroutine.
	EvalHook func()
}

// SamplerParams carries the sampling knobs understood by the runtime.
type SamplerParams struct {
	NPrev            int32
	NProbs           int32
	MinKeep          int32
	TopK             int32
	TopP             float32
	MinP             float32
	TfsZ             float32
	TypicalP         float32
	Temp             float32
	DynatempRange    float32
	DynatempExponent float32
	PenaltyLastN     int32
	PenaltyRepeat    float32
	PenaltyFreq      float32
	PenaltyPresent   float32
	Mirostat         int32
	MirostatTau      float32
	MirostatEta      float32
	PenalizeNL       bool
	Seed             uint32
	Grammar          string
}

// Runtime loads models. Implementations are safe for concurrent use; the
// handles they return are not, except where noted.
type Runtime interface {
	// LoadModel reads a model from disk. progress, when non-nil, receives
	// fractions in [0,1] and may return false to abort the load.
	LoadModel(path string, progress func(float32) bool) (Model, error)
}

// Model is a loaded model. It is immutable and may be shared freely.
type Model interface {
	Info() Info
	// Tokenize converts text to tokens. addSpecial controls BOS/EOS
	// insertion; parseSpecial enables special-token syntax in the text.
	Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error)
	// TokenToPiece renders a single token. The result is bounded by a small
	// fixed byte budget; an error means the token has no stable rendering.
	TokenToPiece(t Token) (string, error)
	// EOS returns the end-of-stream token.
	EOS() Token
	// NewContext allocates an inference context (KV cache plus scratch).
	NewContext(p ContextParams) (Context, error)
	// NewSampler allocates a sampling state for this model.
	NewSampler(p SamplerParams) (Sampler, error)
	Close() error
}

// Context is a per-session KV cache. All methods require external
// serialization; the core guarantees it via the session mutex.
type Context interface {
	NCtx() int
	NBatch() int
	// Decode runs one forward pass over the batch, extending the KV cache.
	// ErrKVSlotExhausted reports that the cache cannot place the batch;
	// other failures are *DecodeError.
	Decode(b *Batch) error
	// RemoveRange drops KV entries for positions [p0, p1) of sequence 0.
	// p1 < 0 means "to the end".
	RemoveRange(p0, p1 int) error
	// SaveState persists the context state plus the given token sequence.
	SaveState(path string, tokens []Token) error
	// LoadState restores a previously saved state and returns the token
	// sequence it was saved with.
	LoadState(path string) ([]Token, error)
	Close() error
}

// Sampler owns sampling scratch state (penalties, mirostat, grammar).
type Sampler interface {
	// Sample picks the next token from the logits of the most recently
	// decoded position flagged for logits.
	Sample(ctx Context) (Token, error)
	// Accept feeds a chosen token back into penalty and grammar state.
	Accept(t Token)
	// SetGrammar replaces the grammar portion of the state in place.
	SetGrammar(grammar string) error
	// Reset clears the sampling history.
	Reset()
	Close() error
}

// ErrUnavailable reports that no runtime backend is compiled in.
var ErrUnavailable = errors.New("runtime backend not built (missing 'yzma' build tag)")

// ErrKVSlotExhausted reports that the KV cache has no slot for a batch.
var ErrKVSlotExhausted = errors.New("kv cache slot exhausted")

// DecodeError wraps a non-zero runtime decode status.
type DecodeError struct {
	Code int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("runtime decode failed with status %d", e.Code)
}
