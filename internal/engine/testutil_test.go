package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladfaust/simularity/internal/runtime"
)

// The fake runtime tokenizes one rune per token (token id = rune value) and
// simulates the KV cache as a position-indexed token slice, which lets the
// tests assert the cache-equals-decode(prompt) invariant directly.

const fakeEOS = runtime.Token(3) // ETX; never produced by the tokenizer in tests

type fakeRuntime struct {
	mu      sync.Mutex
	loadErr error
	models  map[string]*fakeModel
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{models: make(map[string]*fakeModel)}
}

func (r *fakeRuntime) LoadModel(path string, progress func(float32) bool) (runtime.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if progress != nil && !progress(0.5) {
		return nil, errors.New("model load aborted")
	}
	m, ok := r.models[path]
	if !ok {
		m = newFakeModel()
		r.models[path] = m
	}
	if progress != nil {
		progress(1)
	}
	return m, nil
}

type fakeModel struct {
	mu   sync.Mutex
	info runtime.Info

	tokenizeErr error
	pieceErrFor map[runtime.Token]bool

	defaultNCtx   int
	defaultNBatch int
	newCtxErr     error

	// sampler is handed out by the next NewSampler call; samplerParams and
	// samplerGrammar record what the engine asked for. samplerFn, when set,
	// takes precedence and mints a sampler per call.
	sampler        *scriptedSampler
	samplerFn      func() (runtime.Sampler, error)
	samplerErr     error
	samplerParams  runtime.SamplerParams
	samplerGrammar string

	contexts   []*fakeContext
	closeCount int
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		info:          runtime.Info{NParams: 1000, Size: 4096, NCtxTrain: 2048},
		pieceErrFor:   make(map[runtime.Token]bool),
		defaultNCtx:   64,
		defaultNBatch: 4,
	}
}

func (m *fakeModel) Info() runtime.Info { return m.info }

func (m *fakeModel) Tokenize(text string, addSpecial, parseSpecial bool) ([]runtime.Token, error) {
	if m.tokenizeErr != nil {
		return nil, m.tokenizeErr
	}
	var out []runtime.Token
	for _, r := range text {
		out = append(out, runtime.Token(r))
	}
	return out, nil
}

func (m *fakeModel) TokenToPiece(t runtime.Token) (string, error) {
	if m.pieceErrFor[t] {
		return "", fmt.Errorf("no piece for token %d", t)
	}
	return string(rune(t)), nil
}

func (m *fakeModel) EOS() runtime.Token { return fakeEOS }

func (m *fakeModel) NewContext(p runtime.ContextParams) (runtime.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.newCtxErr != nil {
		return nil, m.newCtxErr
	}
	nCtx := p.NCtx
	if nCtx <= 0 {
		nCtx = m.defaultNCtx
	}
	nBatch := p.NBatch
	if nBatch <= 0 {
		nBatch = m.defaultNBatch
	}
	c := &fakeContext{nCtx: nCtx, nBatch: nBatch, evalHook: p.EvalHook, flashAttention: p.FlashAttention}
	m.contexts = append(m.contexts, c)
	return c, nil
}

func (m *fakeModel) NewSampler(p runtime.SamplerParams) (runtime.Sampler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samplerErr != nil {
		return nil, m.samplerErr
	}
	m.samplerParams = p
	m.samplerGrammar = p.Grammar
	if m.samplerFn != nil {
		return m.samplerFn()
	}
	if m.sampler == nil {
		return nil, errors.New("no sampler scripted for this test")
	}
	s := m.sampler
	m.sampler = nil
	return s, nil
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

func (m *fakeModel) lastContext() *fakeContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

type fakeDecode struct {
	tokens []runtime.Token
	pos    []int32
	logits []bool
}

type fakeContext struct {
	nCtx           int
	nBatch         int
	flashAttention bool
	evalHook       func()

	kv        []runtime.Token
	decodes   []fakeDecode
	removes   [][2]int
	decodeErr error // injected once, then cleared
	closed    bool
}

func (c *fakeContext) NCtx() int   { return c.nCtx }
func (c *fakeContext) NBatch() int { return c.nBatch }

func (c *fakeContext) Decode(b *runtime.Batch) error {
	if c.decodeErr != nil {
		err := c.decodeErr
		c.decodeErr = nil
		return err
	}
	rec := fakeDecode{
		tokens: append([]runtime.Token(nil), b.Tokens()...),
		pos:    append([]int32(nil), b.Pos()...),
		logits: append([]bool(nil), b.Logits()...),
	}
	c.decodes = append(c.decodes, rec)
	for i, tok := range rec.tokens {
		pos := int(rec.pos[i])
		switch {
		case pos >= c.nCtx:
			return runtime.ErrKVSlotExhausted
		case pos == len(c.kv):
			c.kv = append(c.kv, tok)
		case pos < len(c.kv):
			c.kv[pos] = tok
		default:
			return &runtime.DecodeError{Code: -42} // position gap
		}
	}
	if c.evalHook != nil {
		for i := 0; i < 2*len(rec.tokens); i++ {
			c.evalHook()
		}
	}
	return nil
}

func (c *fakeContext) RemoveRange(p0, p1 int) error {
	c.removes = append(c.removes, [2]int{p0, p1})
	if p1 >= 0 && p1 < len(c.kv) {
		return errors.New("fake context only supports suffix removal")
	}
	if p0 < len(c.kv) {
		if p0 < 0 {
			p0 = 0
		}
		c.kv = c.kv[:p0]
	}
	return nil
}

func (c *fakeContext) SaveState(path string, tokens []runtime.Token) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *fakeContext) LoadState(path string) ([]runtime.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens []runtime.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	c.kv = append([]runtime.Token(nil), tokens...)
	return tokens, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

// scriptedSampler emits a fixed token sequence and records every
// interaction.
type scriptedSampler struct {
	seq        []runtime.Token
	i          int
	accepted   []runtime.Token
	grammars   []string
	grammarErr error
	sampleErr  error
	resets     int
	closed     bool
}

func (s *scriptedSampler) Sample(runtime.Context) (runtime.Token, error) {
	if s.sampleErr != nil {
		return 0, s.sampleErr
	}
	if s.i >= len(s.seq) {
		return 0, errors.New("scripted sampler exhausted")
	}
	t := s.seq[s.i]
	s.i++
	return t, nil
}

func (s *scriptedSampler) Accept(t runtime.Token) { s.accepted = append(s.accepted, t) }

func (s *scriptedSampler) SetGrammar(g string) error {
	if s.grammarErr != nil {
		return s.grammarErr
	}
	s.grammars = append(s.grammars, g)
	return nil
}

func (s *scriptedSampler) Reset() { s.resets++ }

func (s *scriptedSampler) Close() error {
	s.closed = true
	return nil
}

// fakeClock is an adjustable clock for TTL tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// tokensOf is shorthand for the fake tokenizer's output.
func tokensOf(text string) []runtime.Token {
	var out []runtime.Token
	for _, r := range text {
		out = append(out, runtime.Token(r))
	}
	return out
}

func tokensEqual(a, b []runtime.Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestEngine(cfg Config) (*Engine, *fakeRuntime) {
	if cfg.Now == nil {
		cfg.Now = newFakeClock().Now
	}
	cfg.Logger = zerolog.Nop()
	rt := newFakeRuntime()
	return New(rt, cfg), rt
}

// loadTestModel loads a model under the given id and returns its fake.
func loadTestModel(e *Engine, rt *fakeRuntime, id string) *fakeModel {
	path := "/models/" + id + ".gguf"
	if _, err := e.LoadModel(path, id, nil); err != nil {
		panic(err)
	}
	return rt.models[path]
}
