//go:build yzma

package runtime

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// yzma loads llama.cpp shared libraries at process start via purego; no CGO
// is involved. The library directory comes from the SIMULARITY_LIB
// environment variable, falling back to ./lib/llama, matching the layout
// `yzma install --lib ./lib` produces.

const pieceMaxBytes = 64

var (
	loadOnce sync.Once
	loadErr  error
)

func initBackend() error {
	loadOnce.Do(func() {
		dir := os.Getenv("SIMULARITY_LIB")
		if dir == "" {
			dir = "./lib/llama"
		}
		if err := llama.Load(dir); err != nil {
			loadErr = fmt.Errorf("load llama.cpp libraries from %s: %w", dir, err)
			return
		}
		llama.Init()
	})
	return loadErr
}

// New returns the yzma-backed runtime.
func New() (Runtime, error) {
	if err := initBackend(); err != nil {
		return nil, err
	}
	return &yzmaRuntime{}, nil
}

type yzmaRuntime struct{}

func (r *yzmaRuntime) LoadModel(path string, progress func(float32) bool) (Model, error) {
	// yzma does not surface llama.cpp's C-level load progress callback, so
	// the abort check runs once up front and completion is reported after.
	if progress != nil && !progress(0) {
		return nil, errors.New("model load aborted")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mdl, err := llama.ModelLoadFromFile(path, llama.ModelDefaultParams())
	if err != nil {
		return nil, err
	}
	if mdl == 0 {
		return nil, fmt.Errorf("load model %s: bad handle", path)
	}
	if progress != nil {
		progress(1)
	}
	return &yzmaModel{
		model: mdl,
		vocab: llama.ModelGetVocab(mdl),
		info: Info{
			NParams:   uint64(llama.ModelNParams(mdl)),
			Size:      uint64(fi.Size()),
			NCtxTrain: int64(llama.ModelNCtxTrain(mdl)),
		},
	}, nil
}

type yzmaModel struct {
	model llama.Model
	vocab llama.Vocab
	info  Info
}

func (m *yzmaModel) Info() Info { return m.info }

func (m *yzmaModel) Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error) {
	toks := llama.Tokenize(m.vocab, text, addSpecial, parseSpecial)
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token(t)
	}
	return out, nil
}

func (m *yzmaModel) TokenToPiece(t Token) (string, error) {
	buf := make([]byte, pieceMaxBytes)
	n := llama.TokenToPiece(m.vocab, llama.Token(t), buf, 0, true)
	if n < 0 {
		return "", fmt.Errorf("token %d has no piece", t)
	}
	return string(buf[:n]), nil
}

func (m *yzmaModel) EOS() Token { return Token(llama.VocabEOS(m.vocab)) }

func (m *yzmaModel) NewContext(p ContextParams) (Context, error) {
	cp := llama.ContextDefaultParams()
	cp.Embeddings = 0
	if p.NCtx > 0 {
		cp.NCtx = uint32(p.NCtx)
	}
	if p.NBatch > 0 {
		cp.NBatch = uint32(p.NBatch)
	}
	if p.FlashAttention {
		cp.FlashAttnType = llama.FlashAttentionTypeAuto
	}
	lctx, err := llama.InitFromModel(m.model, cp)
	if err != nil {
		return nil, err
	}
	return &yzmaContext{
		ctx:      lctx,
		nCtx:     int(cp.NCtx),
		nBatch:   int(cp.NBatch),
		evalHook: p.EvalHook,
	}, nil
}

func (m *yzmaModel) NewSampler(p SamplerParams) (Sampler, error) {
	s := &yzmaSampler{model: m, params: p, grammar: p.Grammar}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *yzmaModel) Close() error {
	llama.ModelFree(m.model)
	return nil
}

type yzmaContext struct {
	ctx      llama.Context
	nCtx     int
	nBatch   int
	evalHook func()
}

func (c *yzmaContext) NCtx() int   { return c.nCtx }
func (c *yzmaContext) NBatch() int { return c.nBatch }

func (c *yzmaContext) Decode(b *Batch) error {
	lb := llama.BatchInit(int32(b.Cap()), 0, 1)
	defer llama.BatchFree(lb)

	n := b.Len()
	lb.NTokens = int32(n)
	toks := unsafe.Slice(lb.Token, n)
	pos := unsafe.Slice(lb.Pos, n)
	nseq := unsafe.Slice(lb.NSeqId, n)
	seq := unsafe.Slice(lb.SeqId, n)
	logits := unsafe.Slice(lb.Logits, n)
	zero := []llama.SeqId{0}
	for i := 0; i < n; i++ {
		toks[i] = llama.Token(b.Tokens()[i])
		pos[i] = llama.Pos(b.Pos()[i])
		nseq[i] = 1
		seq[i] = unsafe.SliceData(zero)
		if b.Logits()[i] {
			logits[i] = 1
		} else {
			logits[i] = 0
		}
	}

	ret, err := llama.Decode(c.ctx, lb)
	if ret == 1 {
		return ErrKVSlotExhausted
	}
	if err != nil || ret != 0 {
		return &DecodeError{Code: int(ret)}
	}
	// yzma does not expose ggml's per-evaluation callback; tick the hook
	// the expected number of times (key and value passes) after the fact.
	if c.evalHook != nil {
		for i := 0; i < 2*n; i++ {
			c.evalHook()
		}
	}
	return nil
}

func (c *yzmaContext) RemoveRange(p0, p1 int) error {
	mem := llama.GetMemory(c.ctx)
	if !llama.MemorySeqRm(mem, 0, llama.Pos(p0), llama.Pos(p1)) {
		return fmt.Errorf("kv range removal [%d, %d) rejected", p0, p1)
	}
	return nil
}

func (c *yzmaContext) SaveState(path string, tokens []Token) error {
	toks := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		toks[i] = llama.Token(t)
	}
	if !llama.StateSaveFile(c.ctx, path, toks) {
		return fmt.Errorf("save state to %s failed", path)
	}
	return nil
}

func (c *yzmaContext) LoadState(path string) ([]Token, error) {
	buf := make([]llama.Token, c.nCtx)
	var count uint64
	if !llama.StateLoadFile(c.ctx, path, buf, &count) {
		return nil, fmt.Errorf("load state from %s failed", path)
	}
	out := make([]Token, count)
	for i := range out {
		out[i] = Token(buf[i])
	}
	return out, nil
}

func (c *yzmaContext) Close() error {
	llama.Synchronize(c.ctx)
	llama.Free(c.ctx)
	return nil
}

type yzmaSampler struct {
	model   *yzmaModel
	params  SamplerParams
	grammar string
	chain   llama.Sampler
}

// rebuild constructs the sampler chain from scratch. Grammar swaps go
// through here as well: llama.cpp chains own their members, so replacing
// one link means rebuilding the chain.
func (s *yzmaSampler) rebuild() error {
	if s.chain != 0 {
		llama.SamplerFree(s.chain)
		s.chain = 0
	}
	p := s.params
	chain := llama.SamplerChainInit(llama.SamplerChainDefaultParams())
	if s.grammar != "" {
		g := llama.SamplerInitGrammar(s.model.vocab, s.grammar, "root")
		if g == 0 {
			llama.SamplerFree(chain)
			return fmt.Errorf("grammar rejected by runtime")
		}
		llama.SamplerChainAdd(chain, g)
	}
	llama.SamplerChainAdd(chain, llama.SamplerInitPenalties(p.PenaltyLastN, p.PenaltyRepeat, p.PenaltyFreq, p.PenaltyPresent))
	switch p.Mirostat {
	case 1:
		nVocab := llama.VocabNTokens(s.model.vocab)
		llama.SamplerChainAdd(chain, llama.SamplerInitMirostat(nVocab, p.Seed, p.MirostatTau, p.MirostatEta, 100))
	case 2:
		llama.SamplerChainAdd(chain, llama.SamplerInitMirostatV2(p.Seed, p.MirostatTau, p.MirostatEta))
	default:
		llama.SamplerChainAdd(chain, llama.SamplerInitTopK(p.TopK))
		llama.SamplerChainAdd(chain, llama.SamplerInitTypical(p.TypicalP, uint64(p.MinKeep)))
		llama.SamplerChainAdd(chain, llama.SamplerInitTopP(p.TopP, uint64(p.MinKeep)))
		llama.SamplerChainAdd(chain, llama.SamplerInitMinP(p.MinP, uint64(p.MinKeep)))
		if p.DynatempRange > 0 {
			llama.SamplerChainAdd(chain, llama.SamplerInitTempExt(p.Temp, p.DynatempRange, p.DynatempExponent))
		} else {
			llama.SamplerChainAdd(chain, llama.SamplerInitTemp(p.Temp))
		}
	}
	llama.SamplerChainAdd(chain, llama.SamplerInitDist(p.Seed))
	s.chain = chain
	return nil
}

func (s *yzmaSampler) Sample(ctx Context) (Token, error) {
	yc, ok := ctx.(*yzmaContext)
	if !ok {
		return 0, errors.New("sampler requires a yzma context")
	}
	return Token(llama.SamplerSample(s.chain, yc.ctx, -1)), nil
}

func (s *yzmaSampler) Accept(t Token) {
	llama.SamplerAccept(s.chain, llama.Token(t))
}

func (s *yzmaSampler) SetGrammar(grammar string) error {
	s.grammar = grammar
	return s.rebuild()
}

func (s *yzmaSampler) Reset() {
	llama.SamplerReset(s.chain)
}

func (s *yzmaSampler) Close() error {
	if s.chain != 0 {
		llama.SamplerFree(s.chain)
		s.chain = 0
	}
	return nil
}
