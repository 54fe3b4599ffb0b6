package engine

import (
	"strings"

	"github.com/vladfaust/simularity/internal/runtime"
	"github.com/vladfaust/simularity/internal/scripting"
	"github.com/vladfaust/simularity/pkg/types"
)

// replacementGlyph substitutes pieces of tokens that fail to render.
const replacementGlyph = "�"

// Infer samples up to nEval tokens, feeding each back through a
// single-token decode. Generation stops at nEval, on a stop sequence, on
// end-of-stream (unless a grammar script redirects it), or when onToken
// returns false. Generated tokens extend the session prompt but stay
// uncommitted: the next Decode discards them unless CommitSession ran
// first. Returns the context length after generation.
func (e *Engine) Infer(
	id uint64,
	prompt string,
	nEval int,
	opts *types.InferenceOptions,
	decodeProgress func(float32) bool,
	onToken func(piece string) bool,
) (int, error) {
	s, release, err := e.lockSession(id)
	if err != nil {
		return 0, err
	}
	defer release()

	r := opts.Resolve()
	if r.Grammar != "" && r.GrammarScript != "" {
		return 0, grammarError{msg: "grammar and grammar_script are mutually exclusive"}
	}

	grammar := r.Grammar
	var host *scripting.Host
	if r.GrammarScript != "" {
		var herr error
		host, grammar, herr = scripting.New(r.GrammarScript)
		if herr != nil {
			return 0, grammarScriptError{err: herr}
		}
		defer host.Close()
	}

	sm, err := newSampler(s.entry.model, r, grammar)
	if err != nil {
		return 0, err
	}
	defer sm.close()

	// Stop sequences are matched on token patterns: each sequence is
	// tokenized on its own, without BOS.
	stopPatterns := make([][]runtime.Token, 0, len(r.StopSequences))
	for _, seq := range r.StopSequences {
		pat, terr := s.entry.model.Tokenize(seq, false, false)
		if terr != nil {
			return 0, tokenizeError{err: terr}
		}
		if len(pat) > 0 {
			stopPatterns = append(stopPatterns, pat)
		}
	}

	if prompt != "" {
		target, terr := s.entry.model.Tokenize(prompt, true, true)
		if terr != nil {
			return 0, tokenizeError{err: terr}
		}
		if _, derr := e.decodeTokens(s, target, decodeProgress); derr != nil {
			return 0, derr
		}
	}
	if len(s.prompt) == 0 {
		return 0, invalidArgumentError{msg: "inference requires a non-empty context"}
	}

	eos := s.entry.model.EOS()
	// The generation batch always carries exactly one token. It starts out
	// loaded with the final prompt token, whose logits the prefill already
	// produced.
	batch := runtime.NewBatch(1)
	batch.Add(s.prompt[len(s.prompt)-1], len(s.prompt)-1, true)

	var (
		generated []runtime.Token
		eosText   strings.Builder
	)

loop:
	for len(generated) < nEval {
		next, serr := sm.sample(s.ctx)
		if serr != nil {
			return 0, serr
		}

		if next == eos {
			if host != nil && host.HasOnEOS() {
				nextGrammar, cont, herr := host.OnEOS(eosText.String())
				if herr != nil {
					return 0, grammarScriptError{err: herr}
				}
				if !cont {
					break
				}
				if gerr := sm.setGrammar(nextGrammar); gerr != nil {
					return 0, gerr
				}
				eosText.Reset()
				// The EOS token is deliberately neither accepted nor
				// decoded: it would poison subsequent sampling.
				continue
			}
			break
		}

		sm.accept(next)
		s.prompt = append(s.prompt, next)
		generated = append(generated, next)

		piece, perr := s.entry.model.TokenToPiece(next)
		if perr != nil {
			piece = replacementGlyph
		}
		// A stop still decodes the token just appended, so the KV cache
		// keeps matching the prompt.
		stop := onToken != nil && !onToken(piece)
		if !stop {
			for _, pat := range stopPatterns {
				if tailMatches(generated, pat) {
					// The stop sequence was already yielded to the caller and
					// its tokens are in the prompt and KV cache; consumers
					// trim. The trim toggle implements the alternative.
					if e.cfg.TrimStopSequences {
						if err := e.trimTail(s, len(pat)); err != nil {
							return 0, err
						}
						break loop
					}
					stop = true
					break
				}
			}
		}

		eosText.WriteString(piece)

		batch.Clear()
		batch.Add(next, len(s.prompt)-1, true)
		if derr := s.ctx.Decode(batch); derr != nil {
			return 0, mapDecodeError(derr)
		}
		tokensInferred.Inc()
		if stop {
			break
		}
	}

	e.touch(s)
	return len(s.prompt), nil
}

// trimTail removes the last n prompt tokens and their KV entries. Note that
// with TrimStopSequences the final stop token was never decoded, so only
// the decoded portion of the pattern has cache entries; removing the full
// range is still correct because RemoveRange tolerates absent positions.
func (e *Engine) trimTail(s *Session, n int) error {
	if n > len(s.prompt) {
		n = len(s.prompt)
	}
	cut := len(s.prompt) - n
	if cut < s.committed {
		cut = s.committed
	}
	if err := s.ctx.RemoveRange(cut, -1); err != nil {
		return err
	}
	s.prompt = s.prompt[:cut]
	return nil
}

// tailMatches reports whether pat equals the tail of gen.
func tailMatches(gen, pat []runtime.Token) bool {
	if len(gen) < len(pat) {
		return false
	}
	off := len(gen) - len(pat)
	for i, t := range pat {
		if gen[off+i] != t {
			return false
		}
	}
	return true
}
