package engine

import (
	"github.com/vladfaust/simularity/internal/runtime"
	"github.com/vladfaust/simularity/pkg/types"
)

// sampler wraps the runtime's sampling state for one inference call. It is
// pure forwarding except for SetGrammar, which rebuilds the grammar portion
// of the state in place.
type sampler struct {
	rs runtime.Sampler
}

// newSampler builds a sampling state from resolved options plus the grammar
// that won the grammar/script arbitration.
func newSampler(m runtime.Model, r types.ResolvedOptions, grammar string) (*sampler, error) {
	rs, err := m.NewSampler(runtime.SamplerParams{
		NPrev:            r.NPrev,
		NProbs:           r.NProbs,
		MinKeep:          r.MinKeep,
		TopK:             r.TopK,
		TopP:             r.TopP,
		MinP:             r.MinP,
		TfsZ:             r.TfsZ,
		TypicalP:         r.TypicalP,
		Temp:             r.Temp,
		DynatempRange:    r.DynatempRange,
		DynatempExponent: r.DynatempExponent,
		PenaltyLastN:     r.PenaltyLastN,
		PenaltyRepeat:    r.PenaltyRepeat,
		PenaltyFreq:      r.PenaltyFreq,
		PenaltyPresent:   r.PenaltyPresent,
		Mirostat:         r.Mirostat,
		MirostatTau:      r.MirostatTau,
		MirostatEta:      r.MirostatEta,
		PenalizeNL:       r.PenalizeNL,
		Seed:             r.Seed,
		Grammar:          grammar,
	})
	if err != nil {
		return nil, samplingInitError{err: err}
	}
	return &sampler{rs: rs}, nil
}

func (sm *sampler) sample(ctx runtime.Context) (runtime.Token, error) {
	t, err := sm.rs.Sample(ctx)
	if err != nil {
		return 0, samplingError{err: err}
	}
	return t, nil
}

func (sm *sampler) accept(t runtime.Token) { sm.rs.Accept(t) }

func (sm *sampler) setGrammar(g string) error {
	if err := sm.rs.SetGrammar(g); err != nil {
		return grammarError{msg: err.Error()}
	}
	return nil
}

func (sm *sampler) close() error { return sm.rs.Close() }
