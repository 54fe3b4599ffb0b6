package types

// Dynatemp configures dynamic temperature sampling.
type Dynatemp struct {
	Range    *float32 `json:"range,omitempty"`
	Exponent *float32 `json:"exponent,omitempty"`
}

// Penalty configures repetition penalties.
type Penalty struct {
	LastN      *int32   `json:"last_n,omitempty"`
	Repeat     *float32 `json:"repeat,omitempty"`
	Freq       *float32 `json:"freq,omitempty"`
	Present    *float32 `json:"present,omitempty"`
	PenalizeNL *bool    `json:"penalize_nl,omitempty"`
}

// Mirostat configures mirostat sampling. Version is 1 or 2.
type Mirostat struct {
	Version int32    `json:"version"`
	Tau     *float32 `json:"tau,omitempty"`
	Eta     *float32 `json:"eta,omitempty"`
}

// InferenceOptions is the wire shape of sampling and stopping knobs for an
// inference call. Omitted fields fall back to the documented defaults
// (see DefaultInferenceOptions).
type InferenceOptions struct {
	NPrev         *int32    `json:"n_prev,omitempty"`
	NProbs        *int32    `json:"n_probs,omitempty"`
	MinKeep       *int32    `json:"min_keep,omitempty"`
	TopK          *int32    `json:"top_k,omitempty"`
	TopP          *float32  `json:"top_p,omitempty"`
	MinP          *float32  `json:"min_p,omitempty"`
	TfsZ          *float32  `json:"tfs_z,omitempty"`
	TypicalP      *float32  `json:"typical_p,omitempty"`
	Temp          *float32  `json:"temp,omitempty"`
	Dynatemp      *Dynatemp `json:"dynatemp,omitempty"`
	Penalty       *Penalty  `json:"penalty,omitempty"`
	Mirostat      *Mirostat `json:"mirostat,omitempty"`
	Seed          *uint32   `json:"seed,omitempty"`
	Grammar       string    `json:"grammar,omitempty"`
	GrammarScript string    `json:"grammar_script,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// ResolvedOptions is InferenceOptions with every default applied.
type ResolvedOptions struct {
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
	GrammarScript    string
	StopSequences    []string
}

// DefaultInferenceOptions returns the documented option defaults.
func DefaultInferenceOptions() ResolvedOptions {
	return ResolvedOptions{
		NPrev:            64,
		NProbs:           0,
		MinKeep:          0,
		TopK:             40,
		TopP:             0.95,
		MinP:             0.05,
		TfsZ:             1.0,
		TypicalP:         1.0,
		Temp:             0.80,
		DynatempRange:    0,
		DynatempExponent: 1.0,
		PenaltyLastN:     64,
		PenaltyRepeat:    1.0,
		PenaltyFreq:      0,
		PenaltyPresent:   0,
		Mirostat:         0,
		MirostatTau:      5.0,
		MirostatEta:      0.10,
		PenalizeNL:       false,
		Seed:             0,
	}
}

// Resolve applies o on top of the defaults. A nil receiver yields the
// defaults unchanged.
func (o *InferenceOptions) Resolve() ResolvedOptions {
	r := DefaultInferenceOptions()
	if o == nil {
		return r
	}
	if o.NPrev != nil {
		r.NPrev = *o.NPrev
	}
	if o.NProbs != nil {
		r.NProbs = *o.NProbs
	}
	if o.MinKeep != nil {
		r.MinKeep = *o.MinKeep
	}
	if o.TopK != nil {
		r.TopK = *o.TopK
	}
	if o.TopP != nil {
		r.TopP = *o.TopP
	}
	if o.MinP != nil {
		r.MinP = *o.MinP
	}
	if o.TfsZ != nil {
		r.TfsZ = *o.TfsZ
	}
	if o.TypicalP != nil {
		r.TypicalP = *o.TypicalP
	}
	if o.Temp != nil {
		r.Temp = *o.Temp
	}
	if o.Seed != nil {
		r.Seed = *o.Seed
	}
	if d := o.Dynatemp; d != nil {
		if d.Range != nil {
			r.DynatempRange = *d.Range
		}
		if d.Exponent != nil {
			r.DynatempExponent = *d.Exponent
		}
	}
	if p := o.Penalty; p != nil {
		if p.LastN != nil {
			r.PenaltyLastN = *p.LastN
		}
		if p.Repeat != nil {
			r.PenaltyRepeat = *p.Repeat
		}
		if p.Freq != nil {
			r.PenaltyFreq = *p.Freq
		}
		if p.Present != nil {
			r.PenaltyPresent = *p.Present
		}
		if p.PenalizeNL != nil {
			r.PenalizeNL = *p.PenalizeNL
		}
	}
	if m := o.Mirostat; m != nil {
		r.Mirostat = m.Version
		if m.Tau != nil {
			r.MirostatTau = *m.Tau
		}
		if m.Eta != nil {
			r.MirostatEta = *m.Eta
		}
	}
	r.Grammar = o.Grammar
	r.GrammarScript = o.GrammarScript
	r.StopSequences = o.StopSequences
	return r
}
