package runtime

// Batch is a reusable buffer of tokens submitted to one Decode call. Every
// entry is tagged with its absolute position and a flag requesting logits;
// sequence id 0 is implied throughout the core.
type Batch struct {
	tokens []Token
	pos    []int32
	logits []bool
	cap    int
}

// NewBatch allocates a batch holding up to n tokens.
func NewBatch(n int) *Batch {
	if n < 1 {
		n = 1
	}
	return &Batch{
		tokens: make([]Token, 0, n),
		pos:    make([]int32, 0, n),
		logits: make([]bool, 0, n),
		cap:    n,
	}
}

// Add appends one token. Panics when the batch is full; the core sizes its
// loops so this cannot happen.
func (b *Batch) Add(t Token, pos int, logits bool) {
	if len(b.tokens) >= b.cap {
		panic("runtime: batch overflow")
	}
	b.tokens = append(b.tokens, t)
	b.pos = append(b.pos, int32(pos))
	b.logits = append(b.logits, logits)
}

// Clear resets the token count, keeping the buffers for reuse.
func (b *Batch) Clear() {
	b.tokens = b.tokens[:0]
	b.pos = b.pos[:0]
	b.logits = b.logits[:0]
}

// Len reports the number of tokens currently in the batch.
func (b *Batch) Len() int { return len(b.tokens) }

// Cap reports the batch capacity.
func (b *Batch) Cap() int { return b.cap }

// Tokens exposes the token slice for implementations.
func (b *Batch) Tokens() []Token { return b.tokens }

// Pos exposes the position slice for implementations.
func (b *Batch) Pos() []int32 { return b.pos }

// Logits exposes the logits flags for implementations.
func (b *Batch) Logits() []bool { return b.logits }
