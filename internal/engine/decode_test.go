package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vladfaust/simularity/internal/runtime"
)

func createSession(t *testing.T, e *Engine, model, initialPrompt string) uint64 {
	t.Helper()
	id, _, err := e.CreateSession(CreateParams{Model: model, InitialPrompt: initialPrompt})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func sessionState(t *testing.T, e *Engine, id uint64) *Session {
	t.Helper()
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		t.Fatalf("session %d not in store", id)
	}
	return s
}

// Prefix reuse: decoding an extension of the current prompt re-decodes only
// the new suffix, with logits requested for the final token only.
func TestDecodePrefixReuse(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "AB")

	ctx := m.lastContext()
	ctx.decodes = nil
	ctx.removes = nil

	n, err := e.Decode(id, "ABCD", nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 4 {
		t.Fatalf("length: got %d want 4", n)
	}

	if len(ctx.removes) != 1 || ctx.removes[0] != [2]int{2, -1} {
		t.Fatalf("kv removal: got %v want [[2 -1]]", ctx.removes)
	}
	if len(ctx.decodes) != 1 {
		t.Fatalf("decode calls: got %d want 1", len(ctx.decodes))
	}
	d := ctx.decodes[0]
	if !tokensEqual(d.tokens, tokensOf("CD")) {
		t.Fatalf("batch tokens: got %v", d.tokens)
	}
	if d.pos[0] != 2 || d.pos[1] != 3 {
		t.Fatalf("batch positions: got %v", d.pos)
	}
	if d.logits[0] || !d.logits[1] {
		t.Fatalf("logits flags: got %v want [false true]", d.logits)
	}

	s := sessionState(t, e, id)
	if !tokensEqual(s.prompt, tokensOf("ABCD")) {
		t.Fatalf("prompt: got %v", s.prompt)
	}
	if !tokensEqual(ctx.kv, s.prompt) {
		t.Fatalf("kv cache diverged from prompt: %v vs %v", ctx.kv, s.prompt)
	}
}

// Context overflow rejects the call before touching the session.
func TestDecodeContextOverflow(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	m.defaultNCtx = 4
	id := createSession(t, e, "m", "ABCD")
	ctx := m.lastContext()
	before := append([]runtime.Token(nil), ctx.kv...)

	_, err := e.Decode(id, "ABCDE", nil)
	if err == nil || !IsContextOverflow(err) {
		t.Fatalf("expected context overflow, got %v", err)
	}
	if Code(err) != -2 {
		t.Fatalf("code: got %d want -2", Code(err))
	}

	s := sessionState(t, e, id)
	if !tokensEqual(s.prompt, tokensOf("ABCD")) {
		t.Fatalf("prompt changed on overflow: %v", s.prompt)
	}
	if !tokensEqual(ctx.kv, before) {
		t.Fatalf("kv changed on overflow: %v", ctx.kv)
	}
}

// An exact prefix match decodes nothing.
func TestDecodeFullMatchIsFree(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "HELLO")
	ctx := m.lastContext()
	ctx.decodes = nil

	n, err := e.Decode(id, "HELLO", nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 5 {
		t.Fatalf("length: got %d want 5", n)
	}
	if len(ctx.decodes) != 0 {
		t.Fatalf("expected zero decode calls, got %d", len(ctx.decodes))
	}
}

// Divergent prompts drop the stale suffix and the decode-call count follows
// ceil((len(target)-nMatch)/nBatch).
func TestDecodeBatchCountAndRedecode(t *testing.T) {
	cases := []struct {
		name        string
		first, next string
		nBatch      int
		wantMatch   int
		wantCalls   int
	}{
		{"disjoint", "XYZ", "ABCDE", 2, 0, 3},
		{"partial", "ABCD", "ABXY", 2, 2, 1},
		{"exact batch multiple", "AB", "ABCDEF", 2, 2, 2},
		{"shrink", "ABCDEF", "ABC", 4, 3, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, rt := newTestEngine(Config{})
			m := loadTestModel(e, rt, "m")
			m.defaultNBatch = tc.nBatch
			id := createSession(t, e, "m", tc.first)
			ctx := m.lastContext()
			ctx.decodes = nil
			ctx.removes = nil

			n, err := e.Decode(id, tc.next, nil)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n != len(tc.next) {
				t.Fatalf("length: got %d want %d", n, len(tc.next))
			}
			if ctx.removes[0] != [2]int{tc.wantMatch, -1} {
				t.Fatalf("first removal: got %v want [%d -1]", ctx.removes[0], tc.wantMatch)
			}
			if len(ctx.decodes) != tc.wantCalls {
				t.Fatalf("decode calls: got %d want %d", len(ctx.decodes), tc.wantCalls)
			}
			s := sessionState(t, e, id)
			if !tokensEqual(ctx.kv, s.prompt) || !tokensEqual(s.prompt, tokensOf(tc.next)) {
				t.Fatalf("state diverged: kv=%v prompt=%v", ctx.kv, s.prompt)
			}
		})
	}
}

// Two sequential decodes leave the same KV state as one fresh decode of the
// final prompt.
func TestDecodeSequenceEquivalentToFresh(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")

	a := createSession(t, e, "m", "")
	if _, err := e.Decode(a, "THE CAT SAT", nil); err != nil {
		t.Fatalf("decode A: %v", err)
	}
	if _, err := e.Decode(a, "THE CAT RAN", nil); err != nil {
		t.Fatalf("decode B: %v", err)
	}
	ctxA := m.contexts[0]

	b := createSession(t, e, "m", "")
	if _, err := e.Decode(b, "THE CAT RAN", nil); err != nil {
		t.Fatalf("fresh decode: %v", err)
	}
	ctxB := m.lastContext()

	if !tokensEqual(ctxA.kv, ctxB.kv) {
		t.Fatalf("kv mismatch: %v vs %v", ctxA.kv, ctxB.kv)
	}
}

// Progress values are monotonically non-decreasing and bounded by 1.
func TestDecodeProgressReporting(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	m.defaultNBatch = 2
	id := createSession(t, e, "m", "")

	var seen []float32
	_, err := e.Decode(id, "ABCDEF", func(p float32) bool {
		seen = append(seen, p)
		return true
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(seen) == 0 {
		t.Fatalf("expected progress callbacks")
	}
	for i, p := range seen {
		if p < 0 || p > 1 {
			t.Fatalf("progress %d out of range: %f", i, p)
		}
		if i > 0 && p < seen[i-1] {
			t.Fatalf("progress regressed at %d: %f < %f", i, p, seen[i-1])
		}
	}

	// The hook slot must be clear after the call.
	s := sessionState(t, e, id)
	if s.progressHook != nil {
		t.Fatalf("progress hook not cleared")
	}
}

// The hook slot is cleared on error exits too.
func TestDecodeProgressHookClearedOnError(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "AB")
	ctx := m.lastContext()
	ctx.decodeErr = &runtime.DecodeError{Code: 7}

	_, err := e.Decode(id, "ABCD", func(float32) bool { return true })
	if err == nil || !IsDecodeFailed(err) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if Code(err) != -4 {
		t.Fatalf("code: got %d want -4", Code(err))
	}
	if sessionState(t, e, id).progressHook != nil {
		t.Fatalf("progress hook not cleared on error path")
	}
}

func TestDecodeKVSlotExhaustedMapsToOverflow(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "AB")
	ctx := m.lastContext()
	ctx.decodeErr = runtime.ErrKVSlotExhausted

	_, err := e.Decode(id, "ABCD", nil)
	if err == nil || !IsContextOverflow(err) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestDecodeUnknownSession(t *testing.T) {
	e, _ := newTestEngine(Config{})
	_, err := e.Decode(42, "A", nil)
	if err == nil || !IsSessionNotFound(err) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if Code(err) != -1 {
		t.Fatalf("code: got %d want -1", Code(err))
	}
}

// Reset truncates to the initial prompt; a following decode of the initial
// prompt is free.
func TestResetRestoresInitialPrompt(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "SYS:")
	ctx := m.lastContext()

	if _, err := e.Decode(id, "SYS:hello", nil); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ctx.removes = nil
	ctx.decodes = nil

	n, err := e.ResetSession(id)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 4 {
		t.Fatalf("length after reset: got %d want 4", n)
	}
	if len(ctx.removes) != 1 || ctx.removes[0] != [2]int{4, -1} {
		t.Fatalf("reset removal: got %v", ctx.removes)
	}

	if _, err := e.Decode(id, "SYS:", nil); err != nil {
		t.Fatalf("decode initial: %v", err)
	}
	if len(ctx.decodes) != 0 {
		t.Fatalf("expected zero decodes after reset to initial prompt, got %d", len(ctx.decodes))
	}
}

// State files: the second session with the same state file primes from disk
// without decoding.
func TestCreateWithStateFile(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	state := filepath.Join(t.TempDir(), "session.state")

	id1, n1, err := e.CreateSession(CreateParams{Model: "m", InitialPrompt: "PRELUDE", StateFile: state})
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if n1 != 7 {
		t.Fatalf("length 1: got %d want 7", n1)
	}
	if _, err := os.Stat(state); err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	first := m.lastContext()
	if len(first.decodes) == 0 {
		t.Fatalf("first session should have decoded the prompt")
	}
	_ = e.DestroySession(id1)

	_, n2, err := e.CreateSession(CreateParams{Model: "m", InitialPrompt: "PRELUDE", StateFile: state})
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if n2 != 7 {
		t.Fatalf("length 2: got %d want 7", n2)
	}
	second := m.lastContext()
	if len(second.decodes) != 0 {
		t.Fatalf("second session should have loaded state, not decoded (%d decodes)", len(second.decodes))
	}
	if !tokensEqual(second.kv, tokensOf("PRELUDE")) {
		t.Fatalf("loaded kv: got %v", second.kv)
	}
}

// A corrupt state file falls back to a fresh decode and is not fatal.
func TestCreateWithCorruptStateFile(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	state := filepath.Join(t.TempDir(), "session.state")
	if err := os.WriteFile(state, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, n, err := e.CreateSession(CreateParams{Model: "m", InitialPrompt: "HI", StateFile: state})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n != 2 {
		t.Fatalf("length: got %d want 2", n)
	}
	ctx := m.lastContext()
	if len(ctx.decodes) == 0 {
		t.Fatalf("expected fallback decode after corrupt state")
	}
}

// Infer output is uncommitted: the next Decode discards it, while Commit
// preserves it for prefix matching.
func TestDecodeDiscardsUncommittedGeneration(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "Q:")
	m.sampler = &scriptedSampler{seq: tokensOf("hi")}

	if _, err := e.Infer(id, "", 2, nil, nil, nil); err != nil {
		t.Fatalf("infer: %v", err)
	}
	s := sessionState(t, e, id)
	if !tokensEqual(s.prompt, tokensOf("Q:hi")) {
		t.Fatalf("prompt after infer: %v", s.prompt)
	}

	ctx := m.lastContext()
	ctx.decodes = nil
	// "Q:hi" shares only the committed "Q:" prefix; the generated "hi" is
	// dropped before matching, so the identical text is re-decoded.
	if _, err := e.Decode(id, "Q:hi", nil); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ctx.decodes) == 0 {
		t.Fatalf("expected re-decode of uncommitted tail")
	}
	if !tokensEqual(ctx.kv, tokensOf("Q:hi")) {
		t.Fatalf("kv after decode: %v", ctx.kv)
	}
}

func TestCommitPreservesGeneration(t *testing.T) {
	e, rt := newTestEngine(Config{})
	m := loadTestModel(e, rt, "m")
	id := createSession(t, e, "m", "Q:")
	m.sampler = &scriptedSampler{seq: tokensOf("hi")}

	if _, err := e.Infer(id, "", 2, nil, nil, nil); err != nil {
		t.Fatalf("infer: %v", err)
	}
	n, err := e.CommitSession(id)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n != 4 {
		t.Fatalf("committed length: got %d want 4", n)
	}

	ctx := m.lastContext()
	ctx.decodes = nil
	if _, err := e.Decode(id, "Q:hi", nil); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ctx.decodes) != 0 {
		t.Fatalf("committed generation should be reusable, got %d decodes", len(ctx.decodes))
	}
}
