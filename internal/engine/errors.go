package engine

import (
	"errors"
	"fmt"

	"github.com/vladfaust/simularity/pkg/types"
)

// modelNotFoundError reports a model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	var t modelNotFoundError
	return errors.As(err, &t)
}

// sessionNotFoundError reports a session id absent from the store.
type sessionNotFoundError struct{ id uint64 }

func (e sessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %d", e.id)
}

// IsSessionNotFound reports whether err indicates a missing session id.
func IsSessionNotFound(err error) bool {
	var t sessionNotFoundError
	return errors.As(err, &t)
}

// duplicateModelError reports a model id that is already loaded. It carries
// the info of the existing model, which callers are expected to surface.
type duplicateModelError struct {
	id   string
	info types.ModelInfo
}

func (e duplicateModelError) Error() string { return "model already loaded: " + e.id }

// IsDuplicateModel reports whether err indicates an already-loaded model id.
func IsDuplicateModel(err error) bool {
	var t duplicateModelError
	return errors.As(err, &t)
}

// capacityError reports that the session cap is reached and nothing expired.
type capacityError struct{}

func (capacityError) Error() string { return "session capacity reached" }

// IsCapacityReached reports whether err indicates session-store saturation.
func IsCapacityReached(err error) bool {
	var t capacityError
	return errors.As(err, &t)
}

// contextOverflowError reports a prompt that cannot fit the context.
type contextOverflowError struct{}

func (contextOverflowError) Error() string { return "context overflow" }

// IsContextOverflow reports whether err indicates context exhaustion.
func IsContextOverflow(err error) bool {
	var t contextOverflowError
	return errors.As(err, &t)
}

// modelLoadError wraps a runtime model-load failure.
type modelLoadError struct {
	path string
	err  error
}

func (e modelLoadError) Error() string { return "load model " + e.path + ": " + e.err.Error() }
func (e modelLoadError) Unwrap() error { return e.err }

// IsModelLoad reports whether err indicates a model-load failure.
func IsModelLoad(err error) bool {
	var t modelLoadError
	return errors.As(err, &t)
}

// contextCreationError wraps a runtime context-creation failure.
type contextCreationError struct{ err error }

func (e contextCreationError) Error() string { return "create context: " + e.err.Error() }
func (e contextCreationError) Unwrap() error { return e.err }

// IsContextCreation reports whether err indicates context-creation failure.
func IsContextCreation(err error) bool {
	var t contextCreationError
	return errors.As(err, &t)
}

// decodeFailedError reports a non-zero runtime decode status.
type decodeFailedError struct{ code int }

func (e decodeFailedError) Error() string {
	return fmt.Sprintf("decode failed with status %d", e.code)
}

// IsDecodeFailed reports whether err indicates a runtime decode failure.
func IsDecodeFailed(err error) bool {
	var t decodeFailedError
	return errors.As(err, &t)
}

// samplingInitError wraps a sampling-state initialization failure.
type samplingInitError struct{ err error }

func (e samplingInitError) Error() string { return "init sampling: " + e.err.Error() }
func (e samplingInitError) Unwrap() error { return e.err }

// IsSamplingInit reports whether err indicates sampler initialization failure.
func IsSamplingInit(err error) bool {
	var t samplingInitError
	return errors.As(err, &t)
}

// samplingError wraps a failure while sampling a token.
type samplingError struct{ err error }

func (e samplingError) Error() string { return "sample token: " + e.err.Error() }
func (e samplingError) Unwrap() error { return e.err }

// IsSampling reports whether err indicates a sampling failure.
func IsSampling(err error) bool {
	var t samplingError
	return errors.As(err, &t)
}

// grammarError reports an invalid grammar or conflicting grammar inputs.
type grammarError struct{ msg string }

func (e grammarError) Error() string { return "grammar: " + e.msg }

// IsGrammar reports whether err indicates a grammar problem.
func IsGrammar(err error) bool {
	var t grammarError
	return errors.As(err, &t)
}

// grammarScriptError wraps an error raised by a grammar script.
type grammarScriptError struct{ err error }

func (e grammarScriptError) Error() string { return e.err.Error() }
func (e grammarScriptError) Unwrap() error { return e.err }

// IsGrammarScript reports whether err indicates a grammar-script failure.
func IsGrammarScript(err error) bool {
	var t grammarScriptError
	return errors.As(err, &t)
}

// tokenizeError wraps a tokenizer failure on caller-supplied text.
type tokenizeError struct{ err error }

func (e tokenizeError) Error() string { return "tokenize: " + e.err.Error() }
func (e tokenizeError) Unwrap() error { return e.err }

// IsTokenize reports whether err indicates a tokenization failure.
func IsTokenize(err error) bool {
	var t tokenizeError
	return errors.As(err, &t)
}

// invalidArgumentError reports a request the engine cannot act on.
type invalidArgumentError struct{ msg string }

func (e invalidArgumentError) Error() string { return "invalid argument: " + e.msg }

// IsInvalidArgument reports whether err indicates a bad request.
func IsInvalidArgument(err error) bool {
	var t invalidArgumentError
	return errors.As(err, &t)
}

// DuplicateModelInfo extracts the existing model's info from a duplicate-id
// error.
func DuplicateModelInfo(err error) (types.ModelInfo, bool) {
	var t duplicateModelError
	if errors.As(err, &t) {
		return t.info, true
	}
	return types.ModelInfo{}, false
}

// Code maps err to the stable negative result code of the C ABI surface.
// The meaning of a given code depends on the operation, exactly as the
// header documents it; within any single operation's error set the codes
// are unambiguous. Nil maps to 0.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case IsModelNotFound(err), IsSessionNotFound(err), IsDuplicateModel(err):
		return -1
	case IsCapacityReached(err), IsContextOverflow(err), IsModelLoad(err), IsTokenize(err):
		return -2
	case IsContextCreation(err), IsGrammar(err):
		return -3
	case IsDecodeFailed(err):
		return -4
	case IsSamplingInit(err):
		return -5
	case IsSampling(err):
		return -6
	case IsInvalidArgument(err):
		return -7
	case IsGrammarScript(err):
		return -8
	default:
		return -9
	}
}
