package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vladfaust/simularity/internal/engine"
	"github.com/vladfaust/simularity/pkg/types"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case engine.IsModelNotFound(err), engine.IsSessionNotFound(err):
		return http.StatusNotFound
	case engine.IsDuplicateModel(err):
		return http.StatusConflict
	case engine.IsCapacityReached(err):
		return http.StatusTooManyRequests
	case engine.IsContextOverflow(err):
		return http.StatusBadRequest
	case engine.IsModelLoad(err), engine.IsContextCreation(err),
		engine.IsGrammar(err), engine.IsGrammarScript(err),
		engine.IsTokenize(err), engine.IsSamplingInit(err),
		engine.IsInvalidArgument(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports an engine error with both the HTTP status and
// the stable negative code of the C ABI surface.
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("sessions")
	}
	writeJSONError(w, status, err.Error(), engine.Code(err))
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string, abiCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, ABICode: abiCode})
}
