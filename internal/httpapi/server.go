package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vladfaust/simularity/internal/engine"
	"github.com/vladfaust/simularity/internal/registry"
	"github.com/vladfaust/simularity/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() []types.Model
	LoadModel(path, id string, progress func(float32) bool) (types.ModelInfo, error)
	UnloadModel(id string) error
	HashByID(id string) (uint64, error)
	HashByPath(path string) (uint64, error)
	TokenLength(id, text string) (int, error)
	CreateSession(p engine.CreateParams) (uint64, int, error)
	Decode(id uint64, prompt string, progress func(float32) bool) (int, error)
	Infer(id uint64, prompt string, nEval int, opts *types.InferenceOptions,
		decodeProgress func(float32) bool, onToken func(string) bool) (int, error)
	ResetSession(id uint64) (int, error)
	CommitSession(id uint64) (int, error)
	Touch(id uint64) (int64, bool)
	DestroySession(id uint64) error
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the router over the given service.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", handleListModels(svc))
		r.Get("/available", handleAvailableModels())
		r.Post("/load", handleLoadModel(svc))
		r.Get("/hash", handleHashByPath(svc))
		r.Delete("/{id}", handleUnloadModel(svc))
		r.Get("/{id}/hash", handleHashByID(svc))
		r.Post("/{id}/token-length", handleTokenLength(svc))
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", handleCreateSession(svc))
		r.Get("/{id}", handleTouchSession(svc))
		r.Delete("/{id}", handleDestroySession(svc))
		r.Post("/{id}/decode", handleDecode(svc))
		r.Post("/{id}/infer", handleInfer(svc))
		r.Post("/{id}/reset", handleResetSession(svc))
		r.Post("/{id}/commit", handleCommitSession(svc))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleListModels godoc
// @Summary List loaded models
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func handleListModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.Models()})
	}
}

// handleAvailableModels godoc
// @Summary List loadable model files in the configured models directory
// @Produce json
// @Success 200 {object} types.AvailableModelsResponse
// @Failure 404 {object} types.ErrorResponse "no models directory configured"
// @Router /models/available [get]
func handleAvailableModels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if modelsDir == "" {
			writeJSONError(w, http.StatusNotFound, "no models directory configured", 0)
			return
		}
		models, err := registry.ScanDir(modelsDir)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error(), 0)
			return
		}
		writeJSON(w, http.StatusOK, types.AvailableModelsResponse{Models: models})
	}
}

// handleLoadModel godoc
// @Summary Load a model from disk
// @Accept json
// @Produce json
// @Param request body types.LoadModelRequest true "model location and id"
// @Success 200 {object} types.LoadModelResponse
// @Failure 409 {object} types.LoadModelResponse "already loaded; existing info returned"
// @Failure 422 {object} types.ErrorResponse
// @Router /models/load [post]
func handleLoadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadModelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Path) == "" || strings.TrimSpace(req.ID) == "" {
			writeJSONError(w, http.StatusBadRequest, "path and id are required", 0)
			return
		}
		start := time.Now()
		info, err := svc.LoadModel(req.Path, req.ID, func(frac float32) bool {
			log := reqLog(r)
			log.Debug().Float32("progress", frac).Str("model", req.ID).Msg("model load progress")
			return true
		})
		if err != nil {
			if engine.IsDuplicateModel(err) {
				// Duplicate ids still resolve to the existing model's info.
				writeJSON(w, http.StatusConflict, types.LoadModelResponse{ID: req.ID, Info: info})
				return
			}
			writeEngineError(w, err)
			return
		}
		log := reqLog(r)
		log.Info().Str("model", req.ID).Dur("dur", time.Since(start)).Msg("model loaded")
		writeJSON(w, http.StatusOK, types.LoadModelResponse{ID: req.ID, Info: info})
	}
}

// handleUnloadModel godoc
// @Summary Unload a model
// @Param id path string true "model id"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /models/{id} [delete]
func handleUnloadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.UnloadModel(chi.URLParam(r, "id")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHashByID godoc
// @Summary Content hash of a loaded model (memoized)
// @Produce json
// @Param id path string true "model id"
// @Success 200 {object} types.HashResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /models/{id}/hash [get]
func handleHashByID(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := svc.HashByID(chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.HashResponse{Hash: strconv.FormatUint(h, 16)})
	}
}

// handleHashByPath godoc
// @Summary Content hash of an arbitrary model file
// @Produce json
// @Param path query string true "model file path"
// @Success 200 {object} types.HashResponse
// @Router /models/hash [get]
func handleHashByPath(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			writeJSONError(w, http.StatusBadRequest, "path query parameter is required", 0)
			return
		}
		h, err := svc.HashByPath(path)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.HashResponse{Hash: strconv.FormatUint(h, 16)})
	}
}

// handleTokenLength godoc
// @Summary Token count of a text under a model's tokenizer
// @Accept json
// @Produce json
// @Param id path string true "model id"
// @Param request body types.TokenLengthRequest true "text"
// @Success 200 {object} types.TokenLengthResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /models/{id}/token-length [post]
func handleTokenLength(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TokenLengthRequest
		if !decodeBody(w, r, &req) {
			return
		}
		n, err := svc.TokenLength(chi.URLParam(r, "id"), req.Text)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.TokenLengthResponse{Length: n})
	}
}

// handleCreateSession godoc
// @Summary Create an inference session
// @Accept json
// @Produce json
// @Param request body types.CreateSessionRequest true "session parameters"
// @Success 200 {object} types.CreateSessionResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Router /sessions [post]
func handleCreateSession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required", 0)
			return
		}
		id, n, err := svc.CreateSession(engine.CreateParams{
			Model:         req.Model,
			ContextSize:   req.ContextSize,
			BatchSize:     req.BatchSize,
			InitialPrompt: req.InitialPrompt,
			StateFile:     req.StateFile,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.CreateSessionResponse{SessionID: id, Length: n})
	}
}

// handleTouchSession godoc
// @Summary Check a session and refresh its TTL
// @Produce json
// @Param id path int true "session id"
// @Success 200 {object} types.SessionResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id} [get]
func handleTouchSession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		at, alive := svc.Touch(id)
		if !alive {
			writeJSONError(w, http.StatusNotFound, "session not found", -1)
			return
		}
		writeJSON(w, http.StatusOK, types.SessionResponse{SessionID: id, ExpiresAtUnix: at})
	}
}

// handleDestroySession godoc
// @Summary Destroy a session
// @Param id path int true "session id"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id} [delete]
func handleDestroySession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		if err := svc.DestroySession(id); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDecode godoc
// @Summary Decode a full prompt into the session, reusing the cached prefix
// @Accept json
// @Produce json
// @Param id path int true "session id"
// @Param request body types.DecodeRequest true "target prompt"
// @Success 200 {string} string "NDJSON progress lines, then {done, length}"
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id}/decode [post]
func handleDecode(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		var req types.DecodeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		st := newStream(w)
		n, err := svc.Decode(id, req.Prompt, func(frac float32) bool {
			st.writeProgress(frac)
			return true
		})
		if err != nil {
			st.fail(err)
			return
		}
		st.done(n)
	}
}

// handleInfer godoc
// @Summary Generate tokens from a session
// @Accept json
// @Produce json
// @Param id path int true "session id"
// @Param request body types.InferRequest true "prompt, budget and options"
// @Success 200 {string} string "NDJSON token lines, then {done, length}"
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id}/infer [post]
func handleInfer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		var req types.InferRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.NEval <= 0 {
			writeJSONError(w, http.StatusBadRequest, "n_eval must be positive", 0)
			return
		}

		// Client disconnect propagates through the per-token callback.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		start := time.Now()
		st := newStream(w)
		n, err := svc.Infer(id, req.Prompt, req.NEval, req.Options,
			func(frac float32) bool {
				st.writeProgress(frac)
				return true
			},
			func(piece string) bool {
				if ctx.Err() != nil {
					return false
				}
				st.writeToken(piece)
				return true
			})
		if err != nil {
			st.fail(err)
			return
		}
		st.done(n)
		log := reqLog(r)
		log.Info().Uint64("session", id).Int("length", n).Dur("dur", time.Since(start)).Msg("infer end")
	}
}

// handleResetSession godoc
// @Summary Reset a session to its initial prompt
// @Produce json
// @Param id path int true "session id"
// @Success 200 {object} types.LengthResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id}/reset [post]
func handleResetSession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		n, err := svc.ResetSession(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.LengthResponse{Length: n})
	}
}

// handleCommitSession godoc
// @Summary Commit generated tokens into the reusable prompt
// @Produce json
// @Param id path int true "session id"
// @Success 200 {object} types.LengthResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id}/commit [post]
func handleCommitSession(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		n, err := svc.CommitSession(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.LengthResponse{Length: n})
	}
}

// sessionID parses the {id} route parameter.
func sessionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id", 0)
		return 0, false
	}
	return id, true
}

// decodeBody enforces content type and the body size limit, then decodes
// JSON into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", 0)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", 0)
		return false
	}
	return true
}

// stream frames an NDJSON response. Until the first line is written the
// response can still carry a plain error status; afterwards failures are
// reported as a trailing error line.
type stream struct {
	w       http.ResponseWriter
	flush   func()
	started bool
}

func newStream(w http.ResponseWriter) *stream {
	st := &stream{w: w}
	if f, ok := w.(http.Flusher); ok {
		st.flush = f.Flush
	}
	return st
}

func (st *stream) start() {
	if !st.started {
		st.w.Header().Set("Content-Type", "application/x-ndjson")
		st.w.WriteHeader(http.StatusOK)
		st.started = true
	}
}

func (st *stream) writeLine(v any) {
	st.start()
	b, _ := json.Marshal(v)
	st.w.Write(append(b, '\n'))
	if st.flush != nil {
		st.flush()
	}
}

func (st *stream) writeProgress(frac float32) {
	st.writeLine(map[string]any{"progress": frac})
}

func (st *stream) writeToken(piece string) {
	st.writeLine(map[string]any{"token": piece})
}

func (st *stream) done(length int) {
	st.writeLine(map[string]any{"done": true, "length": length})
}

// fail reports err either as a proper error status (nothing streamed yet)
// or as a trailing NDJSON error line.
func (st *stream) fail(err error) {
	if !st.started {
		writeEngineError(st.w, err)
		return
	}
	st.writeLine(map[string]any{"error": err.Error(), "abi_code": engine.Code(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
