package types

// LoadModelRequest is the payload of POST /models/load.
type LoadModelRequest struct {
	// Absolute path to the model file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Identifier the model will be addressable by.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
}

// LoadModelResponse is returned by POST /models/load. On a duplicate id the
// info of the already-loaded model is returned with status 409.
type LoadModelResponse struct {
	ID   string    `json:"id"`
	Info ModelInfo `json:"info"`
}

// HashResponse wraps a 64-bit content hash, hex-encoded.
type HashResponse struct {
	// example: 9a3f5e1c22b07d41
	Hash string `json:"hash" example:"9a3f5e1c22b07d41"`
}

// TokenLengthRequest is the payload of POST /models/{id}/token-length.
type TokenLengthRequest struct {
	// Text to tokenize (no special tokens are added).
	// example: Once upon a time
	Text string `json:"text" example:"Once upon a time"`
}

// TokenLengthResponse is returned by POST /models/{id}/token-length.
type TokenLengthResponse struct {
	// Number of tokens the text occupies.
	// example: 5
	Length int `json:"length" example:"5"`
}

// CreateSessionRequest is the payload of POST /sessions.
type CreateSessionRequest struct {
	// Identifier of a loaded model.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Context size in tokens; 0 selects the runtime default.
	// example: 4096
	ContextSize int `json:"context_size,omitempty" example:"4096"`
	// Decode batch size in tokens; 0 selects the runtime default.
	// example: 512
	BatchSize int `json:"batch_size,omitempty" example:"512"`
	// Optional prompt decoded into the fresh session.
	InitialPrompt string `json:"initial_prompt,omitempty"`
	// Optional path of a state file to load the KV cache from, or to save
	// it to after the initial decode.
	StateFile string `json:"state_file,omitempty"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	// example: 1
	SessionID uint64 `json:"session_id" example:"1"`
	// Context length after the initial prompt, in tokens.
	// example: 32
	Length int `json:"length" example:"32"`
}

// DecodeRequest is the payload of POST /sessions/{id}/decode.
type DecodeRequest struct {
	// The full target prompt. The session reuses the longest common token
	// prefix with its current prompt and decodes only the rest.
	Prompt string `json:"prompt"`
}

// InferRequest is the payload of POST /sessions/{id}/infer.
type InferRequest struct {
	// Optional prompt decoded before generation starts.
	Prompt string `json:"prompt,omitempty"`
	// Maximum number of tokens to generate.
	// example: 128
	NEval int `json:"n_eval" example:"128"`
	// Sampling and stopping knobs; omitted fields use defaults.
	Options *InferenceOptions `json:"options,omitempty"`
}

// LengthResponse reports a session's context length in tokens.
type LengthResponse struct {
	// example: 160
	Length int `json:"length" example:"160"`
}

// SessionResponse is returned by GET /sessions/{id}.
type SessionResponse struct {
	// example: 1
	SessionID uint64 `json:"session_id" example:"1"`
	// Expiration time in unix seconds; 0 when TTL is disabled.
	// example: 1700000060
	ExpiresAtUnix int64 `json:"expires_at_unix" example:"1700000060"`
}

// ModelsResponse wraps the list of loaded models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// AvailableModel is a loadable model file discovered on disk.
type AvailableModel struct {
	// Suggested id: the filename without extension.
	// example: TinyLlama.Q4_K_M
	ID string `json:"id" example:"TinyLlama.Q4_K_M"`
	// Absolute path, suitable for POST /models/load.
	Path string `json:"path"`
	// File size in bytes.
	// example: 4368439584
	Size uint64 `json:"size" example:"4368439584"`
}

// AvailableModelsResponse is returned by GET /models/available.
type AvailableModelsResponse struct {
	Models []AvailableModel `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: session not found
	Error string `json:"error" example:"session not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Stable negative result code matching the C ABI surface.
	// example: -1
	ABICode int `json:"abi_code,omitempty" example:"-1"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded models.
	Models []Model `json:"models"`
	// Number of live sessions.
	// example: 3
	Sessions int `json:"sessions" example:"3"`
	// Configured session cap; 0 means unlimited.
	// example: 16
	MaxSessions int `json:"max_sessions" example:"16"`
	// Configured session TTL in seconds; 0 disables expiration.
	// example: 600
	SessionTTLSeconds int64 `json:"session_ttl_seconds" example:"600"`
	// Total sessions created since start.
	// example: 12
	SessionsTotal uint64 `json:"sessions_total" example:"12"`
	// Total sessions evicted to make room.
	// example: 2
	EvictionsTotal uint64 `json:"evictions_total" example:"2"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
