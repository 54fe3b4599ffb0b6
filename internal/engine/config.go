package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	// defaultBatchSize is used when a session is created with batch size 0
	// and the runtime reports none of its own.
	defaultBatchSize = 512
	// defaultContextSize mirrors defaultBatchSize for the context.
	defaultContextSize = 4096
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	// SessionTTL is the idle lifetime of a session. Zero disables
	// expiration entirely.
	SessionTTL time.Duration
	// MaxSessions caps live sessions. Zero means unlimited. When the cap is
	// reached and SessionTTL is non-zero, creating a session evicts the
	// first expired one.
	MaxSessions int
	// TrimStopSequences removes a matched stop sequence from the session
	// prompt and KV cache before returning from Infer. The default (false)
	// keeps the documented leave-in-cache contract.
	TrimStopSequences bool
	// Logger receives structured engine logs. The zero value is a disabled
	// logger.
	Logger zerolog.Logger
	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}
