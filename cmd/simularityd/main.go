package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vladfaust/simularity/internal/config"
	"github.com/vladfaust/simularity/internal/engine"
	"github.com/vladfaust/simularity/internal/httpapi"
	"github.com/vladfaust/simularity/internal/runtime"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("SIMULARITY_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", os.Getenv("SIMULARITY_CONFIG"), "Optional config file (.toml/.yaml/.json)")
	ttlSeconds := flag.Int("session-ttl", envInt("SIMULARITY_SESSION_TTL", 0), "Session TTL in seconds (0=never expire)")
	maxSessions := flag.Int("max-sessions", envInt("SIMULARITY_MAX_SESSIONS", 0), "Maximum live sessions (0=unlimited)")
	logLevel := flag.String("log-level", os.Getenv("SIMULARITY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	libDir := flag.String("lib-dir", os.Getenv("SIMULARITY_LIB"), "Directory holding the llama.cpp shared libraries")
	modelsDir := flag.String("models-dir", os.Getenv("SIMULARITY_MODELS_DIR"), "Directory scanned for loadable *.gguf files (optional)")
	flag.Parse()

	// Config file fills whatever the flags left unset.
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
			os.Exit(1)
		}
		if *addr == defaultAddr && cfg.Addr != "" {
			*addr = cfg.Addr
		}
		if *ttlSeconds == 0 {
			*ttlSeconds = cfg.SessionTTLSeconds
		}
		if *maxSessions == 0 {
			*maxSessions = cfg.MaxSessions
		}
		if *logLevel == "" {
			*logLevel = cfg.LogLevel
		}
		if *libDir == "" {
			*libDir = cfg.LibDir
		}
		if *modelsDir == "" {
			*modelsDir = cfg.ModelsDir
		}
	}
	if *libDir != "" {
		os.Setenv("SIMULARITY_LIB", *libDir)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(parseLevel(*logLevel))

	rt, err := runtime.New()
	if err != nil {
		log.Fatal().Err(err).Msg("initialize tensor runtime")
	}

	eng := engine.New(rt, engine.Config{
		SessionTTL:  time.Duration(*ttlSeconds) * time.Second,
		MaxSessions: *maxSessions,
		Logger:      log,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	if *modelsDir != "" {
		httpapi.SetModelsDir(*modelsDir)
	}

	mux := httpapi.NewMux(eng)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Info().Str("addr", *addr).Msg("simularityd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	if err := eng.Close(); err != nil {
		log.Warn().Err(err).Msg("engine close")
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
