package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr              string `json:"addr" yaml:"addr" toml:"addr"`
	SessionTTLSeconds int    `json:"session_ttl_seconds" yaml:"session_ttl_seconds" toml:"session_ttl_seconds"`
	MaxSessions       int    `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	LogLevel          string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// LibDir is where the llama.cpp shared libraries live, in the layout
	// `yzma install --lib <dir>` produces.
	LibDir string `json:"lib_dir" yaml:"lib_dir" toml:"lib_dir"`
	// ModelsDir is scanned for loadable *.gguf files.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
