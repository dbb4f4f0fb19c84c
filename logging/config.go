package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// LevelTrace is more verbose than debug; the engine logs every state
// transition at this level.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// GetConfigFromEnv creates a logger configuration based on environment variables
func GetConfigFromEnv() Config {
	return ApplyEnv(DefaultConfig)
}

// ApplyEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and LOG_ADD_SOURCE on
// config. Environment-specific defaults fill only fields the variables left
// unset.
func ApplyEnv(config Config) Config {
	level := os.Getenv("LOG_LEVEL")
	format := os.Getenv("LOG_FORMAT")

	if level != "" {
		config.Level = strings.ToLower(level)
	}
	if format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	switch config.Environment {
	case EnvProduction:
		if format == "" {
			config.Format = "json"
		}
		config.AddSource = false
	case EnvTest:
		if format == "" {
			config.Format = "text"
		}
		if level == "" {
			config.Level = "debug"
		}
		config.AddSource = false
	case EnvDevelopment:
		if format == "" {
			config.Format = "text"
		}
	}

	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}
