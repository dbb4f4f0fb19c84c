// Package config loads application settings from a YAML file, a .env file and
// OPTIMISTIC_* environment variables, in that order of precedence (lowest
// first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/optimistic"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "OPTIMISTIC_"

// Config is the full application configuration.
type Config struct {
	Logging logging.Config `yaml:"logging"`
	Engine  EngineConfig   `yaml:"engine"`
	Audit   AuditConfig    `yaml:"audit"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Server  ServerConfig   `yaml:"server"`
}

// EngineConfig holds defaults applied to every mutation engine.
type EngineConfig struct {
	Defaults   EngineDefaults `yaml:"defaults"`
	MaxRetries MaxRetries     `yaml:"max_retries"`
}

type EngineDefaults struct {
	CleanupDelay   time.Duration     `yaml:"cleanup_delay" validate:"gte=0"`
	Policy         optimistic.Policy `yaml:"policy" validate:"oneof=client-wins server-wins prompt-user"`
	EnableRollback bool              `yaml:"enable_rollback"`
}

// MaxRetries is the retry budget per mutation kind.
type MaxRetries struct {
	Create int `yaml:"create" validate:"gte=0"`
	Update int `yaml:"update" validate:"gte=0"`
	Delete int `yaml:"delete" validate:"gte=0"`
}

// For returns the budget for kind.
func (m MaxRetries) For(kind optimistic.Kind) int {
	switch kind {
	case optimistic.KindCreate:
		return m.Create
	case optimistic.KindDelete:
		return m.Delete
	default:
		return m.Update
	}
}

// AuditConfig selects where conflict resolutions are journaled.
type AuditConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver memory"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path" validate:"omitempty,startswith=/"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig,
		Engine: EngineConfig{
			Defaults: EngineDefaults{
				CleanupDelay:   optimistic.DefaultCleanupDelay,
				Policy:         optimistic.PolicyClientWins,
				EnableRollback: true,
			},
			MaxRetries: MaxRetries{
				Create: optimistic.KindCreate.DefaultMaxRetries(),
				Update: optimistic.KindUpdate.DefaultMaxRetries(),
				Delete: optimistic.KindDelete.DefaultMaxRetries(),
			},
		},
		Audit:   AuditConfig{Driver: "memory"},
		Metrics: MetricsConfig{Namespace: "optimistic", Path: "/metrics"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), .env files and the process environment. With no envFiles a
// missing ./.env is ignored. The process environment wins over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, lookupWith(dotenv)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		env, err := godotenv.Read()
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
		return env, nil
	}
	env, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to read env files: %w", err)
	}
	return env, nil
}

type lookupFunc func(key string) (string, bool)

func lookupWith(dotenv map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v, ok := get("ENVIRONMENT"); ok {
		cfg.Logging.Environment = strings.ToLower(v)
	}
	if v, ok := get("CLEANUP_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sCLEANUP_DELAY: %w", EnvPrefix, err)
		}
		cfg.Engine.Defaults.CleanupDelay = d
	}
	if v, ok := get("POLICY"); ok {
		cfg.Engine.Defaults.Policy = optimistic.Policy(strings.ToLower(v))
	}

	bools := map[string]*bool{
		"LOG_ADD_SOURCE":  &cfg.Logging.AddSource,
		"ENABLE_ROLLBACK": &cfg.Engine.Defaults.EnableRollback,
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"MAX_RETRIES_CREATE": &cfg.Engine.MaxRetries.Create,
		"MAX_RETRIES_UPDATE": &cfg.Engine.MaxRetries.Update,
		"MAX_RETRIES_DELETE": &cfg.Engine.MaxRetries.Delete,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v, ok := get("AUDIT_DRIVER"); ok {
		cfg.Audit.Driver = strings.ToLower(v)
	}
	if v, ok := get("AUDIT_DSN"); ok {
		cfg.Audit.DSN = v
	}
	if v, ok := get("METRICS_NAMESPACE"); ok {
		cfg.Metrics.Namespace = v
	}
	if v, ok := get("SERVER_ADDR"); ok {
		cfg.Server.Addr = v
	}
	return nil
}

const defaultHeader = "# go-optimistic-kit configuration\n# Environment variables prefixed with " + EnvPrefix + " override these values.\n\n"

// SaveDefault writes the default configuration to path, creating parent
// directories as needed.
func SaveDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ApplyEngineDefaults fills the fields of cfg the caller left at their zero
// value. EnableRollback is only ever switched on.
func ApplyEngineDefaults[V, T any](e EngineConfig, cfg *optimistic.Config[V, T]) {
	if cfg.CleanupDelay == 0 {
		cfg.CleanupDelay = e.Defaults.CleanupDelay
	}
	if cfg.Policy == "" {
		cfg.Policy = e.Defaults.Policy
	}
	if e.Defaults.EnableRollback {
		cfg.EnableRollback = true
	}
	if cfg.MaxRetries == 0 {
		kind := cfg.Kind
		if kind == "" {
			kind = optimistic.KindUpdate
		}
		cfg.MaxRetries = e.MaxRetries.For(kind)
	}
}
