// Package config loads engine configuration.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("questflow.yaml").
//	    WithEnvPrefix("QUESTFLOW").
//	    Load()
//
// Precedence: defaults, then the YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ====== Configuration structure ======

// Config is the complete engine configuration.
type Config struct {
	// Server holds the HTTP and metrics listener settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Game holds the defaults applied to newly created sessions.
	Game GameConfig `yaml:"game" env:"GAME"`

	// LLM routes agent turns to a chat-completion provider.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Persistence selects and tunes the checkpoint store.
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Autopilot tunes the autonomous round driver.
	Autopilot AutopilotConfig `yaml:"autopilot" env:"AUTOPILOT"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GameConfig holds per-session gameplay defaults.
type GameConfig struct {
	// TokenLimit is each agent's context budget in tokens.
	TokenLimit int `yaml:"token_limit" env:"TOKEN_LIMIT"`
	// CombatEnabled allows the DM to start combat encounters.
	CombatEnabled bool `yaml:"combat_enabled" env:"COMBAT_ENABLED"`
	// MaxCombatRounds force-ends combat past this round count; zero
	// disables the valve.
	MaxCombatRounds int `yaml:"max_combat_rounds" env:"MAX_COMBAT_ROUNDS"`
	// InitiativeSeed fixes the combat dice for reproducible sessions;
	// zero seeds from the clock.
	InitiativeSeed int64 `yaml:"initiative_seed" env:"INITIATIVE_SEED"`
}

// LLMConfig holds provider routing.
type LLMConfig struct {
	// Provider selects the chat backend: openai or anthropic.
	Provider string `yaml:"provider" env:"PROVIDER"`
	// APIKey authenticates against the provider. Prefer the environment
	// variable over the YAML file for this one.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// BaseURL overrides the provider endpoint, for proxies and
	// compatible gateways.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// DMModel is the model narrating DM turns.
	DMModel string `yaml:"dm_model" env:"DM_MODEL"`
	// PCModel is the model playing character turns.
	PCModel string `yaml:"pc_model" env:"PC_MODEL"`
	// Timeout bounds one completion request.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// MaxRetries bounds provider-level retries inside the client.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// PersistenceConfig selects the checkpoint backend.
type PersistenceConfig struct {
	// Backend is file or redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Root is the campaign directory for the file backend.
	Root string `yaml:"root" env:"ROOT"`
	// Redis tunes the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL          time.Duration `yaml:"ttl" env:"TTL"`
}

// AutopilotConfig tunes the autonomous round driver.
type AutopilotConfig struct {
	// MaxRounds caps one run; zero means unlimited.
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`
	// MaxRetries bounds consecutive retries of one failed round.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// RoundsPerSecond throttles round starts; zero means no throttle.
	RoundsPerSecond float64 `yaml:"rounds_per_second" env:"ROUNDS_PER_SECOND"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// ====== Loader ======

// Loader builds a Config from defaults, a YAML file, and environment
// variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the QUESTFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "QUESTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a custom validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, YAML file,
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file falls back to defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively, overriding each tagged
// field from <PREFIX>_<TAG> when set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string, not an integer.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// ====== Helpers ======

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads the configuration from defaults and environment
// variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for values no component could run
// with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Game.TokenLimit <= 0 {
		errs = append(errs, "game token_limit must be positive")
	}
	if c.Game.MaxCombatRounds < 0 {
		errs = append(errs, "game max_combat_rounds must not be negative")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "scripted":
	default:
		errs = append(errs, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Persistence.Backend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence backend %q", c.Persistence.Backend))
	}
	if c.Autopilot.MaxRetries < 0 {
		errs = append(errs, "autopilot max_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
