package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentweave/telemetry"
)

// Duration parses YAML scalars like "30s" or "2m" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// ModelsConfig selects the provider and the model behind each profile.
// Empty model names keep the provider's defaults.
type ModelsConfig struct {
	Provider string `yaml:"provider"` // "anthropic" or "openai"
	Fast     string `yaml:"fast"`
	Balanced string `yaml:"balanced"`
	Deep     string `yaml:"deep"`
}

// Config holds the server binary's configuration.
type Config struct {
	Addr            string           `yaml:"addr"`
	ReadTimeout     Duration         `yaml:"read_timeout"`
	IdleTimeout     Duration         `yaml:"idle_timeout"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"`
	MaxModelCalls   int              `yaml:"max_model_calls"`
	RateLimit       RateLimitConfig  `yaml:"rate_limit"`
	Models          ModelsConfig     `yaml:"models"`
	Telemetry       telemetry.Config `yaml:"telemetry"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     Duration(15 * time.Second),
		IdleTimeout:     Duration(60 * time.Second),
		ShutdownTimeout: Duration(30 * time.Second),
		MaxModelCalls:   50,
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     5,
			Burst:   10,
		},
		Models: ModelsConfig{
			Provider: "anthropic",
		},
	}
}

// LoadConfig reads the YAML file at path, layers it over the defaults and
// applies environment overrides. A missing file is not an error; an empty
// path skips the file entirely.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// applyEnv layers AGENTWEAVE_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("AGENTWEAVE_ADDR"); ok {
		c.Addr = v
	}

	if v, ok := os.LookupEnv("AGENTWEAVE_MAX_MODEL_CALLS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxModelCalls = n
		}
	}

	if v, ok := os.LookupEnv("AGENTWEAVE_RATE_LIMIT_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RateLimit.Enabled = b
		}
	}

	if v, ok := os.LookupEnv("AGENTWEAVE_RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RPS = f
		}
	}

	if v, ok := os.LookupEnv("AGENTWEAVE_MODEL_PROVIDER"); ok {
		c.Models.Provider = v
	}

	if v, ok := os.LookupEnv("AGENTWEAVE_TELEMETRY_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}

	if c.MaxModelCalls < 0 {
		return errors.New("max_model_calls must not be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return errors.New("rate_limit.rps must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return errors.New("rate_limit.burst must be at least 1")
		}
	}

	switch c.Models.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Models.Provider)
	}

	return nil
}
