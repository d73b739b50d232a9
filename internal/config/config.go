// Package config loads the tickd daemon configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, a YAML file, then TICKD_ environment variables.
// Nested keys are separated by a double underscore in the environment,
// e.g. TICKD_HTTP__ADDRESS sets http.address.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "TICKD_"

// Runner kinds.
const (
	KindLoop  = "loop"
	KindDelay = "delay"
)

// Config is the daemon configuration.
type Config struct {
	LogVerbosity int            `koanf:"log_verbosity"`
	Prompt       bool           `koanf:"prompt"`
	HTTP         HTTPConfig     `koanf:"http"`
	Runners      []RunnerConfig `koanf:"runners"`
}

// HTTPConfig configures the optional control and metrics endpoint.
// An empty Address disables it.
type HTTPConfig struct {
	Address         string        `koanf:"address"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RunnerConfig describes one runner.
type RunnerConfig struct {
	Name     string        `koanf:"name"`
	Kind     string        `koanf:"kind"`
	Message  string        `koanf:"message"`
	Interval time.Duration `koanf:"interval"`
	// Backoff and Queue only apply to delay runners.
	Backoff time.Duration `koanf:"backoff"`
	Queue   int           `koanf:"queue"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyRunnerDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyRunnerDefaults() {
	for i := range c.Runners {
		r := &c.Runners[i]
		if r.Kind == "" {
			r.Kind = KindLoop
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s-%d", r.Kind, i)
		}
		if r.Kind == KindDelay {
			if r.Backoff <= 0 {
				r.Backoff = 10 * time.Second
			}
			if r.Queue <= 0 {
				r.Queue = 1
			}
		}
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.LogVerbosity < 0 {
		return fmt.Errorf("%w: log_verbosity must not be negative", ErrInvalidConfig)
	}
	if c.HTTP.Address != "" && c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: http.shutdown_timeout must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Runners))
	for i, r := range c.Runners {
		switch r.Kind {
		case KindLoop, KindDelay:
		default:
			return fmt.Errorf("%w: runner %d: unknown kind %q", ErrInvalidConfig, i, r.Kind)
		}
		if r.Interval < 0 {
			return fmt.Errorf("%w: runner %q: interval must not be negative", ErrInvalidConfig, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate runner name %q", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
