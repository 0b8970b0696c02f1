// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the listen port used when the config file does not set one.
const DefaultPort = "8088"

// Duration wraps time.Duration with YAML support for values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendConfig describes one configured model backend. Immutable once
// loaded.
type BackendConfig struct {
	// ID is the stable model identifier exposed to clients.
	ID string `yaml:"id"`
	// Type selects the adapter implementation (e.g. "openaicompat", "anthropic").
	Type string `yaml:"type"`
	// BaseURL is the vendor endpoint; adapters supply their default when empty.
	BaseURL string `yaml:"base_url"`
	// APIKey is the credential; ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`
	// Model is the vendor-specific model name sent on the wire.
	Model string `yaml:"model"`
	// Timeout optionally overrides the dispatcher's default per-call deadline.
	Timeout Duration `yaml:"timeout"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string `yaml:"port"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Backends []BackendConfig `yaml:"backends"`
}

// Load reads the YAML config at path, expanding ${VAR} environment
// references. A .env file in the working directory is loaded first if
// present. The backend list order is preserved; it defines registry order.
func Load(path string) (*Config, error) {
	// Optional .env overlay; missing file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate fails fast on malformed backend entries so the process refuses
// to start instead of failing at request time.
func (c *Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend #%d: id is required", i)
		}
		if b.Type == "" {
			return fmt.Errorf("backend %q: type is required", b.ID)
		}
		if b.Model == "" {
			return fmt.Errorf("backend %q: model is required", b.ID)
		}
		if b.Timeout < 0 {
			return fmt.Errorf("backend %q: timeout must not be negative", b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
	}

	return nil
}
