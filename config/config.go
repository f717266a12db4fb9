// Package config provides the daemon and CLI configuration: a typed
// Config loaded from a YAML file with APPLYFORGE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/applyforge/model"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Generate GenerateConfig `yaml:"generate"`
	Retry    RetryConfig    `yaml:"retry"`
	Store    StoreConfig    `yaml:"store"`
	Content  ContentConfig  `yaml:"content"`
	Compiler CompilerConfig `yaml:"compiler"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP daemon.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// ModelConfig selects the generation backend.
type ModelConfig struct {
	Provider string `yaml:"provider"` // "anthropic", "openai" or "mock"
	Name     string `yaml:"name,omitempty"`
	// APIKey may reference the environment, e.g. ${ANTHROPIC_API_KEY};
	// the loader expands it. Empty falls back to the provider's own
	// environment lookup.
	APIKey string `yaml:"api_key,omitempty"`
}

// GenerateConfig carries the orchestration knobs.
type GenerateConfig struct {
	MaxAttempts   int    `yaml:"max_attempts,omitempty"`
	TargetPages   int    `yaml:"target_pages,omitempty"`
	MaxModelCalls int    `yaml:"max_model_calls,omitempty"`
	Hints         string `yaml:"hints,omitempty"`
	ScratchRoot   string `yaml:"scratch_root,omitempty"`
}

// RetryConfig controls transient-failure retries against the backend.
type RetryConfig struct {
	Backoff      string `yaml:"backoff,omitempty"` // "fixed", "linear" or "exponential"
	InitialDelay string `yaml:"initial_delay,omitempty"`
	MaxDelay     string `yaml:"max_delay,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	Path    string `yaml:"path,omitempty"`
}

// ContentConfig selects the document content store backend.
type ContentConfig struct {
	Backend string `yaml:"backend"` // "memory" or "fs"
	Root    string `yaml:"root,omitempty"`
}

// CompilerConfig configures the markup compiler binary.
type CompilerConfig struct {
	Bin     string `yaml:"bin,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// FetchConfig configures the job-posting link resolver.
type FetchConfig struct {
	Timeout      string `yaml:"timeout,omitempty"`
	MaxBytes     int64  `yaml:"max_bytes,omitempty"`
	MaxRedirects int    `yaml:"max_redirects,omitempty"`
	// AllowPrivate disables the private-address guard; only enable it
	// for trusted internal deployments.
	AllowPrivate bool `yaml:"allow_private,omitempty"`
}

// JanitorConfig configures the periodic maintenance sweeps.
type JanitorConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Interval     string `yaml:"interval,omitempty"`
	StaleAfter   string `yaml:"stale_after,omitempty"`
	RunRetention string `yaml:"run_retention,omitempty"`
}

// MetricsConfig toggles the Prometheus registry and /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // "debug", "info", "warn" or "error"
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// Default returns the configuration used when no file overrides it: an
// in-memory engine on :8080 with the mock backend, safe to boot without
// credentials.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Model: ModelConfig{
			Provider: "mock",
		},
		Generate: GenerateConfig{
			MaxAttempts:   3,
			TargetPages:   1,
			MaxModelCalls: 10,
		},
		Retry: RetryConfig{
			Backoff:      "exponential",
			InitialDelay: "1s",
			MaxDelay:     "30s",
			MaxRetries:   3,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Content: ContentConfig{
			Backend: "memory",
		},
		Compiler: CompilerConfig{
			Bin:     "typst",
			Timeout: "30s",
		},
		Fetch: FetchConfig{
			Timeout:      "15s",
			MaxBytes:     2 << 20,
			MaxRedirects: 5,
		},
		Janitor: JanitorConfig{
			Enabled:      true,
			Interval:     "5m",
			StaleAfter:   "30m",
			RunRetention: "1h",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file, expands ${VAR} references, applies
// APPLYFORGE_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content so secrets can
	// stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Init writes a starter configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Model = ModelConfig{
		Provider: "anthropic",
		Name:     "claude-3-5-sonnet-20241022",
		APIKey:   "${ANTHROPIC_API_KEY}",
	}
	example.Store = StoreConfig{
		Backend: "sqlite",
		Path:    "./data/applyforge.db",
	}
	example.Content = ContentConfig{
		Backend: "fs",
		Root:    "./data/content",
	}
	example.Generate.Hints = "Concise, quantified bullet points. No buzzwords."

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks enum fields, duration formats and cross-field
// relationships.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if err := checkDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
		return err
	}

	switch c.Model.Provider {
	case "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("model.provider must be one of anthropic, openai, mock: %q", c.Model.Provider)
	}

	if c.Generate.MaxAttempts < 1 {
		return fmt.Errorf("generate.max_attempts must be >= 1: %d", c.Generate.MaxAttempts)
	}
	if c.Generate.TargetPages < 1 {
		return fmt.Errorf("generate.target_pages must be >= 1: %d", c.Generate.TargetPages)
	}
	if c.Generate.MaxModelCalls < 0 {
		return fmt.Errorf("generate.max_model_calls cannot be negative: %d", c.Generate.MaxModelCalls)
	}

	if c.Retry.Backoff != "" {
		switch model.BackoffMode(c.Retry.Backoff) {
		case model.BackoffFixed, model.BackoffLinear, model.BackoffExponential:
		default:
			return fmt.Errorf("retry.backoff must be one of fixed, linear, exponential: %q", c.Retry.Backoff)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative: %d", c.Retry.MaxRetries)
	}
	initial, err := parseOptionalDuration("retry.initial_delay", c.Retry.InitialDelay)
	if err != nil {
		return err
	}
	maxDelay, err := parseOptionalDuration("retry.max_delay", c.Retry.MaxDelay)
	if err != nil {
		return err
	}
	if initial > 0 && maxDelay > 0 && maxDelay < initial {
		return fmt.Errorf("retry.max_delay (%s) must be >= retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite: %q", c.Store.Backend)
	}

	switch c.Content.Backend {
	case "memory":
	case "fs":
		if c.Content.Root == "" {
			return fmt.Errorf("content.root is required for the fs backend")
		}
	default:
		return fmt.Errorf("content.backend must be one of memory, fs: %q", c.Content.Backend)
	}

	if c.Compiler.Bin == "" {
		return fmt.Errorf("compiler.bin cannot be empty")
	}
	if err := checkDuration("compiler.timeout", c.Compiler.Timeout); err != nil {
		return err
	}

	if err := checkDuration("fetch.timeout", c.Fetch.Timeout); err != nil {
		return err
	}
	if c.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch.max_bytes cannot be negative: %d", c.Fetch.MaxBytes)
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects cannot be negative: %d", c.Fetch.MaxRedirects)
	}

	if c.Janitor.Enabled {
		for field, raw := range map[string]string{
			"janitor.interval":      c.Janitor.Interval,
			"janitor.stale_after":   c.Janitor.StaleAfter,
			"janitor.run_retention": c.Janitor.RunRetention,
		} {
			if err := checkDuration(field, raw); err != nil {
				return err
			}
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be one of text, json: %q", c.Log.Format)
	}

	return nil
}

// Policy converts the retry section into the model-layer policy. Unset
// fields keep the policy defaults.
func (r RetryConfig) Policy() model.Policy {
	return model.NewPolicy(
		model.BackoffMode(r.Backoff),
		parseDuration(r.InitialDelay, 0),
		parseDuration(r.MaxDelay, 0),
		r.MaxRetries,
	)
}

// ShutdownGrace returns the parsed graceful-shutdown window.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return parseDuration(s.ShutdownTimeout, 10*time.Second)
}

// TimeoutDuration returns the parsed compile timeout.
func (c CompilerConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// TimeoutDuration returns the parsed fetch timeout.
func (f FetchConfig) TimeoutDuration() time.Duration {
	return parseDuration(f.Timeout, 15*time.Second)
}

// IntervalDuration returns the parsed sweep interval.
func (j JanitorConfig) IntervalDuration() time.Duration {
	return parseDuration(j.Interval, 5*time.Minute)
}

// StaleAfterDuration returns the parsed processing-session TTL.
func (j JanitorConfig) StaleAfterDuration() time.Duration {
	return parseDuration(j.StaleAfter, 30*time.Minute)
}

// RunRetentionDuration returns how long finished run streams stay
// replayable.
func (j JanitorConfig) RunRetentionDuration() time.Duration {
	return parseDuration(j.RunRetention, time.Hour)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func checkDuration(field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := time.ParseDuration(raw); err != nil {
		return fmt.Errorf("invalid %s: %s: %w", field, raw, err)
	}
	return nil
}

func parseOptionalDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s: %w", field, raw, err)
	}
	return d, nil
}
