// Package config loads and validates the Regent daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "2s" or "10m" parse.
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

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the full daemon configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Oracle       OracleConfig       `yaml:"oracle"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Search       SearchConfig       `yaml:"search"`
}

// ServerConfig holds HTTP API and storage settings.
type ServerConfig struct {
	// Listen is the host:port the API server binds to.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database location. A leading ~ expands to the home directory.
	DBPath string `yaml:"db_path"`
}

// OracleConfig holds model backend settings for planning and reflection.
type OracleConfig struct {
	// Provider selects the backend: groq, openai, or anthropic.
	Provider string `yaml:"provider"`
	// Model names the model to use. Empty picks the provider default.
	Model string `yaml:"model"`
	// BaseURL overrides the provider endpoint, for proxies and compatible APIs.
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// Temperature controls sampling for planning and reflection calls.
	Temperature float64 `yaml:"temperature"`
}

// ExecutorConfig holds per-subtask retry settings.
type ExecutorConfig struct {
	// MaxAttempts bounds tries per subtask, the first attempt included.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseBackoff seeds the exponential retry delay.
	BaseBackoff Duration `yaml:"base_backoff"`
	// MaxBackoff caps the retry delay.
	MaxBackoff Duration `yaml:"max_backoff"`
	// AttemptTimeout bounds a single tool invocation.
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// OrchestratorConfig holds job control loop settings.
type OrchestratorConfig struct {
	// MaxWorkers bounds concurrent subtask execution per job.
	MaxWorkers int `yaml:"max_workers"`
	// DefaultMaxIterations applies when a query does not set max_iterations.
	DefaultMaxIterations int `yaml:"default_max_iterations"`
	// MaxIterationsCap is the ceiling on requested iterations.
	MaxIterationsCap int `yaml:"max_iterations_cap"`
	// JobTimeout is the wall-clock ceiling for one job run.
	JobTimeout Duration `yaml:"job_timeout"`
}

// SearchConfig holds web search tool settings.
type SearchConfig struct {
	// MaxResults bounds search results per query.
	MaxResults int `yaml:"max_results"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8321",
			DBPath: "~/.regent/regent.db",
		},
		Oracle: OracleConfig{
			Provider:    "groq",
			Model:       "llama-3.3-70b-versatile",
			APIKeyEnv:   "REGENT_API_KEY",
			Temperature: 0.2,
		},
		Executor: ExecutorConfig{
			MaxAttempts:    3,
			BaseBackoff:    Duration(2 * time.Second),
			MaxBackoff:     Duration(10 * time.Second),
			AttemptTimeout: Duration(30 * time.Second),
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:           4,
			DefaultMaxIterations: 3,
			MaxIterationsCap:     10,
			JobTimeout:           Duration(10 * time.Minute),
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults; a present file overlays them.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultPath returns the default config file location, ~/.regent/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".regent", "config.yaml")
	}
	return filepath.Join(home, ".regent", "config.yaml")
}

// LoadConfigFromHome loads configuration from ~/.regent/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(DefaultPath())
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Server.DBPath == "" {
		return fmt.Errorf("server.db_path must not be empty")
	}

	validProviders := map[string]bool{
		"groq":      true,
		"openai":    true,
		"anthropic": true,
	}
	if !validProviders[c.Oracle.Provider] {
		return fmt.Errorf("invalid provider %q, must be: groq, openai, or anthropic", c.Oracle.Provider)
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature must be between 0 and 2")
	}

	if c.Executor.MaxAttempts < 1 {
		return fmt.Errorf("executor.max_attempts must be at least 1")
	}
	if c.Executor.BaseBackoff <= 0 {
		return fmt.Errorf("executor.base_backoff must be positive")
	}
	if c.Executor.MaxBackoff < c.Executor.BaseBackoff {
		return fmt.Errorf("executor.max_backoff must be at least base_backoff")
	}
	if c.Executor.AttemptTimeout <= 0 {
		return fmt.Errorf("executor.attempt_timeout must be positive")
	}

	if c.Orchestrator.MaxWorkers < 1 {
		return fmt.Errorf("orchestrator.max_workers must be at least 1")
	}
	if c.Orchestrator.DefaultMaxIterations < 1 {
		return fmt.Errorf("orchestrator.default_max_iterations must be at least 1")
	}
	if c.Orchestrator.MaxIterationsCap < c.Orchestrator.DefaultMaxIterations {
		return fmt.Errorf("orchestrator.max_iterations_cap must be at least default_max_iterations")
	}
	if c.Orchestrator.JobTimeout <= 0 {
		return fmt.Errorf("orchestrator.job_timeout must be positive")
	}

	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be at least 1")
	}

	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
