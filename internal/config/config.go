// ABOUTME: Configuration loading and parsing for the discussion relay
// ABOUTME: YAML with environment variable expansion plus env-only overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are consulted.
const (
	DefaultAddr            = ":3000"
	DefaultRateLimitWindow = 100 * time.Second
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// Config represents the complete relay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig holds the external agent and tag service configuration.
type AgentConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TagURL     string `yaml:"tag_url"`
	Secret     string `yaml:"secret"`

	RateLimitWindow time.Duration `yaml:"-"`
	HTTPTimeout     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RateLimitWindowRaw string `yaml:"rate_limit_window"`
	HTTPTimeoutRaw     string `yaml:"http_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load builds a Config from defaults, an optional YAML file, and the
// process environment, in that order of increasing precedence. An empty
// path skips the file entirely (env-only deployment). Environment variables
// in the format ${VAR_NAME} are expanded inside the file before parsing.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Addr: DefaultAddr},
		Agent: AgentConfig{
			RateLimitWindow: DefaultRateLimitWindow,
			HTTPTimeout:     DefaultHTTPTimeout,
		},
		Metrics: MetricsConfig{Path: DefaultMetricsPath},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.RateLimitWindowRaw != "" {
		cfg.Agent.RateLimitWindow, err = time.ParseDuration(cfg.Agent.RateLimitWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit_window %q: %w", cfg.Agent.RateLimitWindowRaw, err)
		}
	}

	if cfg.Agent.HTTPTimeoutRaw != "" {
		cfg.Agent.HTTPTimeout, err = time.ParseDuration(cfg.Agent.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing http_timeout %q: %w", cfg.Agent.HTTPTimeoutRaw, err)
		}
	}

	return nil
}

// applyEnvOverrides applies the well-known deployment variables on top of
// whatever the file configured.
func applyEnvOverrides(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if v := os.Getenv("AGENT_WEBHOOK_URL"); v != "" {
		cfg.Agent.WebhookURL = v
	}
	if v := os.Getenv("AGENT_TAG_URL"); v != "" {
		cfg.Agent.TagURL = v
	}
	if v := os.Getenv("AGENT_SERVICE_SECRET"); v != "" {
		cfg.Agent.Secret = v
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW_MS must be a positive integer, got %q", v)
		}
		cfg.Agent.RateLimitWindow = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// Validate checks that all required configuration fields are present and
// consistent. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// The shared secret protects both the outbound webhook and the inbound
	// callback; agent features cannot run without it.
	if (c.Agent.WebhookURL != "" || c.Agent.TagURL != "") && c.Agent.Secret == "" {
		return fmt.Errorf("agent.secret is required when agent URLs are configured")
	}

	if c.Agent.RateLimitWindow <= 0 {
		return fmt.Errorf("agent.rate_limit_window must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}

	return nil
}
