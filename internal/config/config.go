// ABOUTME: Configuration loading and parsing for livedesk
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete livedesk configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Files    FilesConfig    `yaml:"files"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FilesConfig holds uploaded-file storage configuration.
// BaseURL is prepended to stored file names when resolving image and
// sticker content for clients.
type FilesConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds agent authentication configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"-"`

	SessionTTLRaw string `yaml:"session_ttl"`
}

// PresenceConfig holds presence-token timing configuration
type PresenceConfig struct {
	CustomerGrace time.Duration `yaml:"-"`
	ConnectLimit  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CustomerGraceRaw string `yaml:"customer_grace"`
	ConnectLimitRaw  string `yaml:"connect_limit"`
}

// DispatchConfig holds assignment policy configuration
type DispatchConfig struct {
	Mode        string `yaml:"mode"`          // "balance" or "loop"
	MaxPerAgent int    `yaml:"max_per_agent"` // max concurrent talks per agent
}

// EventsConfig holds lifecycle event publishing configuration.
// When URL is empty, publishing is disabled and a fallback publisher is used.
type EventsConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields
func (c *Config) applyDefaults() {
	if c.Presence.CustomerGrace == 0 {
		c.Presence.CustomerGrace = 5 * time.Minute
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 12 * time.Hour
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "balance"
	}
	if c.Dispatch.MaxPerAgent == 0 {
		c.Dispatch.MaxPerAgent = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Files.Dir == "" {
		return fmt.Errorf("files.dir is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Dispatch.Mode != "balance" && c.Dispatch.Mode != "loop" {
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q", "balance", "loop", c.Dispatch.Mode)
	}

	if c.Dispatch.MaxPerAgent < 0 {
		return fmt.Errorf("dispatch.max_per_agent must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Presence.CustomerGraceRaw != "" {
		cfg.Presence.CustomerGrace, err = time.ParseDuration(cfg.Presence.CustomerGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing customer_grace %q: %w", cfg.Presence.CustomerGraceRaw, err)
		}
	}

	if cfg.Presence.ConnectLimitRaw != "" {
		cfg.Presence.ConnectLimit, err = time.ParseDuration(cfg.Presence.ConnectLimitRaw)
		if err != nil {
			return fmt.Errorf("parsing connect_limit %q: %w", cfg.Presence.ConnectLimitRaw, err)
		}
	}

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	return nil
}
