// ABOUTME: Configuration loading and parsing for chatdesk
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvConfigPath = "CHATDESK_CONFIG"
	EnvDBPath     = "CHATDESK_DB_PATH"
)

// Defaults applied when a key is absent.
const (
	DefaultHTTPAddr         = ":8080"
	DefaultTypingDebounce   = time.Second
	DefaultTypingExpiry     = 3 * time.Second
	DefaultReadReceiptDelay = time.Second
	DefaultMaxMessageBytes  = 4000
	DefaultSubscriberBuffer = 64
	DefaultDedupeSize       = 1024
	DefaultMetricsPath      = "/metrics"
)

// Config represents the complete chatdesk configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Chat          ChatConfig          `yaml:"chat" toml:"chat"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ChatConfig holds conversation timing and limits
type ChatConfig struct {
	TypingDebounce   time.Duration `yaml:"-" toml:"-"`
	TypingExpiry     time.Duration `yaml:"-" toml:"-"`
	ReadReceiptDelay time.Duration `yaml:"-" toml:"-"`

	MaxMessageBytes  int `yaml:"max_message_bytes" toml:"max_message_bytes"`
	SubscriberBuffer int `yaml:"subscriber_buffer" toml:"subscriber_buffer"`

	// Raw string values for unmarshaling
	TypingDebounceRaw   string `yaml:"typing_debounce" toml:"typing_debounce"`
	TypingExpiryRaw     string `yaml:"typing_expiry" toml:"typing_expiry"`
	ReadReceiptDelayRaw string `yaml:"read_receipt_delay" toml:"read_receipt_delay"`
}

// NotificationsConfig holds admin fan-out configuration
type NotificationsConfig struct {
	DedupeSize int `yaml:"dedupe_size" toml:"dedupe_size"`

	// DedupeTTL forgets alerted keys after this long; zero keeps them for
	// the stream's lifetime.
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath picks the config path: the explicit flag value, then
// CHATDESK_CONFIG, then config.yaml in the working directory.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return "config.yaml"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Chat.TypingDebounce == 0 {
		c.Chat.TypingDebounce = DefaultTypingDebounce
	}
	if c.Chat.TypingExpiry == 0 {
		c.Chat.TypingExpiry = DefaultTypingExpiry
	}
	if c.Chat.ReadReceiptDelay == 0 {
		c.Chat.ReadReceiptDelay = DefaultReadReceiptDelay
	}
	if c.Chat.MaxMessageBytes == 0 {
		c.Chat.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Chat.SubscriberBuffer == 0 {
		c.Chat.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Notifications.DedupeSize == 0 {
		c.Notifications.DedupeSize = DefaultDedupeSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
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
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Chat.TypingDebounce < 0 || c.Chat.TypingExpiry < 0 || c.Chat.ReadReceiptDelay < 0 {
		return fmt.Errorf("chat durations must not be negative")
	}
	if c.Chat.TypingExpiry < c.Chat.TypingDebounce {
		return fmt.Errorf("chat.typing_expiry must be at least chat.typing_debounce")
	}
	if c.Chat.MaxMessageBytes < 0 {
		return fmt.Errorf("chat.max_message_bytes must not be negative")
	}
	if c.Chat.SubscriberBuffer < 0 {
		return fmt.Errorf("chat.subscriber_buffer must not be negative")
	}
	if c.Notifications.DedupeSize < 0 {
		return fmt.Errorf("notifications.dedupe_size must not be negative")
	}
	if c.Notifications.DedupeTTL < 0 {
		return fmt.Errorf("notifications.dedupe_ttl must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"chat.typing_debounce", cfg.Chat.TypingDebounceRaw, &cfg.Chat.TypingDebounce},
		{"chat.typing_expiry", cfg.Chat.TypingExpiryRaw, &cfg.Chat.TypingExpiry},
		{"chat.read_receipt_delay", cfg.Chat.ReadReceiptDelayRaw, &cfg.Chat.ReadReceiptDelay},
		{"notifications.dedupe_ttl", cfg.Notifications.DedupeTTLRaw, &cfg.Notifications.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.key, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
