// ABOUTME: Configuration loading and parsing for trident and trident-server
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultRequestTimeout = 60 * time.Second
	DefaultHTTPAddr       = "127.0.0.1:8000"
	DefaultIdempotencyTTL = 10 * time.Minute
	DefaultIdempotencyMax = 1000
	DefaultPreviewLength  = 100
	DefaultTitleLength    = 60
	DefaultGreeting       = "Hi! Ask me anything and I'll answer from a few angles."
)

// Config represents the complete trident configuration
type Config struct {
	Remote  RemoteConfig  `yaml:"remote" toml:"remote"`
	Chat    ChatConfig    `yaml:"chat" toml:"chat"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// RemoteConfig holds the backend the client talks to
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// ChatConfig holds conversation defaults
type ChatConfig struct {
	Provider      string `yaml:"provider" toml:"provider"`
	Model         string `yaml:"model" toml:"model"`
	Greeting      string `yaml:"greeting" toml:"greeting"`
	TitleLength   int    `yaml:"title_length" toml:"title_length"`
	PreviewLength int    `yaml:"preview_length" toml:"preview_length"`
}

// ServerConfig holds the development backend settings
type ServerConfig struct {
	HTTPAddr       string `yaml:"http_addr" toml:"http_addr"`
	DatabasePath   string `yaml:"database_path" toml:"database_path"`
	JWTSecret      string `yaml:"jwt_secret" toml:"jwt_secret"`
	IdempotencyMax int    `yaml:"idempotency_max" toml:"idempotency_max"`

	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// SlogLevel maps Level onto a slog level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultPath returns the config file location.
// Priority: TRIDENT_CONFIG env var > XDG_CONFIG_HOME/trident/config.yaml > ~/.config/trident/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv("TRIDENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "trident", "config.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
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

func applyDefaults(cfg *Config) {
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = DefaultBaseURL
	}
	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Chat.PreviewLength == 0 {
		cfg.Chat.PreviewLength = DefaultPreviewLength
	}
	if cfg.Chat.Greeting == "" {
		cfg.Chat.Greeting = DefaultGreeting
	}
	if cfg.Chat.TitleLength == 0 {
		cfg.Chat.TitleLength = DefaultTitleLength
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.IdempotencyTTL == 0 {
		cfg.Server.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if cfg.Server.IdempotencyMax == 0 {
		cfg.Server.IdempotencyMax = DefaultIdempotencyMax
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks the fields shared by both binaries.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("remote.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.base_url must use http or https scheme")
	}
	if c.Remote.RequestTimeout < 0 {
		return fmt.Errorf("remote.request_timeout must not be negative")
	}
	if c.Chat.PreviewLength < 0 || c.Chat.TitleLength < 0 {
		return fmt.Errorf("chat.title_length and chat.preview_length must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ValidateServer checks the fields the development backend needs.
func (c *Config) ValidateServer() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.DatabasePath == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 bytes")
	}
	if c.Server.IdempotencyMax < 0 {
		return fmt.Errorf("server.idempotency_max must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Remote.RequestTimeoutRaw != "" {
		cfg.Remote.RequestTimeout, err = time.ParseDuration(cfg.Remote.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Remote.RequestTimeoutRaw, err)
		}
	}

	if cfg.Server.IdempotencyTTLRaw != "" {
		cfg.Server.IdempotencyTTL, err = time.ParseDuration(cfg.Server.IdempotencyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency_ttl %q: %w", cfg.Server.IdempotencyTTLRaw, err)
		}
	}

	return nil
}
