// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
remote:
  base_url: "https://chat.example.com"
  request_timeout: "15s"
  token_file: "/tmp/token"

chat:
  provider: "openai"
  model: "gpt-4o-mini"
  greeting: "Hello!"
  preview_length: 80

server:
  http_addr: "0.0.0.0:9000"
  database_path: "./dev.db"
  idempotency_ttl: "2m"
  idempotency_max: 50

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.BaseURL != "https://chat.example.com" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.RequestTimeout != 15*time.Second {
		t.Errorf("Remote.RequestTimeout = %v, want 15s", cfg.Remote.RequestTimeout)
	}
	if cfg.Remote.TokenFile != "/tmp/token" {
		t.Errorf("Remote.TokenFile = %q", cfg.Remote.TokenFile)
	}
	if cfg.Chat.Provider != "openai" || cfg.Chat.Model != "gpt-4o-mini" {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Chat.PreviewLength != 80 {
		t.Errorf("Chat.PreviewLength = %d, want 80", cfg.Chat.PreviewLength)
	}
	if cfg.Chat.TitleLength != DefaultTitleLength {
		t.Errorf("Chat.TitleLength = %d, want default %d", cfg.Chat.TitleLength, DefaultTitleLength)
	}
	if cfg.Server.IdempotencyTTL != 2*time.Minute {
		t.Errorf("Server.IdempotencyTTL = %v, want 2m", cfg.Server.IdempotencyTTL)
	}
	if cfg.Server.IdempotencyMax != 50 {
		t.Errorf("Server.IdempotencyMax = %d, want 50", cfg.Server.IdempotencyMax)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("Logging.SlogLevel() = %v, want debug", cfg.Logging.SlogLevel())
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[remote]
base_url = "http://127.0.0.1:8000"
request_timeout = "5s"

[chat]
model = "llama3"

[logging]
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.RequestTimeout != 5*time.Second {
		t.Errorf("Remote.RequestTimeout = %v, want 5s", cfg.Remote.RequestTimeout)
	}
	if cfg.Chat.Model != "llama3" {
		t.Errorf("Chat.Model = %q, want llama3", cfg.Chat.Model)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default info", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "chat:\n  greeting: hi\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.BaseURL != DefaultBaseURL {
		t.Errorf("Remote.BaseURL = %q, want %q", cfg.Remote.BaseURL, DefaultBaseURL)
	}
	if cfg.Remote.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Remote.RequestTimeout = %v", cfg.Remote.RequestTimeout)
	}
	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.IdempotencyTTL != DefaultIdempotencyTTL || cfg.Server.IdempotencyMax != DefaultIdempotencyMax {
		t.Errorf("Server idempotency defaults = %v/%d", cfg.Server.IdempotencyTTL, cfg.Server.IdempotencyMax)
	}
	if cfg.Chat.Greeting != "hi" {
		t.Errorf("Chat.Greeting = %q, want the configured hi", cfg.Chat.Greeting)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TRIDENT_TOKEN", "secret-token")
	t.Setenv("TEST_TRIDENT_URL", "https://env.example.com")

	cfg, err := Load(writeConfig(t, "config.yaml", `
remote:
  base_url: "${TEST_TRIDENT_URL}"
  token: "${TEST_TRIDENT_TOKEN}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.Token != "secret-token" {
		t.Errorf("Remote.Token = %q, want secret-token", cfg.Remote.Token)
	}
	if cfg.Remote.BaseURL != "https://env.example.com" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Remote.BaseURL != DefaultBaseURL {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Chat.Greeting != DefaultGreeting {
		t.Errorf("Chat.Greeting = %q, want %q", cfg.Chat.Greeting, DefaultGreeting)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "remote: [unclosed"))
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "[remote\nbase_url ="))
	if err == nil {
		t.Fatal("Load() expected error for invalid TOML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "remote:\n  request_timeout: \"soon\"\n"))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Remote.BaseURL = "ftp://x" }, "http or https"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative preview", func(c *Config) { c.Chat.PreviewLength = -1 }, "preview_length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("ValidateServer() expected error without database path")
	}

	cfg.Server.DatabasePath = "dev.db"
	cfg.Server.JWTSecret = "short"
	if err := cfg.ValidateServer(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("ValidateServer() error = %v, want jwt_secret error", err)
	}

	cfg.Server.JWTSecret = strings.Repeat("x", 32)
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("ValidateServer() error = %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("TRIDENT_CONFIG", "/etc/trident.yaml")
	if got := DefaultPath(); got != "/etc/trident.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("TRIDENT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "trident", "config.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")
	got := expandEnvVars("x=${TEST_EXPAND_A} y=${TEST_EXPAND_UNSET_VAR}")
	if got != "x=alpha y=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}
