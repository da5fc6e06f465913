// ABOUTME: Entry point for trident-server, the development chat backend
// ABOUTME: Serves the /api/v1/bot contract from SQLite and mints bearer tokens

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/backend"
	"github.com/2389/trident/internal/config"
	"github.com/2389/trident/internal/logging"
	"github.com/2389/trident/internal/replycache"
	"github.com/2389/trident/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _        _     _            _
 | |_ _ __(_) __| | ___ _ __ | |_
 | __| '__| |/ _' |/ _ \ '_ \| __|
 | |_| |  | | (_| |  __/ | | | |_
  \__|_|  |_|\__,_|\___|_| |_|\__|
`

// defaultTokenTTL is how long tokens minted by bootstrap stay valid.
const defaultTokenTTL = 30 * 24 * time.Hour

// getDataPath returns the path to the trident data directory.
// Priority: XDG_DATA_HOME/trident > ~/.local/share/trident
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "trident")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: trident-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the backend")
		fmt.Println("  bootstrap --user NAME [--ttl]  Write a config if missing and mint a token")
		fmt.Println("  health                         Check backend health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadServerConfig loads the config file and fills in the database path.
func loadServerConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(getDataPath(), "trident.db")
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Server.DatabasePath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	s, err := store.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	replies := replycache.New(cfg.Server.IdempotencyTTL, cfg.Server.IdempotencyMax)
	defer replies.Close()

	srv, err := backend.New(backend.Options{
		Store:           s,
		Verifier:        auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret)),
		Replies:         replies,
		DefaultProvider: cfg.Chat.Provider,
		DefaultModel:    cfg.Chat.Model,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}

	logger.Info("starting trident-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	return srv.Run(ctx, cfg.Server.HTTPAddr)
}

func runHealth(ctx context.Context) error {
	cfg, err := loadServerConfig(config.DefaultPath())
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/v1/bot/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runBootstrap performs first-time setup:
// 1. Creates the config file with a random JWT secret (if not exists)
// 2. Generates a JWT token for the given user
// 3. Saves it where the trident client looks for it
func runBootstrap(args []string) error {
	user, ttl, err := parseBootstrapArgs(args)
	if err != nil {
		return err
	}

	configPath := config.DefaultPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath, filepath.Join(getDataPath(), "trident.db")); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret)).Generate(user, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := cfg.Remote.TokenFile
	if tokenPath == "" {
		tokenPath = auth.DefaultTokenFile()
	}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	fmt.Printf("  User:    %s\n", user)
	fmt.Printf("  Expires: %s\n", time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    trident-server serve   # start the backend")
	fmt.Println("    trident                # start chatting")
	fmt.Println()

	return nil
}

// parseBootstrapArgs supports both "--flag value" and "--flag=value".
func parseBootstrapArgs(args []string) (string, time.Duration, error) {
	var user string
	ttl := defaultTokenTTL

	value := func(i int, name string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var rawTTL string
		switch {
		case arg == "--user" || arg == "-u":
			v, err := value(i, "--user")
			if err != nil {
				return "", 0, err
			}
			user = v
			i++
		case strings.HasPrefix(arg, "--user="):
			user = strings.TrimPrefix(arg, "--user=")
		case arg == "--ttl":
			v, err := value(i, "--ttl")
			if err != nil {
				return "", 0, err
			}
			rawTTL = v
			i++
		case strings.HasPrefix(arg, "--ttl="):
			rawTTL = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return "", 0, fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", 0, fmt.Errorf("unexpected argument: %s", arg)
		}
		if rawTTL != "" {
			d, err := time.ParseDuration(rawTTL)
			if err != nil {
				return "", 0, fmt.Errorf("parsing --ttl: %w", err)
			}
			if d <= 0 {
				return "", 0, fmt.Errorf("--ttl must be positive")
			}
			ttl = d
		}
	}

	user = strings.TrimSpace(user)
	if user == "" {
		return "", 0, fmt.Errorf("--user flag is required")
	}
	if len(user) > 100 {
		return "", 0, fmt.Errorf("user exceeds maximum length of 100 characters")
	}
	return user, ttl, nil
}

// writeDefaultConfig writes a config with a fresh random JWT secret.
func writeDefaultConfig(configPath, dbPath string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# trident configuration
# Generated by trident-server bootstrap

remote:
  base_url: "http://%s"

server:
  http_addr: "%s"
  database_path: "%s"
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, config.DefaultHTTPAddr, config.DefaultHTTPAddr, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
