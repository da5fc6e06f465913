// ABOUTME: Interactive terminal client for multi-variant chat threads
// ABOUTME: Reads lines from stdin and drives the conversation controller

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/config"
	"github.com/2389/trident/internal/conversation"
	"github.com/2389/trident/internal/logging"
	"github.com/2389/trident/internal/remote"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	server := flag.String("server", "", "Backend URL (overrides remote.base_url)")
	threadID := flag.String("thread", "", "Thread ID to open on start")
	provider := flag.String("provider", "", "LLM provider for new messages")
	model := flag.String("model", "", "Model for new messages")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Remote.BaseURL = strings.TrimRight(*server, "/")
	}
	if *provider != "" {
		cfg.Chat.Provider = *provider
	}
	if *model != "" {
		cfg.Chat.Model = *model
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	tokens := tokenSource(cfg.Remote)

	client := remote.NewHTTPClient(cfg.Remote.BaseURL,
		remote.WithTimeout(cfg.Remote.RequestTimeout),
		remote.WithTokenSource(tokens),
		remote.WithLogger(logger),
	)
	ctrl := conversation.NewController(client, conversation.Config{
		Greeting:      cfg.Chat.Greeting,
		Provider:      cfg.Chat.Provider,
		Model:         cfg.Chat.Model,
		TitleLength:   cfg.Chat.TitleLength,
		PreviewLength: cfg.Chat.PreviewLength,
	}, logger)
	defer ctrl.Close()

	fmt.Printf("trident connected to %s\n", cfg.Remote.BaseURL)
	if tok, err := tokens.Token(); err == nil && tok != "" {
		fmt.Println("Auth: bearer token configured")
	} else {
		fmt.Println("Auth: none (run trident-server bootstrap or set TRIDENT_TOKEN)")
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sh := newShell(ctrl, os.Stdout)
	if err := sh.start(ctx, *threadID); err != nil {
		sh.printError(err)
	}
	if err := run(ctx, sh, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// tokenSource picks the bearer token: TRIDENT_TOKEN, then remote.token,
// then the token file if it exists.
func tokenSource(cfg config.RemoteConfig) *auth.TokenSource {
	if token := os.Getenv("TRIDENT_TOKEN"); token != "" {
		return auth.NewTokenSource(token, "")
	}
	if cfg.Token != "" {
		return auth.NewTokenSource(cfg.Token, "")
	}
	path := cfg.TokenFile
	if path == "" {
		path = auth.DefaultTokenFile()
	}
	if _, err := os.Stat(path); err != nil {
		return auth.NewTokenSource("", "")
	}
	return auth.NewTokenSource("", path)
}

func run(ctx context.Context, sh *shell, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		sh.prompt()

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		if quit := sh.handle(ctx, input); quit {
			return nil
		}
	}
}
