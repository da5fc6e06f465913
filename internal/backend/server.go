// ABOUTME: Development backend serving the /api/v1/bot chat contract over HTTP
// ABOUTME: Wires routes, bearer auth, idempotent POSTs and graceful shutdown

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/replycache"
	"github.com/2389/trident/internal/store"
)

// Route prefix shared with the remote client.
const apiPrefix = "/api/v1/bot"

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Providers the backend accepts, with the models it advertises for each.
var providerModels = map[string][]string{
	"ollama": {"phi3:3.8b", "llama3:8b-instruct-q4_K_M", "llama3-128k:latest", "deepseek-r1:7b"},
	"openai": {"gpt-4o", "gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"},
}

// modelAliases maps advertised model names onto the ones actually used.
var modelAliases = map[string]string{
	"gpt-3.5-turbo": "gpt-4o",
}

// Options configures a Server.
type Options struct {
	Store    store.Store
	Verifier auth.TokenVerifier

	// Replies enables Idempotency-Key handling on POST routes when set.
	Replies *replycache.Cache

	// Answerer defaults to TemplateAnswerer.
	Answerer Answerer

	DefaultProvider string
	DefaultModel    string

	Logger *slog.Logger
}

// Server implements the chat API on top of a Store.
type Server struct {
	store           store.Store
	verifier        auth.TokenVerifier
	replies         *replycache.Cache
	answerer        Answerer
	defaultProvider string
	defaultModel    string
	logger          *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Server. Store and Verifier are required.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("backend: store is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("backend: token verifier is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	answerer := opts.Answerer
	if answerer == nil {
		answerer = TemplateAnswerer{}
	}
	provider := opts.DefaultProvider
	if provider == "" {
		provider = "ollama"
	}
	if _, ok := providerModels[provider]; !ok {
		return nil, fmt.Errorf("backend: unknown default provider %q", provider)
	}
	model := opts.DefaultModel
	if model == "" {
		model = providerModels[provider][0]
	}

	return &Server{
		store:           opts.Store,
		verifier:        opts.Verifier,
		replies:         opts.Replies,
		answerer:        answerer,
		defaultProvider: provider,
		defaultModel:    model,
		logger:          logger.With("component", "backend"),
		now:             time.Now,
		newID:           uuid.NewString,
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	authed := auth.HTTPAuthMiddleware(s.verifier)

	mux.HandleFunc("GET "+apiPrefix+"/health", s.handleHealth)
	mux.Handle("GET "+apiPrefix+"/config", authed(http.HandlerFunc(s.handleConfig)))
	mux.Handle("GET "+apiPrefix+"/conversation_stats", authed(http.HandlerFunc(s.handleConversationStats)))
	mux.Handle("GET "+apiPrefix+"/threads", authed(http.HandlerFunc(s.handleListThreads)))
	mux.Handle("GET "+apiPrefix+"/threads/{id}", authed(http.HandlerFunc(s.handleGetThread)))
	mux.Handle("POST "+apiPrefix+"/chat", authed(s.idempotent(http.HandlerFunc(s.handleChat))))
	mux.Handle("POST "+apiPrefix+"/switch_response", authed(s.idempotent(http.HandlerFunc(s.handleSwitchResponse))))

	return s.logRequests(mux)
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		if serverErr != nil {
			s.logger.Error("server error", "error", serverErr)
		}
	}

	// The caller's context is already done; shut down on a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serverErr == nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return serverErr
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
