// ABOUTME: HTTP implementation of Service against the /api/v1/bot routes
// ABOUTME: Adds bearer auth, idempotency keys on POSTs and FastAPI error decoding

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	apiPrefix = "/api/v1/bot"

	// IdempotencyHeader carries a per-request key on POSTs so a retried
	// request is answered from the server's reply cache.
	IdempotencyHeader = "Idempotency-Key"

	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 64 << 10
)

// TokenSource supplies the bearer token for each request. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// HTTPClient talks to the backend over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
	newKey  func() string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithTimeout sets the per-request timeout on the default *http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithTokenSource attaches bearer tokens to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *HTTPClient) { c.tokens = ts }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger.With("component", "remote")
		}
	}
}

// NewHTTPClient creates a client rooted at baseURL, e.g. "http://localhost:8000".
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default().With("component", "remote"),
		newKey:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Service = (*HTTPClient)(nil)

// listPageSize is the limit asked for on each thread list request.
const listPageSize = 100

// ListThreads fetches every thread summary, newest first, following has_more
// until the server reports the last page.
func (c *HTTPClient) ListThreads(ctx context.Context) (*ThreadList, error) {
	var all ThreadList
	skip := 0
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("skip", strconv.Itoa(skip))

		var page ThreadList
		if err := c.do(ctx, "list threads", http.MethodGet, apiPrefix+"/threads?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all.Threads = append(all.Threads, page.Threads...)
		all.Total = page.Total

		if !page.HasMore || len(page.Threads) == 0 {
			break
		}
		skip += len(page.Threads)
	}
	all.Limit = len(all.Threads)
	return &all, nil
}

// GetThread fetches one thread with its sub-queries.
func (c *HTTPClient) GetThread(ctx context.Context, threadID string) (*ThreadDetail, error) {
	var out ThreadDetail
	path := apiPrefix + "/threads/" + url.PathEscape(threadID)
	if err := c.do(ctx, "get thread", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostMessage sends a user query and returns the backend's classified reply.
func (c *HTTPClient) PostMessage(ctx context.Context, req PostMessageRequest) (*PostMessageReply, error) {
	var out PostMessageReply
	if err := c.do(ctx, "post message", http.MethodPost, apiPrefix+"/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkPreferredResponse records responseID as the preferred answer of the
// latest turn of threadID.
func (c *HTTPClient) MarkPreferredResponse(ctx context.Context, threadID, responseID string) error {
	body := SwitchResponseRequest{
		ThreadID:    threadID,
		ResponseKey: responseID,
		Preferred:   true,
	}
	return c.do(ctx, "mark preferred", http.MethodPost, apiPrefix+"/switch_response", body, nil)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set(IdempotencyHeader, c.newKey())
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "path", path, "error", err)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		"op", op,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &ServerError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// errorDetail extracts a readable message from an error body. FastAPI sends
// {"detail": "..."} or, for validation failures, {"detail": [{"msg": ...}]}.
func errorDetail(body []byte) string {
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		detail := res.Get("detail")
		switch {
		case detail.Type == gjson.String:
			return detail.String()
		case detail.IsArray():
			var msgs []string
			for _, m := range detail.Get("#.msg").Array() {
				msgs = append(msgs, m.String())
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
		if msg := res.Get("error"); msg.Type == gjson.String {
			return msg.String()
		}
	}
	return strings.TrimSpace(string(body))
}
