// ABOUTME: Contract tests for the /api/v1/bot wire format to detect breaking API changes.
// ABOUTME: Checks route availability and the JSON field names the client depends on.

package contract

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/backend"
	"github.com/2389/trident/internal/store"
)

const contractSecret = "contract-secret-at-least-32-bytes-long"

// expectedFields lists the JSON paths each route must produce. Removing or
// renaming one breaks deployed clients.
var expectedFields = map[string][]string{
	"GET /health": {
		"status", "version",
	},
	"GET /config": {
		"default_provider", "available_providers", "features",
	},
	"POST /chat": {
		"thread_id", "query", "query_type", "sub_queries",
		"classification_reasoning", "metadata", "responses.query_A",
		"hyde_responses.query_A", "hyde_responses.query_B", "hyde_responses.query_C",
	},
	"POST /chat follow-up": {
		"thread_id", "query_type", "was_continuation", "direct_response.content",
	},
	"GET /threads": {
		"threads.0.thread_id", "threads.0.query", "threads.0.interaction_count", "total",
	},
	"GET /threads/{id}": {
		"thread_id", "query", "sub_queries", "responses", "metadata", "time_created", "time_updated",
	},
	"POST /switch_response": {
		"success", "thread_id", "response_key",
	},
	"GET /conversation_stats": {
		"total_threads", "total_contexts", "avg_contexts_per_thread", "service", "timestamp", "features",
	},
}

type contractServer struct {
	url   string
	token string
}

func newContractServer(t *testing.T) *contractServer {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier([]byte(contractSecret))
	srv, err := backend.New(backend.Options{Store: st, Verifier: verifier})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token, err := verifier.Generate("contract-user", time.Hour)
	require.NoError(t, err)
	return &contractServer{url: ts.URL + "/api/v1/bot", token: token}
}

func (c *contractServer) call(t *testing.T, method, path, body string) gjson.Result {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%s %s: %s", method, path, data)
	require.True(t, gjson.ValidBytes(data), "%s %s returned invalid JSON", method, path)
	return gjson.ParseBytes(data)
}

// TestWireSurface verifies every route answers with the fields the client
// reads.
func TestWireSurface(t *testing.T) {
	c := newContractServer(t)

	results := map[string]gjson.Result{
		"GET /health": c.call(t, http.MethodGet, "/health", ""),
		"GET /config": c.call(t, http.MethodGet, "/config", ""),
	}

	chat := c.call(t, http.MethodPost, "/chat", `{"query":"What is photosynthesis?"}`)
	results["POST /chat"] = chat
	threadID := chat.Get("thread_id").String()
	require.NotEmpty(t, threadID)

	results["POST /chat follow-up"] = c.call(t, http.MethodPost, "/chat",
		`{"query":"Tell me more about photosynthesis","thread_id":"`+threadID+`"}`)
	results["POST /switch_response"] = c.call(t, http.MethodPost, "/switch_response",
		`{"thread_id":"`+threadID+`","response_key":"direct"}`)
	results["GET /threads"] = c.call(t, http.MethodGet, "/threads", "")
	results["GET /threads/{id}"] = c.call(t, http.MethodGet, "/threads/"+threadID, "")
	results["GET /conversation_stats"] = c.call(t, http.MethodGet, "/conversation_stats", "")

	for route, fields := range expectedFields {
		t.Run(route, func(t *testing.T) {
			res, ok := results[route]
			require.True(t, ok, "route %s was not exercised", route)
			for _, field := range fields {
				assert.True(t, res.Get(field).Exists(), "field %s should exist in %s", field, route)
			}
		})
	}
}

// TestQueryTypeValues pins the classification strings the client switches on.
func TestQueryTypeValues(t *testing.T) {
	c := newContractServer(t)

	first := c.call(t, http.MethodPost, "/chat", `{"query":"How do volcanoes form?"}`)
	assert.Equal(t, "new_topic", first.Get("query_type").String())

	next := c.call(t, http.MethodPost, "/chat",
		`{"query":"Why do volcanoes erupt?","thread_id":"`+first.Get("thread_id").String()+`"}`)
	assert.Equal(t, "follow_up", next.Get("query_type").String())
	assert.True(t, next.Get("was_continuation").Bool())
}

// TestValidationErrorShape pins the 422 body the client extracts messages from.
func TestValidationErrorShape(t *testing.T) {
	c := newContractServer(t)

	req, err := http.NewRequest(http.MethodPost, c.url+"/chat", strings.NewReader(`{"query":"   "}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	detail := gjson.GetBytes(data, "detail")
	require.True(t, detail.IsArray(), "detail should be a list: %s", data)
	assert.NotEmpty(t, gjson.GetBytes(data, "detail.0.msg").String())
	assert.True(t, gjson.GetBytes(data, "detail.0.loc").IsArray())
}
