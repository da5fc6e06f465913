// ABOUTME: HTTP handlers for threads, chat and response preferences
// ABOUTME: Errors use the {"detail": ...} body the remote client decodes

package backend

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/trident/internal/auth"
	"github.com/2389/trident/internal/remote"
	"github.com/2389/trident/internal/store"
)

// Response keys written for new topics and follow-ups.
const (
	keyQueryA = "query_A"
	keyQueryB = "query_B"
	keyQueryC = "query_C"
	keyDirect = "direct"
)

// contextWindow is how many earlier turns a follow-up answer draws on.
const contextWindow = 5

const maxBodyBytes = 1 << 20

// fieldError is one entry of a 422 validation detail list.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// switchRequest mirrors remote.SwitchResponseRequest; preferred defaults to true.
type switchRequest struct {
	ThreadID    string `json:"thread_id"`
	ResponseKey string `json:"response_key"`
	Preferred   *bool  `json:"preferred"`
}

// SwitchResponseReply is the reply of POST /switch_response.
type SwitchResponseReply struct {
	Success     bool   `json:"success"`
	ThreadID    string `json:"thread_id"`
	ResponseKey string `json:"response_key"`
	Preferred   bool   `json:"preferred"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": formatWire(s.now()),
		"service":   "bot_api",
		"version":   Version,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]any, len(providerModels))
	for name, models := range providerModels {
		def := models[0]
		if name == s.defaultProvider {
			def = s.defaultModel
		}
		providers[name] = map[string]any{
			"available":     true,
			"default_model": def,
			"models":        models,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"default_provider":    s.defaultProvider,
		"available_providers": providers,
		"features": map[string]bool{
			"hyde_expansion":                       true,
			"multi_response":                       true,
			"thread_persistence":                   true,
			"response_preferences":                 true,
			"context_aware_conversations":          true,
			"essence_systems_application_variants": true,
		},
	})
}

// ConversationStats is the reply of GET /conversation_stats. Counts cover
// the requesting user's threads.
type ConversationStats struct {
	TotalThreads         int             `json:"total_threads"`
	TotalContexts        int             `json:"total_contexts"`
	AvgContextsPerThread float64         `json:"avg_contexts_per_thread"`
	CachedReplies        int             `json:"cached_replies"`
	Service              string          `json:"service"`
	Timestamp            string          `json:"timestamp"`
	Features             map[string]bool `json:"features"`
}

// handleConversationStats handles GET /conversation_stats.
func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	stats, err := s.store.Stats(r.Context(), user)
	if err != nil {
		s.logger.Error("failed to get conversation stats", "error", err, "user", user)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := ConversationStats{
		TotalThreads:  stats.Threads,
		TotalContexts: stats.Turns,
		Service:       "bot_conversation_manager",
		Timestamp:     formatWire(s.now()),
		Features: map[string]bool{
			"context_aware_responses": true,
			"relevance_scoring":       true,
			"thread_continuation":     true,
		},
	}
	if stats.Threads > 0 {
		out.AvgContextsPerThread = float64(stats.Turns) / float64(stats.Threads)
	}
	if s.replies != nil {
		out.CachedReplies = s.replies.Len()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListThreads handles GET /threads?limit=&skip=.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	skip, ok := queryInt(w, r, "skip", 0)
	if !ok {
		return
	}
	if limit < 1 {
		writeValidation(w, "query", "limit", "limit must be a positive integer")
		return
	}
	if limit > 1000 {
		limit = 1000
	}

	user := auth.UserFromContext(r.Context())
	summaries, total, err := s.store.ListThreads(r.Context(), user, limit, skip)
	if err != nil {
		s.logger.Error("failed to list threads", "error", err, "user", user)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := remote.ThreadList{
		Threads: make([]remote.ThreadSummary, 0, len(summaries)),
		Total:   total,
		Limit:   limit,
		Skip:    skip,
		HasMore: skip+limit < total,
	}
	for _, sum := range summaries {
		item := remote.ThreadSummary{
			ThreadID:         sum.Thread.ID,
			Query:            sum.Thread.Query,
			InteractionCount: sum.TurnCount,
			TimeCreated:      formatWire(sum.Thread.CreatedAt),
			TimeUpdated:      formatWire(sum.Thread.UpdatedAt),
		}
		if sum.LastTurn != nil {
			item.LastInteraction = &remote.LastInteraction{
				Query:    sum.LastTurn.Query,
				Response: sum.LastTurn.Response,
			}
		}
		out.Threads = append(out.Threads, item)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleGetThread handles GET /threads/{id}.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.loadOwned(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	turns, err := s.store.GetTurns(r.Context(), thread.ID)
	if err != nil {
		s.logger.Error("failed to get turns", "error", err, "thread_id", thread.ID)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, remote.ThreadDetail{
		ThreadID:    thread.ID,
		Query:       thread.Query,
		SubQueries:  subQueries(turns),
		Responses:   keyed(thread.Responses),
		Metadata:    thread.Metadata,
		TimeCreated: formatWire(thread.CreatedAt),
		TimeUpdated: formatWire(thread.UpdatedAt),
	})
}

// handleChat handles POST /chat. A missing thread_id starts a new thread.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req remote.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	query := strings.TrimSpace(req.Message)
	if query == "" {
		writeValidation(w, "body", "query", "String should have at least 1 character")
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	models, known := providerModels[provider]
	if !known {
		writeValidation(w, "body", "provider", "Input should be 'ollama' or 'openai'")
		return
	}
	model := req.Model
	if model == "" {
		model = models[0]
		if provider == s.defaultProvider {
			model = s.defaultModel
		}
	}
	if alias, ok := modelAliases[model]; ok {
		s.logger.Info("model mapped", "from", model, "to", alias)
		model = alias
	}

	ctx := r.Context()
	user := auth.UserFromContext(ctx)

	var thread *store.Thread
	var history []*store.Turn
	if req.ThreadID != "" {
		var ok bool
		thread, ok = s.loadOwned(w, r, req.ThreadID)
		if !ok {
			return
		}
		var err error
		history, err = s.store.GetTurns(ctx, thread.ID)
		if err != nil {
			s.logger.Error("failed to get turns", "error", err, "thread_id", thread.ID)
			writeDetail(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	cls := Classify(query, thread, history)
	wasContinuation := thread != nil && cls.FollowUp()
	areq := AnswerRequest{Query: query, Provider: provider, Model: model, History: recent(history, contextWindow)}

	reply := remote.PostMessageReply{
		QueryType:                cls.QueryType,
		WasContinuation:          wasContinuation,
		ClassificationConfidence: &cls.Confidence,
		ClassificationReasoning:  cls.Reasoning,
	}

	var responses []store.Response
	var primary string
	if cls.FollowUp() {
		answer, err := s.answerer.FollowUp(ctx, areq)
		if err != nil {
			s.logger.Error("failed to answer follow-up", "error", err)
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		primary = answer
		responses = []store.Response{{Key: keyDirect, Content: answer}}
		reply.DirectResponse = &remote.DirectResponse{
			Content:             answer,
			ContextMessagesUsed: len(areq.History),
			Confidence:          &cls.Confidence,
		}
	} else {
		answers, err := s.answerer.NewTopic(ctx, areq)
		if err != nil {
			s.logger.Error("failed to answer new topic", "error", err)
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		primary = answers[0]
		responses = []store.Response{
			{Key: keyQueryA, Content: answers[0]},
			{Key: keyQueryB, Content: answers[1]},
			{Key: keyQueryC, Content: answers[2]},
		}
		reply.HydeResponses = &remote.HydeResponses{QueryA: answers[0], QueryB: answers[1], QueryC: answers[2]}
	}

	now := s.now()
	if thread == nil {
		thread = &store.Thread{
			ID:        s.newID(),
			UserID:    user,
			Query:     query,
			Metadata:  map[string]any{store.MetaUserID: user},
			CreatedAt: now,
		}
	}
	if thread.Metadata == nil {
		thread.Metadata = make(map[string]any)
	}
	thread.Responses = responses
	thread.UpdatedAt = now
	// Preferences name the responses being replaced.
	delete(thread.Metadata, store.MetaPreferences)
	thread.Metadata[store.MetaProvider] = provider
	thread.Metadata[store.MetaModel] = model
	thread.Metadata["total_interactions"] = len(history) + 1
	thread.Metadata["was_continuation"] = wasContinuation

	turn := &store.Turn{
		ThreadID: thread.ID,
		Query:    query,
		Response: primary,
		Metadata: map[string]any{
			"query_type":                cls.QueryType,
			"was_continuation":          wasContinuation,
			"classification_reasoning":  cls.Reasoning,
			"classification_confidence": cls.Confidence,
			"provider":                  provider,
			"model":                     model,
		},
		CreatedAt: now,
	}
	if err := s.store.SaveTurn(ctx, thread, turn); err != nil {
		s.logger.Error("failed to save turn", "error", err, "thread_id", thread.ID)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}
	history = append(history, turn)

	reply.ThreadID = thread.ID
	reply.Query = thread.Query
	reply.Responses = keyed(responses)
	reply.SubQueries = subQueries(history)
	reply.Metadata = maps.Clone(thread.Metadata)
	reply.TimeCreated = formatWire(thread.CreatedAt)
	reply.TimeUpdated = formatWire(now)
	reply.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000

	s.logger.Info("chat processed",
		"thread_id", thread.ID,
		"query_type", cls.QueryType,
		"turns", len(history),
		"provider", provider,
		"model", model)

	writeJSON(w, http.StatusOK, reply)
}

// handleSwitchResponse handles POST /switch_response.
func (s *Server) handleSwitchResponse(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ThreadID == "" {
		writeValidation(w, "body", "thread_id", "Field required")
		return
	}
	if req.ResponseKey == "" {
		writeValidation(w, "body", "response_key", "Field required")
		return
	}
	preferred := true
	if req.Preferred != nil {
		preferred = *req.Preferred
	}

	if _, ok := s.loadOwned(w, r, req.ThreadID); !ok {
		return
	}

	err := s.store.SetPreference(r.Context(), req.ThreadID, req.ResponseKey, preferred, s.now())
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update preference", "error", err, "thread_id", req.ThreadID)
		writeDetail(w, http.StatusInternalServerError, "Failed to update preference")
		return
	}

	s.logger.Info("response preference updated",
		"thread_id", req.ThreadID,
		"response_key", req.ResponseKey,
		"preferred", preferred)

	writeJSON(w, http.StatusOK, SwitchResponseReply{
		Success:     true,
		ThreadID:    req.ThreadID,
		ResponseKey: req.ResponseKey,
		Preferred:   preferred,
	})
}

// loadOwned fetches a thread owned by the request's user, writing the error
// reply itself when that fails.
func (s *Server) loadOwned(w http.ResponseWriter, r *http.Request, threadID string) (*store.Thread, bool) {
	if threadID == "" {
		writeValidation(w, "path", "thread_id", "Field required")
		return nil, false
	}

	thread, err := s.store.GetThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Thread not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to get thread", "error", err, "thread_id", threadID)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if thread.UserID != auth.UserFromContext(r.Context()) {
		writeDetail(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return thread, true
}

func subQueries(turns []*store.Turn) []remote.SubQuery {
	out := make([]remote.SubQuery, 0, len(turns))
	for _, t := range turns {
		out = append(out, remote.SubQuery{
			SubQuery:         t.Query,
			SubQueryResponse: t.Response,
			TimeCreated:      formatWire(t.CreatedAt),
			ResponseMetadata: t.Metadata,
		})
	}
	return out
}

func keyed(responses []store.Response) *remote.KeyedResponses {
	out := &remote.KeyedResponses{Entries: make([]remote.KeyedEntry, 0, len(responses))}
	for _, r := range responses {
		out.Entries = append(out.Entries, remote.KeyedEntry{Key: r.Key, Value: r.Content})
	}
	return out
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeValidation(w, "query", name, "Input should be a valid non-negative integer")
		return 0, false
	}
	return n, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func formatWire(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, where, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]fieldError{
		"detail": {{Loc: []string{where, field}, Msg: msg, Type: "value_error"}},
	})
}
