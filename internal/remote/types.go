// ABOUTME: Wire types for the conversation backend's /api/v1/bot routes
// ABOUTME: Keeps legacy response maps in wire order and accepts polymorphic fields

package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Query types reported by the backend classifier.
const (
	QueryTypeNewTopic      = "new_topic"
	QueryTypeFollowUp      = "follow_up"
	QueryTypeClarification = "clarification"
	QueryTypeRelatedTopic  = "related_topic"
)

// ThreadList is the reply of GET /threads.
type ThreadList struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int             `json:"total,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Skip    int             `json:"skip,omitempty"`
	HasMore bool            `json:"has_more,omitempty"`
}

// ThreadSummary is one listed thread.
type ThreadSummary struct {
	ThreadID         string           `json:"thread_id"`
	Query            string           `json:"query"`
	LastInteraction  *LastInteraction `json:"last_interaction,omitempty"`
	InteractionCount int              `json:"interaction_count"`
	TimeCreated      string           `json:"time_created,omitempty"`
	TimeUpdated      string           `json:"time_updated,omitempty"`
}

// LastInteraction is the most recent exchange of a thread. The backend sends
// either a full sub-query object or, on older deployments, a bare string
// holding the answer.
type LastInteraction struct {
	Query    string
	Response string
}

// UnmarshalJSON accepts null, a string, or a sub-query object.
func (l *LastInteraction) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	switch res.Type {
	case gjson.Null:
		*l = LastInteraction{}
	case gjson.String:
		*l = LastInteraction{Response: res.String()}
	case gjson.JSON:
		if !res.IsObject() {
			return fmt.Errorf("last_interaction: unexpected array")
		}
		*l = LastInteraction{
			Query:    res.Get("sub_query").String(),
			Response: res.Get("sub_query_response").String(),
		}
	default:
		return fmt.Errorf("last_interaction: unexpected %s", res.Type)
	}
	return nil
}

// MarshalJSON writes the sub-query object form.
func (l LastInteraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SubQuery         string `json:"sub_query"`
		SubQueryResponse string `json:"sub_query_response"`
	}{l.Query, l.Response})
}

// SubQuery is one user turn and the answer the backend stored for it.
type SubQuery struct {
	SubQuery         string         `json:"sub_query"`
	SubQueryResponse string         `json:"sub_query_response"`
	TimeCreated      string         `json:"time_created,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
}

// ThreadDetail is the reply of GET /threads/{id}.
type ThreadDetail struct {
	ThreadID    string          `json:"thread_id"`
	Query       string          `json:"query"`
	SubQueries  []SubQuery      `json:"sub_queries"`
	Responses   *KeyedResponses `json:"responses,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	TimeCreated string          `json:"time_created,omitempty"`
	TimeUpdated string          `json:"time_updated,omitempty"`
}

// Preferences returns the response keys recorded by switch_response, keyed
// to their preferred flag.
func (d *ThreadDetail) Preferences() map[string]bool {
	out := make(map[string]bool)
	if d == nil {
		return out
	}
	prefs, ok := d.Metadata["preferences"].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range prefs {
		if b, ok := v.(bool); ok {
			out[k] = b
		}
	}
	return out
}

// PostMessageRequest is the body of POST /chat. An empty ThreadID starts a
// new thread.
type PostMessageRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"query"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// PostMessageReply is the reply of POST /chat.
type PostMessageReply struct {
	ThreadID                 string          `json:"thread_id"`
	Query                    string          `json:"query,omitempty"`
	QueryType                string          `json:"query_type,omitempty"`
	Responses                *KeyedResponses `json:"responses,omitempty"`
	SubQueries               []SubQuery      `json:"sub_queries,omitempty"`
	HydeResponses            *HydeResponses  `json:"hyde_responses,omitempty"`
	DirectResponse           *DirectResponse `json:"direct_response,omitempty"`
	WasContinuation          bool            `json:"was_continuation,omitempty"`
	ClassificationConfidence *float64        `json:"classification_confidence,omitempty"`
	ClassificationReasoning  string          `json:"classification_reasoning,omitempty"`
	ProcessingTimeMS         float64         `json:"processing_time_ms,omitempty"`
	Metadata                 map[string]any  `json:"metadata,omitempty"`
	TimeCreated              string          `json:"time_created,omitempty"`
	TimeUpdated              string          `json:"time_updated,omitempty"`
}

// HydeResponses holds the three perspectives produced for a new topic.
type HydeResponses struct {
	QueryA string `json:"query_A"`
	QueryB string `json:"query_B"`
	QueryC string `json:"query_C"`
}

// DirectResponse is the single contextual answer to a follow-up.
type DirectResponse struct {
	Content             string   `json:"content"`
	ContextMessagesUsed int      `json:"context_messages_used,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
}

// UnmarshalJSON accepts either a bare string or an object with content.
func (d *DirectResponse) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	switch {
	case res.Type == gjson.String:
		*d = DirectResponse{Content: res.String()}
		return nil
	case res.IsObject():
		type plain DirectResponse
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*d = DirectResponse(p)
		return nil
	default:
		return fmt.Errorf("direct_response: unexpected %s", res.Type)
	}
}

// KeyedEntry is one key/answer pair of a legacy responses map.
type KeyedEntry struct {
	Key   string
	Value string
}

// KeyedResponses is a JSON object of answers whose key order matters.
type KeyedResponses struct {
	Entries []KeyedEntry
}

// Len returns the number of entries; a nil receiver has none.
func (k *KeyedResponses) Len() int {
	if k == nil {
		return 0
	}
	return len(k.Entries)
}

// Get returns the answer stored under key.
func (k *KeyedResponses) Get(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	for _, e := range k.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// UnmarshalJSON walks the object in document order. Non-string values are
// kept as their raw JSON text.
func (k *KeyedResponses) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		k.Entries = nil
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("responses: expected object, got %s", strings.TrimSpace(res.Raw))
	}
	entries := make([]KeyedEntry, 0)
	res.ForEach(func(key, value gjson.Result) bool {
		v := value.Raw
		if value.Type == gjson.String {
			v = value.String()
		}
		entries = append(entries, KeyedEntry{Key: key.String(), Value: v})
		return true
	})
	k.Entries = entries
	return nil
}

// MarshalJSON writes the entries as an object in their stored order.
func (k KeyedResponses) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range k.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SwitchResponseRequest is the body of POST /switch_response.
type SwitchResponseRequest struct {
	ThreadID    string `json:"thread_id"`
	ResponseKey string `json:"response_key"`
	Preferred   bool   `json:"preferred"`
}

// ParseTime reads the timestamps the backend emits: RFC 3339, or ISO 8601
// without a zone, which is taken as UTC.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
