// ABOUTME: Tests for mapping server thread payloads onto timeline messages
// ABOUTME: Covers deterministic ids, legacy variants on the last turn and list entries

package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trident/internal/remote"
)

func decodeDetail(t *testing.T, body string) *remote.ThreadDetail {
	t.Helper()
	var d remote.ThreadDetail
	require.NoError(t, json.Unmarshal([]byte(body), &d))
	return &d
}

func TestHydrateMessages_Alternates(t *testing.T) {
	d := decodeDetail(t, `{"thread_id":"t1","sub_queries":[
		{"sub_query":"q1","sub_query_response":"a1","time_created":"2024-01-01T10:00:00"},
		{"sub_query":"q2","sub_query_response":"a2","response_metadata":{"was_continuation":true,"classification_reasoning":"same topic"}}]}`)

	msgs := HydrateMessages(d)
	require.Len(t, msgs, 4)

	assert.Equal(t, "t1:0:user", msgs[0].ID)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, StatusDelivered, msgs[0].Status)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), msgs[0].CreatedAt)

	assert.Equal(t, "t1:0:bot", msgs[1].ID)
	assert.Equal(t, RoleBot, msgs[1].Role)
	assert.Empty(t, msgs[1].Status)
	assert.Equal(t, "a1", msgs[1].Content)
	assert.False(t, msgs[1].WasContinuation)

	assert.Equal(t, "t1:1:bot", msgs[3].ID)
	assert.True(t, msgs[3].WasContinuation)
	assert.Equal(t, "same topic", msgs[3].ClassificationReasoning)
	assert.Empty(t, msgs[3].Responses)
	for _, m := range msgs {
		assert.Equal(t, "t1", m.ThreadID)
	}
}

func TestHydrateMessages_LegacyVariantsOnLastTurn(t *testing.T) {
	d := decodeDetail(t, `{"thread_id":"t1",
		"sub_queries":[{"sub_query":"q","sub_query_response":"B"}],
		"responses":{"query_A":"A","query_B":"B","query_C":"C"},
		"metadata":{"preferences":{"query_C":true}}}`)

	msgs := HydrateMessages(d)
	require.Len(t, msgs, 2)

	bot := msgs[1]
	require.Len(t, bot.Responses, 3)
	assert.Equal(t, 1, bot.SelectedResponseIndex)
	assert.Equal(t, "B", bot.Content)
	pref, ok := bot.PreferredVariant()
	require.True(t, ok)
	assert.Equal(t, "query_C", pref.ID)
}

func TestHydrateMessages_IdenticalResponsesAreNotVariants(t *testing.T) {
	d := decodeDetail(t, `{"thread_id":"t1",
		"sub_queries":[{"sub_query":"q","sub_query_response":"same"}],
		"responses":{"query_A":"same","query_B":"same","query_C":"same"}}`)

	msgs := HydrateMessages(d)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].Responses)
}

func TestHydrateMessages_UnmatchedAnswerSelectsFirst(t *testing.T) {
	d := decodeDetail(t, `{"thread_id":"t1",
		"sub_queries":[{"sub_query":"q","sub_query_response":"other"}],
		"responses":{"x":"1","y":"2"}}`)

	bot := HydrateMessages(d)[1]
	assert.Equal(t, 0, bot.SelectedResponseIndex)
	assert.Equal(t, "1", bot.Content)
}

func TestHydrateMessages_Nil(t *testing.T) {
	assert.Nil(t, HydrateMessages(nil))
}

func TestThreadFromSummary(t *testing.T) {
	var s remote.ThreadSummary
	require.NoError(t, json.Unmarshal([]byte(`{"thread_id":"t1","query":"# How do **goroutines** work?",
		"interaction_count":3,"time_updated":"2024-02-03T04:05:06Z",
		"last_interaction":{"sub_query":"q","sub_query_response":"They are *cheap* threads."}}`), &s))

	th := ThreadFromSummary(s, 10, 100)
	assert.Equal(t, "t1", th.ID)
	assert.Equal(t, "How do go…", th.TitleSnippet)
	assert.Equal(t, "They are cheap threads.", th.LastMessagePreview)
	assert.Equal(t, 3, th.MessageCount)
	assert.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), th.LastUpdatedAt)
	assert.False(t, th.IsActive)
}
