package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trident/internal/remote"
	"github.com/2389/trident/internal/store"
)

func TestClassify(t *testing.T) {
	thread := &store.Thread{Query: "How do solar panels convert sunlight?"}
	history := []*store.Turn{{Query: "How do solar panels convert sunlight?"}}

	tests := []struct {
		name     string
		query    string
		thread   *store.Thread
		history  []*store.Turn
		wantType string
	}{
		{"first message", "anything at all", nil, nil, remote.QueryTypeNewTopic},
		{"thread without turns", "solar panels again", thread, nil, remote.QueryTypeNewTopic},
		{"shared terms", "What limits solar panel efficiency?", thread, history, remote.QueryTypeFollowUp},
		{"follow-up cue", "Why is that?", thread, history, remote.QueryTypeFollowUp},
		{"cue is case-insensitive", "Tell me more", thread, history, remote.QueryTypeFollowUp},
		{"topic shift", "Best sourdough bread recipe", thread, history, remote.QueryTypeNewTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.query, tt.thread, tt.history)
			assert.Equal(t, tt.wantType, got.QueryType)
			assert.NotEmpty(t, got.Reasoning)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestClassification_FollowUp(t *testing.T) {
	assert.False(t, Classification{QueryType: remote.QueryTypeNewTopic}.FollowUp())
	assert.True(t, Classification{QueryType: remote.QueryTypeFollowUp}.FollowUp())
}

func TestTerms(t *testing.T) {
	got := terms("What are the Panels, and why? AI panel")
	assert.Equal(t, map[string]bool{"panel": true}, got)
}

func TestTemplateAnswerer_NewTopic(t *testing.T) {
	req := AnswerRequest{Query: "  Photosynthesis? ", Provider: "ollama", Model: "phi3:3.8b"}

	first, err := TemplateAnswerer{}.NewTopic(context.Background(), req)
	require.NoError(t, err)
	second, err := TemplateAnswerer{}.NewTopic(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second, "answers are deterministic")
	assert.True(t, strings.HasPrefix(first[0], "## Essence"))
	assert.True(t, strings.HasPrefix(first[1], "## Systems"))
	assert.True(t, strings.HasPrefix(first[2], "## Application"))
	for _, a := range first {
		assert.Contains(t, a, "**Photosynthesis**")
		assert.Contains(t, a, "ollama/phi3:3.8b")
	}
	assert.NotEqual(t, first[0], first[1])
}

func TestTemplateAnswerer_FollowUp(t *testing.T) {
	req := AnswerRequest{
		Query:    "and at night?",
		Provider: "openai",
		Model:    "gpt-4o",
		History:  []*store.Turn{{Query: "first"}, {Query: "how do panels work"}},
	}

	got, err := TemplateAnswerer{}.FollowUp(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, got, `"how do panels work"`)
	assert.Contains(t, got, "and at night?")

	req.History = nil
	got, err = TemplateAnswerer{}.FollowUp(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, got, "the topic so far")
}
