// ABOUTME: Converts server thread payloads into timeline messages and list entries
// ABOUTME: Hydrated ids are deterministic so repeated loads line up

package conversation

import (
	"fmt"
	"maps"
	"time"

	"github.com/2389/trident/internal/preview"
	"github.com/2389/trident/internal/remote"
)

// Defaults for a zero Config.
const (
	DefaultTitleLength   = 60
	DefaultPreviewLength = preview.DefaultLength
	DefaultGreeting      = "Hi! Ask me anything and I'll answer from a few angles."
)

// HydrateMessages turns a thread's sub-queries into alternating delivered
// user and bot messages. When the thread carries distinct keyed responses,
// the last bot message gets them as variants.
func HydrateMessages(detail *remote.ThreadDetail) []Message {
	if detail == nil {
		return nil
	}

	msgs := make([]Message, 0, 2*len(detail.SubQueries))
	for n, sq := range detail.SubQueries {
		created := parseTimeOr(sq.TimeCreated, time.Time{})
		msgs = append(msgs, Message{
			ID:        fmt.Sprintf("%s:%d:user", detail.ThreadID, n),
			ThreadID:  detail.ThreadID,
			Role:      RoleUser,
			Content:   sq.SubQuery,
			CreatedAt: created,
			Status:    StatusDelivered,
		})

		bot := Message{
			ID:        fmt.Sprintf("%s:%d:bot", detail.ThreadID, n),
			ThreadID:  detail.ThreadID,
			Role:      RoleBot,
			Content:   sq.SubQueryResponse,
			CreatedAt: created,
			Metadata:  maps.Clone(sq.ResponseMetadata),
		}
		if v, ok := sq.ResponseMetadata["was_continuation"].(bool); ok {
			bot.WasContinuation = v
		}
		if v, ok := sq.ResponseMetadata["classification_reasoning"].(string); ok {
			bot.ClassificationReasoning = v
		}
		msgs = append(msgs, bot)
	}

	if len(msgs) > 0 && hasDistinctValues(detail.Responses) {
		last := &msgs[len(msgs)-1]
		last.Responses = legacyVariants(detail.Responses)
		prefs := detail.Preferences()
		for i := range last.Responses {
			if last.Responses[i].Content == last.Content {
				last.SelectedResponseIndex = i
				break
			}
		}
		for i := range last.Responses {
			if prefs[last.Responses[i].ID] {
				last.Responses[i].IsPreferred = true
				break
			}
		}
		last.Content = last.Responses[last.SelectedResponseIndex].Content
	}

	return msgs
}

// ThreadFromSummary maps a listed thread onto a Thread entry.
func ThreadFromSummary(s remote.ThreadSummary, titleLen, previewLen int) Thread {
	th := Thread{
		ID:           s.ThreadID,
		TitleSnippet: preview.Snippet(s.Query, titleLen),
		MessageCount: s.InteractionCount,
	}
	if s.LastInteraction != nil {
		th.LastMessagePreview = preview.Snippet(s.LastInteraction.Response, previewLen)
	}
	th.LastUpdatedAt = parseTimeOr(s.TimeUpdated, parseTimeOr(s.TimeCreated, time.Time{}))
	return th
}

func hasDistinctValues(responses *remote.KeyedResponses) bool {
	if responses.Len() < 2 {
		return false
	}
	first := responses.Entries[0].Value
	for _, e := range responses.Entries[1:] {
		if e.Value != first {
			return true
		}
	}
	return false
}

func parseTimeOr(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := remote.ParseTime(s)
	if err != nil {
		return fallback
	}
	return t
}
