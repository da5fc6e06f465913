// ABOUTME: Topic classification and deterministic answer generation for the dev backend
// ABOUTME: Decides new_topic vs follow_up and writes essence/systems/application answers

package backend

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/2389/trident/internal/remote"
	"github.com/2389/trident/internal/store"
)

// followUpThreshold is the minimum term overlap with the thread for a query
// to count as a follow-up.
const followUpThreshold = 0.2

// followUpCues mark a query as leaning on earlier context.
var followUpCues = []string{
	"why", "how so", "what about", "and ", "also", "more", "tell me more",
	"explain", "elaborate", "can you", "could you", "it ", "that ", "this ", "those ",
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "how": true, "what": true,
	"why": true, "who": true, "does": true, "this": true, "that": true, "with": true,
	"from": true, "about": true, "into": true, "your": true, "have": true, "has": true,
	"was": true, "were": true, "will": true, "would": true, "could": true, "should": true,
	"tell": true, "more": true, "explain": true, "there": true, "their": true, "them": true,
}

// Classification is the verdict for one query.
type Classification struct {
	QueryType  string
	Confidence float64
	Reasoning  string
}

// FollowUp reports whether the query continues the current topic.
func (c Classification) FollowUp() bool {
	return c.QueryType != remote.QueryTypeNewTopic
}

// Classify decides whether query continues the thread. A thread without
// turns always starts a new topic.
func Classify(query string, thread *store.Thread, history []*store.Turn) Classification {
	if thread == nil || len(history) == 0 {
		return Classification{
			QueryType:  remote.QueryTypeNewTopic,
			Confidence: 1,
			Reasoning:  "first message in thread",
		}
	}

	q := terms(query)
	seen := terms(thread.Query)
	for _, turn := range recent(history, 3) {
		for t := range terms(turn.Query) {
			seen[t] = true
		}
	}

	overlap := 0.0
	if len(q) > 0 {
		shared := 0
		for t := range q {
			if seen[t] {
				shared++
			}
		}
		overlap = float64(shared) / float64(len(q))
	}

	lower := strings.ToLower(strings.TrimSpace(query)) + " "
	for _, cue := range followUpCues {
		if strings.HasPrefix(lower, cue) {
			return Classification{
				QueryType:  remote.QueryTypeFollowUp,
				Confidence: max(0.75, overlap),
				Reasoning:  fmt.Sprintf("query opens with follow-up cue %q", strings.TrimSpace(cue)),
			}
		}
	}

	if overlap >= followUpThreshold {
		return Classification{
			QueryType:  remote.QueryTypeFollowUp,
			Confidence: overlap,
			Reasoning:  fmt.Sprintf("%.0f%% of query terms appear earlier in the thread", overlap*100),
		}
	}

	return Classification{
		QueryType:  remote.QueryTypeNewTopic,
		Confidence: 1 - overlap,
		Reasoning:  "query shares little with the thread; treating as a topic shift",
	}
}

// terms returns the lowercased content words of s.
func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 3 || stopWords[w] {
			continue
		}
		out[strings.TrimSuffix(w, "s")] = true
	}
	return out
}

func recent(turns []*store.Turn, n int) []*store.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// Answerer writes the answers for a query. NewTopic returns the essence,
// systems and application perspectives in that order.
type Answerer interface {
	NewTopic(ctx context.Context, req AnswerRequest) ([3]string, error)
	FollowUp(ctx context.Context, req AnswerRequest) (string, error)
}

// AnswerRequest is what an Answerer gets to work with.
type AnswerRequest struct {
	Query    string
	Provider string
	Model    string
	History  []*store.Turn
}

// TemplateAnswerer produces deterministic markdown answers without calling a
// model. It is what the development backend serves.
type TemplateAnswerer struct{}

// NewTopic writes one answer per perspective.
func (TemplateAnswerer) NewTopic(_ context.Context, req AnswerRequest) ([3]string, error) {
	subject := strings.TrimRight(strings.TrimSpace(req.Query), "?!. ")
	return [3]string{
		fmt.Sprintf("## Essence\n\nAt its core, **%s** comes down to a single idea: what it is and why it matters.\n\n%s",
			subject, footer(req)),
		fmt.Sprintf("## Systems\n\n**%s** sits inside a larger system. The parts that interact:\n\n- inputs\n- feedback loops\n- constraints\n\n%s",
			subject, footer(req)),
		fmt.Sprintf("## Application\n\nPutting **%s** to work:\n\n1. Start small.\n2. Measure.\n3. Iterate.\n\n%s",
			subject, footer(req)),
	}, nil
}

// FollowUp writes a single answer that points back at the previous turn.
func (TemplateAnswerer) FollowUp(_ context.Context, req AnswerRequest) (string, error) {
	previous := "the topic so far"
	if len(req.History) > 0 {
		previous = fmt.Sprintf("%q", req.History[len(req.History)-1].Query)
	}
	return fmt.Sprintf("Building on %s: %s\n\n%s",
		previous, strings.TrimSpace(req.Query), footer(req)), nil
}

func footer(req AnswerRequest) string {
	return fmt.Sprintf("_%s/%s_", req.Provider, req.Model)
}
