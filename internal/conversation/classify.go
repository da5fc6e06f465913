// ABOUTME: Maps backend chat replies onto response variants
// ABOUTME: Recognizes new-topic, direct continuation and legacy keyed-map shapes

package conversation

import (
	"fmt"
	"maps"

	"github.com/2389/trident/internal/remote"
)

// ReplyKind is the shape a chat reply was recognized as.
type ReplyKind string

const (
	ReplyNewTopic     ReplyKind = "new_topic"
	ReplyContinuation ReplyKind = "continuation"
	ReplyLegacy       ReplyKind = "legacy"
)

// Variant ids for the new-topic and continuation shapes.
const (
	VariantIDQueryA = "query_A"
	VariantIDQueryB = "query_B"
	VariantIDQueryC = "query_C"
	VariantIDDirect = "direct"
)

// legacyRoles are assigned to the first keyed-map entries in order; any
// further entries are unclassified.
var legacyRoles = []VariantRole{VariantEssence, VariantSystems, VariantApplication}

// ClassifiedReply is a chat reply normalized into variants.
type ClassifiedReply struct {
	Kind                    ReplyKind
	ThreadID                string
	Variants                []ResponseVariant
	DisplayContent          string
	WasContinuation         bool
	ClassificationReasoning string
	Metadata                map[string]any
}

// Classify normalizes reply. Shapes are tried in order: new topic with hyde
// responses, direct response, then a non-empty legacy responses map.
// Anything else is ErrMalformedReply.
func Classify(reply *remote.PostMessageReply) (*ClassifiedReply, error) {
	if reply == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}

	out := &ClassifiedReply{
		ThreadID:                reply.ThreadID,
		WasContinuation:         reply.WasContinuation,
		ClassificationReasoning: reply.ClassificationReasoning,
		Metadata:                maps.Clone(reply.Metadata),
	}
	if reply.QueryType != "" {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		out.Metadata["query_type"] = reply.QueryType
	}

	switch {
	case reply.QueryType == remote.QueryTypeNewTopic && reply.HydeResponses != nil:
		h := reply.HydeResponses
		out.Kind = ReplyNewTopic
		out.Variants = []ResponseVariant{
			{ID: VariantIDQueryA, Content: h.QueryA, Role: VariantEssence},
			{ID: VariantIDQueryB, Content: h.QueryB, Role: VariantSystems},
			{ID: VariantIDQueryC, Content: h.QueryC, Role: VariantApplication},
		}

	case reply.DirectResponse != nil:
		d := reply.DirectResponse
		out.Kind = ReplyContinuation
		out.Variants = []ResponseVariant{{
			ID:          VariantIDDirect,
			Content:     d.Content,
			Role:        VariantContextual,
			Confidence:  d.Confidence,
			IsPreferred: true,
		}}
		if d.ContextMessagesUsed > 0 {
			if out.Metadata == nil {
				out.Metadata = make(map[string]any)
			}
			out.Metadata["context_messages_used"] = d.ContextMessagesUsed
		}

	case reply.Responses.Len() > 0:
		out.Kind = ReplyLegacy
		out.Variants = legacyVariants(reply.Responses)

	default:
		return nil, fmt.Errorf("%w: no hyde_responses, direct_response or responses (query_type %q)",
			ErrMalformedReply, reply.QueryType)
	}

	out.DisplayContent = out.Variants[0].Content
	return out, nil
}

func legacyVariants(responses *remote.KeyedResponses) []ResponseVariant {
	variants := make([]ResponseVariant, 0, responses.Len())
	for i, e := range responses.Entries {
		role := VariantUnclassified
		if i < len(legacyRoles) {
			role = legacyRoles[i]
		}
		variants = append(variants, ResponseVariant{ID: e.Key, Content: e.Value, Role: role})
	}
	return variants
}
