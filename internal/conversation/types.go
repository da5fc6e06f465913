// ABOUTME: Client-side data model for threads, messages and response variants
// ABOUTME: Snapshots handed to readers are deep copies so state cannot leak

package conversation

import (
	"maps"
	"slices"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Status is the delivery state of a user message. Bot messages have none.
type Status string

const (
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// VariantRole is the perspective a response variant answers from.
type VariantRole string

const (
	VariantEssence      VariantRole = "essence"
	VariantSystems      VariantRole = "systems"
	VariantApplication  VariantRole = "application"
	VariantContextual   VariantRole = "contextual"
	VariantUnclassified VariantRole = "unclassified"
)

// Attachment describes a document the user attached to a message. Uploading
// it is handled elsewhere.
type Attachment struct {
	Name     string
	MIMEType string
	Size     int64
}

// ResponseVariant is one candidate answer to a user turn.
type ResponseVariant struct {
	ID          string
	Content     string
	Role        VariantRole
	Confidence  *float64
	IsPreferred bool
}

// Message is one entry in a thread's timeline.
type Message struct {
	ID        string
	ThreadID  string // empty until the server assigns one
	Role      Role
	Content   string
	CreatedAt time.Time
	Status    Status // user messages only

	Attachments []Attachment

	// Responses holds the variants of a bot turn; Content mirrors
	// Responses[SelectedResponseIndex].Content.
	Responses             []ResponseVariant
	SelectedResponseIndex int

	WasContinuation         bool
	ClassificationReasoning string
	Metadata                map[string]any

	FailureReason string
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Attachments = slices.Clone(m.Attachments)
	if m.Responses != nil {
		out.Responses = make([]ResponseVariant, len(m.Responses))
		for i, v := range m.Responses {
			out.Responses[i] = v
			if v.Confidence != nil {
				c := *v.Confidence
				out.Responses[i].Confidence = &c
			}
		}
	}
	out.Metadata = maps.Clone(m.Metadata)
	return out
}

// PreferredVariant returns the variant marked preferred, if any.
func (m Message) PreferredVariant() (ResponseVariant, bool) {
	for _, v := range m.Responses {
		if v.IsPreferred {
			return v, true
		}
	}
	return ResponseVariant{}, false
}

// Thread summarizes one conversation for the thread list.
type Thread struct {
	ID                 string
	TitleSnippet       string
	LastMessagePreview string
	LastUpdatedAt      time.Time
	MessageCount       int
	IsActive           bool
}

// ChangeKind says which part of the state a Change touched.
type ChangeKind string

const (
	ChangeThreads  ChangeKind = "threads"
	ChangeMessages ChangeKind = "messages"
)

// Change notifies subscribers that state was mutated. Readers re-read the
// snapshot they care about.
type Change struct {
	Kind     ChangeKind
	ThreadID string
}
