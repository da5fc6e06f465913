// ABOUTME: MessageTimeline holds the visible thread's messages and their variants
// ABOUTME: Optimistic user appends, send resolution, variant selection and preference rollback

package conversation

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timeline is the ordered message list of the thread being viewed. It is not
// safe for concurrent use; the Controller serializes access.
type Timeline struct {
	threadID string
	messages []*Message
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewTimeline creates an empty timeline. Pass nil logger for default.
func NewTimeline(logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		logger: logger.With("component", "timeline"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// PreferenceRollback captures the preferred flags of a message before
// MarkPreferred changed them.
type PreferenceRollback struct {
	MessageID  string
	ResponseID string
	ThreadID   string

	prior   []bool
	applied []bool
}

// AppendUserMessage appends a user message in the sending state and returns
// its id. Empty content without attachments is ErrValidation; a message
// still sending is ErrBusy.
func (t *Timeline) AppendUserMessage(content string, attachments []Attachment) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return "", fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if t.HasPending() {
		return "", ErrBusy
	}

	msg := &Message{
		ID:          t.newID(),
		ThreadID:    t.threadID,
		Role:        RoleUser,
		Content:     content,
		CreatedAt:   t.now(),
		Status:      StatusSending,
		Attachments: slices.Clone(attachments),
	}
	t.messages = append(t.messages, msg)
	return msg.ID, nil
}

// ResolveSendSuccess marks the user message delivered and appends the bot
// reply. It reports false, changing nothing, when the message is unknown or
// no longer sending.
func (t *Timeline) ResolveSendSuccess(userMessageID string, reply *ClassifiedReply) bool {
	msg := t.find(userMessageID)
	if msg == nil || msg.Role != RoleUser {
		t.logger.Warn("send resolved for unknown message", "message_id", userMessageID)
		return false
	}
	if msg.Status != StatusSending {
		t.logger.Warn("send resolved twice", "message_id", userMessageID, "status", msg.Status)
		return false
	}
	if reply == nil || len(reply.Variants) == 0 {
		t.logger.Warn("send resolved without variants", "message_id", userMessageID)
		return false
	}

	msg.Status = StatusDelivered
	if msg.ThreadID == "" {
		msg.ThreadID = reply.ThreadID
	}

	bot := Message{
		ID:                      t.newID(),
		ThreadID:                msg.ThreadID,
		Role:                    RoleBot,
		Content:                 reply.DisplayContent,
		CreatedAt:               t.now(),
		Responses:               reply.Variants,
		WasContinuation:         reply.WasContinuation,
		ClassificationReasoning: reply.ClassificationReasoning,
		Metadata:                reply.Metadata,
	}
	bot = bot.Clone()
	t.messages = append(t.messages, &bot)
	return true
}

// ResolveSendFailure marks the user message failed with the reason. A
// message that already failed is left as is and reported true.
func (t *Timeline) ResolveSendFailure(userMessageID string, cause error) bool {
	msg := t.find(userMessageID)
	if msg == nil || msg.Role != RoleUser {
		t.logger.Warn("send failure for unknown message", "message_id", userMessageID)
		return false
	}
	switch msg.Status {
	case StatusFailed:
		return true
	case StatusDelivered:
		t.logger.Warn("send failure after delivery ignored", "message_id", userMessageID)
		return false
	}

	msg.Status = StatusFailed
	if cause != nil {
		msg.FailureReason = cause.Error()
	}
	return true
}

// SelectVariant shows the variant at index for messageID.
func (t *Timeline) SelectVariant(messageID string, index int) error {
	msg := t.find(messageID)
	if msg == nil {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if index < 0 || index >= len(msg.Responses) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(msg.Responses))
	}
	msg.SelectedResponseIndex = index
	msg.Content = msg.Responses[index].Content
	return nil
}

// MarkPreferred makes responseID the only preferred variant of its message.
// With an empty messageID the first message in timeline order that has a
// variant with that id is used.
func (t *Timeline) MarkPreferred(responseID, messageID string) (*PreferenceRollback, error) {
	msg, idx := t.findVariant(responseID, messageID)
	if msg == nil {
		return nil, fmt.Errorf("%w: response %s", ErrNotFound, responseID)
	}

	token := &PreferenceRollback{
		MessageID:  msg.ID,
		ResponseID: responseID,
		ThreadID:   msg.ThreadID,
		prior:      preferredFlags(msg),
	}
	for i := range msg.Responses {
		msg.Responses[i].IsPreferred = i == idx
	}
	token.applied = preferredFlags(msg)
	return token, nil
}

// RollbackPreferred restores the flags captured by token. If the flags were
// changed again since, the newer state is kept.
func (t *Timeline) RollbackPreferred(token *PreferenceRollback) error {
	if token == nil {
		return fmt.Errorf("%w: nil rollback token", ErrValidation)
	}
	msg := t.find(token.MessageID)
	if msg == nil || len(msg.Responses) != len(token.prior) {
		return fmt.Errorf("%w: message %s", ErrNotFound, token.MessageID)
	}
	if !slices.Equal(preferredFlags(msg), token.applied) {
		t.logger.Debug("preference changed since optimistic update, keeping newer state",
			"message_id", token.MessageID)
		return nil
	}
	for i := range msg.Responses {
		msg.Responses[i].IsPreferred = token.prior[i]
	}
	return nil
}

// Reset replaces the timeline with messages for threadID.
func (t *Timeline) Reset(threadID string, messages []Message) {
	t.threadID = threadID
	t.messages = make([]*Message, 0, len(messages))
	for _, m := range messages {
		c := m.Clone()
		t.messages = append(t.messages, &c)
	}
}

// Hydrate puts the loaded messages of threadID in front of whatever was
// appended since the timeline was reset for it, so a message sent while the
// thread was loading keeps its place. A timeline showing another thread is
// replaced outright.
func (t *Timeline) Hydrate(threadID string, loaded []Message) {
	if t.threadID != threadID {
		t.Reset(threadID, loaded)
		return
	}
	merged := make([]*Message, 0, len(loaded)+len(t.messages))
	for _, m := range loaded {
		c := m.Clone()
		merged = append(merged, &c)
	}
	t.messages = append(merged, t.messages...)
}

// ResetToGreeting empties the timeline for a new conversation and shows text
// as its opening bot message. Blank text falls back to DefaultGreeting.
func (t *Timeline) ResetToGreeting(text string) {
	if strings.TrimSpace(text) == "" {
		text = DefaultGreeting
	}
	t.threadID = ""
	t.messages = []*Message{{
		ID:        t.newID(),
		Role:      RoleBot,
		Content:   text,
		CreatedAt: t.now(),
	}}
}

// AdoptThreadID records the server-assigned id on the timeline and on every
// message that has no thread yet.
func (t *Timeline) AdoptThreadID(threadID string) {
	prev := t.threadID
	t.threadID = threadID
	for _, m := range t.messages {
		if m.ThreadID == "" || m.ThreadID == prev {
			m.ThreadID = threadID
		}
	}
}

// ThreadID returns the thread the timeline belongs to; empty for a new one.
func (t *Timeline) ThreadID() string { return t.threadID }

// HasPending reports whether any user message is still sending.
func (t *Timeline) HasPending() bool {
	for _, m := range t.messages {
		if m.Status == StatusSending {
			return true
		}
	}
	return false
}

// Messages returns a deep copy of the timeline.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Message returns a copy of the message with id.
func (t *Timeline) Message(id string) (Message, bool) {
	m := t.find(id)
	if m == nil {
		return Message{}, false
	}
	return m.Clone(), true
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.messages) }

func (t *Timeline) find(id string) *Message {
	for _, m := range t.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (t *Timeline) findVariant(responseID, messageID string) (*Message, int) {
	if messageID != "" {
		msg := t.find(messageID)
		if msg == nil {
			return nil, -1
		}
		if i := variantIndex(msg, responseID); i >= 0 {
			return msg, i
		}
		return nil, -1
	}
	for _, msg := range t.messages {
		if i := variantIndex(msg, responseID); i >= 0 {
			return msg, i
		}
	}
	return nil, -1
}

func variantIndex(msg *Message, responseID string) int {
	return slices.IndexFunc(msg.Responses, func(v ResponseVariant) bool {
		return v.ID == responseID
	})
}

func preferredFlags(msg *Message) []bool {
	flags := make([]bool, len(msg.Responses))
	for i, v := range msg.Responses {
		flags[i] = v.IsPreferred
	}
	return flags
}
