// ABOUTME: Controller composes the thread list and timeline and talks to the backend
// ABOUTME: Optimistic local updates are reconciled in the background, stale replies are dropped

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/trident/internal/preview"
	"github.com/2389/trident/internal/remote"
)

// Config tunes the Controller. Zero values fall back to defaults.
type Config struct {
	// Greeting is shown as the opening bot message of a new conversation.
	// Empty means DefaultGreeting.
	Greeting string
	// Provider and Model are sent with every message unless overridden.
	Provider string
	Model    string

	TitleLength   int
	PreviewLength int
}

// SendRequest is a user message to send on the viewed thread.
type SendRequest struct {
	Content     string
	Attachments []Attachment
	// Provider and Model override Config for this message.
	Provider string
	Model    string
}

// Controller is the only component that calls the remote service. All state
// mutations happen under one lock; network calls run outside it.
type Controller struct {
	mu       sync.Mutex
	remote   remote.Service
	threads  *ThreadStore
	timeline *Timeline
	inFlight map[string]string // server thread id -> sending user message id
	cfg      Config

	events *Broadcaster
	wg     sync.WaitGroup
	now    func() time.Time
	logger *slog.Logger
}

// NewController creates a controller showing a new conversation. Pass nil
// logger for default.
func NewController(svc remote.Service, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TitleLength <= 0 {
		cfg.TitleLength = DefaultTitleLength
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	if strings.TrimSpace(cfg.Greeting) == "" {
		cfg.Greeting = DefaultGreeting
	}

	c := &Controller{
		remote:   svc,
		threads:  NewThreadStore(logger),
		timeline: NewTimeline(logger),
		inFlight: make(map[string]string),
		cfg:      cfg,
		events:   NewBroadcaster(logger),
		now:      time.Now,
		logger:   logger.With("component", "controller"),
	}
	c.timeline.ResetToGreeting(cfg.Greeting)
	return c
}

// SendMessage appends the user message optimistically and posts it in the
// background. Validation and busy errors are returned before anything
// changes; the outcome of the post is reported through the handle.
func (c *Controller) SendMessage(ctx context.Context, req SendRequest) (*PendingSend, error) {
	c.mu.Lock()
	threadID := c.threads.CurrentID()
	if threadID != "" {
		if _, busy := c.inFlight[threadID]; busy {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: thread %s", ErrBusy, threadID)
		}
	}
	msgID, err := c.timeline.AppendUserMessage(req.Content, req.Attachments)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if threadID != "" {
		c.inFlight[threadID] = msgID
	}
	gen := c.threads.Generation()
	msg, _ := c.timeline.Message(msgID)
	c.wg.Add(1)
	c.mu.Unlock()

	c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})

	post := remote.PostMessageRequest{
		ThreadID: threadID,
		Message:  msg.Content,
		Provider: firstNonEmpty(req.Provider, c.cfg.Provider),
		Model:    firstNonEmpty(req.Model, c.cfg.Model),
	}
	p := &PendingSend{Pending: newPending(), MessageID: msgID}
	bg := context.WithoutCancel(ctx)

	c.logger.Debug("sending message", "thread_id", threadID, "message_id", msgID)

	go func() {
		defer c.wg.Done()
		reply, err := c.remote.PostMessage(bg, post)
		p.resolve(c.finishSend(threadID, gen, msgID, msg.Content, reply, err))
	}()

	return p, nil
}

func (c *Controller) finishSend(threadID string, gen uint64, msgID, query string, reply *remote.PostMessageReply, sendErr error) error {
	var changes []Change
	defer func() {
		for _, ch := range changes {
			c.events.Publish(ch)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if threadID != "" && c.inFlight[threadID] == msgID {
		delete(c.inFlight, threadID)
	}
	current := c.threads.IsCurrent(threadID, gen)

	if sendErr != nil {
		if current {
			c.timeline.ResolveSendFailure(msgID, sendErr)
			changes = append(changes, Change{Kind: ChangeMessages, ThreadID: threadID})
		} else {
			c.logger.Info("dropping failure for thread no longer viewed",
				"thread_id", threadID, "message_id", msgID, "error", sendErr)
		}
		return sendErr
	}

	classified, err := Classify(reply)
	if err != nil {
		c.logger.Warn("unrecognized chat reply", "thread_id", threadID, "error", err)
		if current {
			c.timeline.ResolveSendFailure(msgID, err)
			changes = append(changes, Change{Kind: ChangeMessages, ThreadID: threadID})
		}
		return err
	}

	serverID := firstNonEmpty(classified.ThreadID, threadID)
	classified.ThreadID = serverID
	sum := Summary{
		ThreadID:  serverID,
		Title:     preview.Snippet(query, c.cfg.TitleLength),
		Preview:   preview.Snippet(classified.DisplayContent, c.cfg.PreviewLength),
		UpdatedAt: parseTimeOr(reply.TimeUpdated, c.now()),
		AddTurns:  1,
	}
	changes = append(changes, Change{Kind: ChangeThreads, ThreadID: serverID})

	if !current {
		c.threads.RecordBackgroundSummary(sum)
		c.logger.Debug("reply for thread no longer viewed", "thread_id", serverID)
		return nil
	}

	if serverID != "" && serverID != c.timeline.ThreadID() {
		c.timeline.AdoptThreadID(serverID)
	}
	if !c.timeline.ResolveSendSuccess(msgID, classified) && serverID != "" {
		c.logger.Info("reply arrived after the timeline was reloaded, reloading thread",
			"thread_id", serverID, "message_id", msgID)
		c.resyncLocked(serverID)
	}
	if serverID == "" {
		c.logger.Warn("reply without thread id, thread list not updated")
	} else {
		c.threads.UpsertSummary(sum)
	}
	changes = append(changes, Change{Kind: ChangeMessages, ThreadID: serverID})
	return nil
}

// SelectVariant shows another variant of a bot message. Purely local.
func (c *Controller) SelectVariant(messageID string, index int) error {
	c.mu.Lock()
	err := c.timeline.SelectVariant(messageID, index)
	threadID := c.timeline.ThreadID()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})
	return nil
}

// MarkPreferred flags responseID as preferred right away and records it on
// the server in the background, rolling back if the server rejects it. An
// empty messageID picks the first message with that variant. Threads not yet
// known to the server are only updated locally.
func (c *Controller) MarkPreferred(ctx context.Context, responseID, messageID string) (*Pending, error) {
	c.mu.Lock()
	token, err := c.timeline.MarkPreferred(responseID, messageID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	threadID := firstNonEmpty(token.ThreadID, c.timeline.ThreadID())
	if threadID != "" {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})

	if threadID == "" {
		return settledPending(nil), nil
	}

	p := newPending()
	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.wg.Done()
		err := c.remote.MarkPreferredResponse(bg, threadID, responseID)
		if err != nil {
			c.logger.Warn("preference rejected, rolling back",
				"thread_id", threadID, "response_id", responseID, "error", err)
			c.mu.Lock()
			rerr := c.timeline.RollbackPreferred(token)
			c.mu.Unlock()
			if rerr == nil {
				c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})
			}
		}
		p.resolve(err)
	}()
	return p, nil
}

// SwitchThread makes threadID the viewed thread and loads its messages in
// the background. A result arriving after another switch is discarded.
func (c *Controller) SwitchThread(ctx context.Context, threadID string) (*Pending, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is empty", ErrValidation)
	}

	c.mu.Lock()
	gen := c.threads.Select(threadID)
	c.timeline.Reset(threadID, nil)
	c.wg.Add(1)
	c.mu.Unlock()

	c.events.Publish(Change{Kind: ChangeThreads, ThreadID: threadID})
	c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})

	p := newPending()
	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.wg.Done()
		detail, err := c.remote.GetThread(bg, threadID)

		c.mu.Lock()
		stale := c.threads.Generation() != gen
		if !stale && err == nil {
			c.timeline.Hydrate(threadID, HydrateMessages(detail))
		}
		c.mu.Unlock()

		switch {
		case stale:
			c.logger.Debug("discarding thread load after another switch", "thread_id", threadID)
		case err != nil:
			c.logger.Warn("loading thread failed", "thread_id", threadID, "error", err)
		default:
			c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})
		}
		p.resolve(err)
	}()
	return p, nil
}

// resyncLocked reloads threadID in the background and shows the result if
// nothing changed in the meantime. Must be called with mu held.
func (c *Controller) resyncLocked(threadID string) {
	gen := c.threads.Generation()
	n := c.timeline.Len()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		detail, err := c.remote.GetThread(context.Background(), threadID)
		if err != nil {
			c.logger.Warn("reloading thread failed", "thread_id", threadID, "error", err)
			return
		}

		c.mu.Lock()
		apply := c.threads.Generation() == gen && c.timeline.ThreadID() == threadID && c.timeline.Len() == n
		if apply {
			c.timeline.Reset(threadID, HydrateMessages(detail))
		}
		c.mu.Unlock()

		if apply {
			c.events.Publish(Change{Kind: ChangeMessages, ThreadID: threadID})
		} else {
			c.logger.Debug("discarding thread reload, view changed", "thread_id", threadID)
		}
	}()
}

// NewThread starts a new, not yet persisted conversation.
func (c *Controller) NewThread() {
	c.mu.Lock()
	c.threads.StartNew()
	c.timeline.ResetToGreeting(c.cfg.Greeting)
	c.mu.Unlock()

	c.events.Publish(Change{Kind: ChangeThreads})
	c.events.Publish(Change{Kind: ChangeMessages})
}

// LoadThreads fetches the thread list and replaces the local one. On failure
// the current list is kept.
func (c *Controller) LoadThreads(ctx context.Context) error {
	list, err := c.remote.ListThreads(ctx)
	if err != nil {
		c.logger.Warn("listing threads failed", "error", err)
		return err
	}

	threads := make([]Thread, 0, len(list.Threads))
	for _, s := range list.Threads {
		threads = append(threads, ThreadFromSummary(s, c.cfg.TitleLength, c.cfg.PreviewLength))
	}

	c.mu.Lock()
	c.threads.ReplaceAll(threads)
	c.mu.Unlock()

	c.logger.Debug("threads loaded", "count", len(threads))
	c.events.Publish(Change{Kind: ChangeThreads})
	return nil
}

// Threads returns the thread list, newest first.
func (c *Controller) Threads() []Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads.Snapshot()
}

// Messages returns the viewed thread's timeline.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Messages()
}

// CurrentThreadID returns the viewed thread; empty for a new conversation.
func (c *Controller) CurrentThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads.CurrentID()
}

// Subscribe returns a channel of change notices until ctx ends or the
// controller is closed.
func (c *Controller) Subscribe(ctx context.Context) (<-chan Change, string) {
	return c.events.Subscribe(ctx)
}

// Wait blocks until every background reconciliation has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close waits for background work and closes all subscriptions.
func (c *Controller) Close() {
	c.wg.Wait()
	c.events.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
