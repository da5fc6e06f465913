// ABOUTME: ThreadStore tracks thread summaries and which thread is being viewed
// ABOUTME: Each view change bumps a generation used to detect stale replies

package conversation

import (
	"log/slog"
	"time"
)

// Summary is the outcome of one completed turn, applied to the thread list.
type Summary struct {
	ThreadID  string
	Title     string // used when the thread is not listed yet
	Preview   string
	UpdatedAt time.Time
	AddTurns  int
}

// ThreadStore holds the thread list, newest first, and the current thread
// pointer. It is not safe for concurrent use; the Controller serializes
// access.
type ThreadStore struct {
	threads []*Thread
	current string
	gen     uint64
	logger  *slog.Logger
}

// NewThreadStore creates an empty store. Pass nil logger for default.
func NewThreadStore(logger *slog.Logger) *ThreadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadStore{logger: logger.With("component", "threads")}
}

// ReplaceAll swaps in a freshly listed collection. The current thread stays
// current and active if it is still listed.
func (s *ThreadStore) ReplaceAll(threads []Thread) {
	s.threads = make([]*Thread, 0, len(threads))
	for _, th := range threads {
		th.IsActive = s.current != "" && th.ID == s.current
		s.threads = append(s.threads, &th)
	}
}

// Select makes threadID the current thread and returns the new view
// generation.
func (s *ThreadStore) Select(threadID string) uint64 {
	s.current = threadID
	s.gen++
	s.activate(threadID)
	return s.gen
}

// StartNew clears the current thread for a not-yet-persisted conversation
// and returns the new view generation.
func (s *ThreadStore) StartNew() uint64 {
	s.current = ""
	s.gen++
	s.activate("")
	return s.gen
}

// UpsertSummary applies a completed turn of the viewed thread. An unknown
// thread is prepended and becomes the current one.
func (s *ThreadStore) UpsertSummary(sum Summary) {
	if sum.ThreadID == "" {
		return
	}
	if th := s.moveToFront(sum.ThreadID); th != nil {
		apply(th, sum)
	} else {
		s.prepend(sum)
	}
	s.current = sum.ThreadID
	s.activate(sum.ThreadID)
}

// RecordBackgroundSummary applies a completed turn of a thread that is no
// longer viewed. An unknown thread is prepended inactive.
func (s *ThreadStore) RecordBackgroundSummary(sum Summary) {
	if sum.ThreadID == "" {
		return
	}
	if th := s.moveToFront(sum.ThreadID); th != nil {
		apply(th, sum)
		return
	}
	s.prepend(sum)
	s.threads[0].IsActive = false
	s.logger.Debug("recorded summary for background thread", "thread_id", sum.ThreadID)
}

// CurrentID returns the viewed thread's id; empty for a new conversation.
func (s *ThreadStore) CurrentID() string { return s.current }

// Generation returns the view generation.
func (s *ThreadStore) Generation() uint64 { return s.gen }

// IsCurrent reports whether a reply for threadID issued at generation gen
// still belongs to the view. A known thread matches by id; a new thread
// also needs an unchanged generation.
func (s *ThreadStore) IsCurrent(threadID string, gen uint64) bool {
	if threadID != "" {
		return s.current == threadID
	}
	return s.current == "" && s.gen == gen
}

// Get returns a copy of the thread with id.
func (s *ThreadStore) Get(id string) (Thread, bool) {
	for _, th := range s.threads {
		if th.ID == id {
			return *th, true
		}
	}
	return Thread{}, false
}

// Snapshot returns a copy of the list, newest first.
func (s *ThreadStore) Snapshot() []Thread {
	out := make([]Thread, len(s.threads))
	for i, th := range s.threads {
		out[i] = *th
	}
	return out
}

func (s *ThreadStore) activate(threadID string) {
	for _, th := range s.threads {
		th.IsActive = threadID != "" && th.ID == threadID
	}
}

func (s *ThreadStore) moveToFront(threadID string) *Thread {
	for i, th := range s.threads {
		if th.ID != threadID {
			continue
		}
		copy(s.threads[1:i+1], s.threads[:i])
		s.threads[0] = th
		return th
	}
	return nil
}

func (s *ThreadStore) prepend(sum Summary) {
	th := &Thread{ID: sum.ThreadID, TitleSnippet: sum.Title}
	apply(th, sum)
	s.threads = append([]*Thread{th}, s.threads...)
}

func apply(th *Thread, sum Summary) {
	if sum.Preview != "" {
		th.LastMessagePreview = sum.Preview
	}
	if !sum.UpdatedAt.IsZero() {
		th.LastUpdatedAt = sum.UpdatedAt
	}
	if th.TitleSnippet == "" {
		th.TitleSnippet = sum.Title
	}
	th.MessageCount += sum.AddTurns
}
