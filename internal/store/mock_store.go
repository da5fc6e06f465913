// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread // keyed by thread ID
	turns   map[string][]*Turn // keyed by thread ID
	order   map[string]int     // insertion order, breaks updated_at ties
	next    int
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		threads: make(map[string]*Thread),
		turns:   make(map[string][]*Turn),
		order:   make(map[string]int),
	}
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.threads[thread.ID]; exists {
		return ErrDuplicateThread
	}

	m.threads[thread.ID] = copyThread(thread)
	m.next++
	m.order[thread.ID] = m.next
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(t), nil
}

// UpdateThread replaces the responses, metadata and updated_at of a thread.
func (m *MockStore) UpdateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.threads[thread.ID]
	if !ok {
		return ErrNotFound
	}

	updated := copyThread(thread)
	updated.UserID = existing.UserID
	updated.Query = existing.Query
	updated.CreatedAt = existing.CreatedAt
	m.threads[thread.ID] = updated
	return nil
}

// ListThreads retrieves a page of the user's threads ordered by most recent activity.
func (m *MockStore) ListThreads(ctx context.Context, userID string, limit, skip int) ([]*ThreadSummary, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit, skip = clampPage(limit, skip)

	var owned []*Thread
	for _, t := range m.threads {
		if t.UserID == userID {
			owned = append(owned, t)
		}
	}

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
		}
		return m.order[owned[i].ID] > m.order[owned[j].ID]
	})

	total := len(owned)
	if skip >= total {
		return nil, total, nil
	}
	end := min(skip+limit, total)

	summaries := make([]*ThreadSummary, 0, end-skip)
	for _, t := range owned[skip:end] {
		turns := m.turns[t.ID]
		sum := &ThreadSummary{Thread: copyThread(t), TurnCount: len(turns)}
		if len(turns) > 0 {
			sum.LastTurn = copyTurn(turns[len(turns)-1])
		}
		summaries = append(summaries, sum)
	}
	return summaries, total, nil
}

// AppendTurn adds a turn at the end of its thread.
func (m *MockStore) AppendTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[turn.ThreadID]
	if !ok {
		return ErrNotFound
	}

	turn.Seq = len(m.turns[turn.ThreadID]) + 1
	m.turns[turn.ThreadID] = append(m.turns[turn.ThreadID], copyTurn(turn))
	t.UpdatedAt = turn.CreatedAt
	return nil
}

// SaveTurn creates or updates the thread and appends the turn under one lock.
func (m *MockStore) SaveTurn(ctx context.Context, thread *Thread, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := copyThread(thread)
	if existing, ok := m.threads[thread.ID]; ok {
		saved.UserID = existing.UserID
		saved.Query = existing.Query
		saved.CreatedAt = existing.CreatedAt
	} else {
		m.next++
		m.order[thread.ID] = m.next
	}
	m.threads[thread.ID] = saved

	turn.ThreadID = thread.ID
	turn.Seq = len(m.turns[thread.ID]) + 1
	m.turns[thread.ID] = append(m.turns[thread.ID], copyTurn(turn))
	return nil
}

// Stats counts the user's threads and turns.
func (m *MockStore) Stats(ctx context.Context, userID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for id, t := range m.threads {
		if t.UserID == userID {
			stats.Threads++
			stats.Turns += len(m.turns[id])
		}
	}
	return &stats, nil
}

// GetTurns retrieves all turns of a thread in order.
func (m *MockStore) GetTurns(ctx context.Context, threadID string) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := make([]*Turn, 0, len(m.turns[threadID]))
	for _, turn := range m.turns[threadID] {
		turns = append(turns, copyTurn(turn))
	}
	return turns, nil
}

// SetPreference records the preferred flag for a response key.
func (m *MockStore) SetPreference(ctx context.Context, threadID, key string, preferred bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}

	setPreference(t, key, preferred)
	t.UpdatedAt = at
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// copyThread deep-copies a thread so callers never share maps with the store.
func copyThread(t *Thread) *Thread {
	c := *t
	c.Responses = append([]Response(nil), t.Responses...)
	c.Metadata = copyMap(t.Metadata)
	return &c
}

func copyTurn(t *Turn) *Turn {
	c := *t
	c.Metadata = copyMap(t.Metadata)
	return &c
}

// copyMap round-trips through JSON, which also normalizes values to the
// shapes the SQLite store returns.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
