// ABOUTME: Store interface and data types for trident backend persistence
// ABOUTME: Defines Thread, Turn, Response and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Metadata keys the backend writes into Thread.Metadata.
const (
	MetaUserID      = "user_id"
	MetaProvider    = "provider"
	MetaModel       = "model"
	MetaPreferences = "preferences"
)

// Response is one keyed answer of the latest new-topic turn.
type Response struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

// Thread is a conversation owned by one user.
type Thread struct {
	ID        string
	UserID    string
	Query     string     // the query that opened the thread
	Responses []Response // answers to the latest new topic, in order
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Preferences returns the preferred flag recorded per response key.
func (t *Thread) Preferences() map[string]bool {
	out := make(map[string]bool)
	if t == nil {
		return out
	}
	prefs, ok := t.Metadata[MetaPreferences].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range prefs {
		if b, ok := v.(bool); ok {
			out[k] = b
		}
	}
	return out
}

// Turn is one user query and the answer stored for it.
type Turn struct {
	ThreadID  string
	Seq       int // 1-based position within the thread, assigned by AppendTurn
	Query     string
	Response  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ThreadSummary is a listed thread with its turn count and latest turn.
type ThreadSummary struct {
	Thread    *Thread
	TurnCount int
	LastTurn  *Turn // nil for a thread without turns
}

// Stats counts what one user has stored.
type Stats struct {
	Threads int
	Turns   int
}

// Store defines the persistence operations of the backend.
type Store interface {
	// CreateThread stores a new thread. Returns ErrDuplicateThread if the id is taken.
	CreateThread(ctx context.Context, thread *Thread) error

	// GetThread retrieves a thread by id. Returns ErrNotFound if absent.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// UpdateThread replaces the responses, metadata and updated_at of a thread.
	UpdateThread(ctx context.Context, thread *Thread) error

	// ListThreads returns a page of a user's threads, most recently updated
	// first, together with the user's total thread count.
	ListThreads(ctx context.Context, userID string, limit, skip int) ([]*ThreadSummary, int, error)

	// AppendTurn adds a turn to a thread, assigns its Seq and bumps the
	// thread's updated_at to the turn's CreatedAt.
	AppendTurn(ctx context.Context, turn *Turn) error

	// SaveTurn inserts thread if it is new, otherwise replaces its responses,
	// metadata and updated_at, and appends turn to it. Both writes happen or
	// neither does.
	SaveTurn(ctx context.Context, thread *Thread, turn *Turn) error

	// GetTurns returns a thread's turns in order.
	GetTurns(ctx context.Context, threadID string) ([]*Turn, error)

	// SetPreference records the preferred flag for a response key. Preferring
	// a key clears the flag on the thread's other keys.
	SetPreference(ctx context.Context, threadID, key string, preferred bool, at time.Time) error

	// Stats counts a user's threads and turns.
	Stats(ctx context.Context, userID string) (*Stats, error)

	Close() error
}
