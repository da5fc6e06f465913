// Package store provides persistent storage for the development backend
// using SQLite.
//
// # Data Models
//
//   - Thread: a conversation owned by one user, carrying the keyed answers
//     of its latest new topic and a free-form metadata map
//   - Turn: one query and the answer stored for it, numbered from 1
//   - ThreadSummary: a listed thread with its turn count and latest turn
//
// Preferences recorded through switch_response live in
// Thread.Metadata["preferences"], keyed by response key.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC text so ORDER BY on them is
// chronological.
//
// # Error Handling
//
//   - ErrNotFound: requested thread does not exist
//   - ErrDuplicateThread: thread id already taken
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests with real SQLite.
package store
