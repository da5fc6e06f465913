// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout keeps stored timestamps fixed-width so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: pragmas apply to every query and writers never race.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			responses TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user_updated
			ON threads(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, seq),
			FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateThread creates a new thread in the database.
// If a thread with the same id already exists, it returns ErrDuplicateThread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	responses, metadata, err := encodeThread(thread)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO threads (id, user_id, query, responses, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		thread.ID,
		thread.UserID,
		thread.Query,
		responses,
		metadata,
		formatTime(thread.CreatedAt),
		formatTime(thread.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "user", thread.UserID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	return getThread(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getThread(ctx context.Context, q queryRower, id string) (*Thread, error) {
	query := `
		SELECT id, user_id, query, responses, metadata, created_at, updated_at
		FROM threads
		WHERE id = ?
	`

	thread, err := scanThread(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return thread, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner, extra ...any) (*Thread, error) {
	var thread Thread
	var responses, metadata, createdAtStr, updatedAtStr string

	dest := append([]any{
		&thread.ID,
		&thread.UserID,
		&thread.Query,
		&responses,
		&metadata,
		&createdAtStr,
		&updatedAtStr,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(responses), &thread.Responses); err != nil {
		return nil, fmt.Errorf("decoding responses: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &thread.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	var err error
	thread.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &thread, nil
}

// UpdateThread updates the mutable columns of an existing thread.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) UpdateThread(ctx context.Context, thread *Thread) error {
	responses, metadata, err := encodeThread(thread)
	if err != nil {
		return err
	}

	query := `
		UPDATE threads
		SET responses = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, responses, metadata, formatTime(thread.UpdatedAt), thread.ID)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	return expectOneRow(result)
}

// ListThreads retrieves a page of the user's threads ordered by most recent activity.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID string, limit, skip int) ([]*ThreadSummary, int, error) {
	limit, skip = clampPage(limit, skip)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting threads: %w", err)
	}

	query := `
		SELECT t.id, t.user_id, t.query, t.responses, t.metadata, t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM turns WHERE thread_id = t.id)
		FROM threads t
		WHERE t.user_id = ?
		ORDER BY t.updated_at DESC, t.rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("querying threads: %w", err)
	}

	var summaries []*ThreadSummary
	for rows.Next() {
		var count int
		thread, err := scanThread(rows, &count)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scanning thread: %w", err)
		}
		summaries = append(summaries, &ThreadSummary{Thread: thread, TurnCount: count})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, fmt.Errorf("iterating threads: %w", err)
	}
	rows.Close()

	for _, sum := range summaries {
		if sum.TurnCount == 0 {
			continue
		}
		last, err := s.lastTurn(ctx, sum.Thread.ID)
		if err != nil {
			return nil, 0, err
		}
		sum.LastTurn = last
	}

	return summaries, total, nil
}

func (s *SQLiteStore) lastTurn(ctx context.Context, threadID string) (*Turn, error) {
	query := `
		SELECT thread_id, seq, query, response, metadata, created_at
		FROM turns
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	turn, err := scanTurn(s.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		return nil, fmt.Errorf("querying last turn: %w", err)
	}
	return turn, nil
}

// AppendTurn adds a turn at the end of its thread.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *Turn) error {
	metadata, err := encodeMetadata(turn.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`,
		formatTime(turn.CreatedAt), turn.ThreadID)
	if err != nil {
		return fmt.Errorf("touching thread: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	seq, err := insertTurn(ctx, tx, turn, metadata)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	turn.Seq = seq
	s.logger.Debug("appended turn", "thread_id", turn.ThreadID, "seq", seq)
	return nil
}

// SaveTurn upserts the thread and appends the turn in one transaction.
func (s *SQLiteStore) SaveTurn(ctx context.Context, thread *Thread, turn *Turn) error {
	responses, threadMeta, err := encodeThread(thread)
	if err != nil {
		return err
	}
	turnMeta, err := encodeMetadata(turn.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO threads (id, user_id, query, responses, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			responses = excluded.responses,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		thread.ID,
		thread.UserID,
		thread.Query,
		responses,
		threadMeta,
		formatTime(thread.CreatedAt),
		formatTime(thread.UpdatedAt),
	); err != nil {
		return fmt.Errorf("saving thread: %w", err)
	}

	turn.ThreadID = thread.ID
	seq, err := insertTurn(ctx, tx, turn, turnMeta)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	turn.Seq = seq
	s.logger.Debug("saved turn", "thread_id", thread.ID, "seq", seq)
	return nil
}

// insertTurn appends turn after the thread's last turn and returns its seq.
func insertTurn(ctx context.Context, tx *sql.Tx, turn *Turn, metadata string) (int, error) {
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE thread_id = ?`,
		turn.ThreadID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating turn sequence: %w", err)
	}

	query := `
		INSERT INTO turns (thread_id, seq, query, response, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		turn.ThreadID,
		seq,
		turn.Query,
		turn.Response,
		metadata,
		formatTime(turn.CreatedAt),
	); err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	return seq, nil
}

// Stats counts the user's threads and the turns stored in them.
func (s *SQLiteStore) Stats(ctx context.Context, userID string) (*Stats, error) {
	query := `
		SELECT COUNT(DISTINCT th.id), COUNT(tu.seq)
		FROM threads th
		LEFT JOIN turns tu ON tu.thread_id = th.id
		WHERE th.user_id = ?
	`
	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&stats.Threads, &stats.Turns); err != nil {
		return nil, fmt.Errorf("counting threads and turns: %w", err)
	}
	return &stats, nil
}

// GetTurns retrieves all turns of a thread in order.
// Returns an empty slice if the thread has none.
func (s *SQLiteStore) GetTurns(ctx context.Context, threadID string) ([]*Turn, error) {
	query := `
		SELECT thread_id, seq, query, response, metadata, created_at
		FROM turns
		WHERE thread_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*Turn, 0)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

func scanTurn(row scanner) (*Turn, error) {
	var turn Turn
	var metadata, createdAtStr string

	if err := row.Scan(&turn.ThreadID, &turn.Seq, &turn.Query, &turn.Response, &metadata, &createdAtStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &turn.Metadata); err != nil {
		return nil, fmt.Errorf("decoding turn metadata: %w", err)
	}

	var err error
	turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &turn, nil
}

// SetPreference writes metadata.preferences[key] for a thread and bumps updated_at.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) SetPreference(ctx context.Context, threadID, key string, preferred bool, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	thread, err := getThread(ctx, tx, threadID)
	if err != nil {
		return err
	}

	setPreference(thread, key, preferred)
	metadata, err := encodeMetadata(thread.Metadata)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET metadata = ?, updated_at = ? WHERE id = ?`,
		metadata, formatTime(at), threadID); err != nil {
		return fmt.Errorf("updating preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing preference: %w", err)
	}

	s.logger.Debug("set preference", "thread_id", threadID, "response_key", key, "preferred", preferred)
	return nil
}

// setPreference writes the flag into the thread's metadata map. At most one
// key stays preferred.
func setPreference(thread *Thread, key string, preferred bool) {
	if thread.Metadata == nil {
		thread.Metadata = make(map[string]any)
	}
	prefs, ok := thread.Metadata[MetaPreferences].(map[string]any)
	if !ok {
		prefs = make(map[string]any)
		thread.Metadata[MetaPreferences] = prefs
	}
	if preferred {
		for k := range prefs {
			prefs[k] = false
		}
	}
	prefs[key] = preferred
}

func encodeThread(thread *Thread) (string, string, error) {
	responses := thread.Responses
	if responses == nil {
		responses = []Response{}
	}
	rb, err := json.Marshal(responses)
	if err != nil {
		return "", "", fmt.Errorf("encoding responses: %w", err)
	}
	metadata, err := encodeMetadata(thread.Metadata)
	if err != nil {
		return "", "", err
	}
	return string(rb), metadata, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// clampPage bounds a page request the way the HTTP layer documents it.
func clampPage(limit, skip int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}
