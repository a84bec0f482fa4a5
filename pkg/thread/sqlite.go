package thread

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema
// is created if it doesn't exist; parent directories are created if needed.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Thread store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user_id ON threads(user_id);

		CREATE TABLE IF NOT EXISTS items (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_items_thread_id ON items(thread_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateThread creates a new thread owned by the user
func (s *SQLiteStore) CreateThread(ctx context.Context, userID, title string) (Thread, error) {
	now := s.now().UTC()
	t := Thread{
		ID:        NewItemID("thr"),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return Thread{}, &StorageError{Op: "create thread", Err: err}
	}
	return t, nil
}

// GetThread loads a thread by ID
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var t Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM threads WHERE id = ?`,
		threadID,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return Thread{}, &StorageError{Op: "get thread", Err: err}
	}
	return t, nil
}

// LoadRecent returns the last limit items of the thread in chronological order
func (s *SQLiteStore) LoadRecent(ctx context.Context, threadID string, limit int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at
		 FROM items WHERE thread_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, &StorageError{Op: "load items", Err: err}
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.Role, &item.Content, &item.CreatedAt); err != nil {
			return nil, &StorageError{Op: "scan item", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "load items", Err: err}
	}

	// The query walks backwards from the tail; flip to chronological order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Append persists one item at the end of the thread
func (s *SQLiteStore) Append(ctx context.Context, threadID string, item Item) error {
	if item.ID == "" {
		item.ID = s.GenerateItemID("msg", threadID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "append item", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, threadID, item.Role, item.Content, item.CreatedAt,
	)
	if err != nil {
		return &StorageError{Op: "append item", Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		item.CreatedAt, threadID,
	)
	if err != nil {
		return &StorageError{Op: "touch thread", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "append item", Err: err}
	}
	return nil
}

// GenerateItemID mints a new item identifier of the given kind
func (s *SQLiteStore) GenerateItemID(kind, threadID string) string {
	return NewItemID(kind)
}

// PruneOlderThan deletes threads not updated since the cutoff, together
// with their items. Returns the number of threads removed.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, &StorageError{Op: "prune threads", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "prune threads", Err: err}
	}
	return n, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
