// Package store provides the SQLite-backed record store for the user
// directory.
//
// The database runs in embedded mode with WAL enabled so background
// refreshes and foreground queries can proceed concurrently. The store is
// the single synchronization point between them: upserts are atomic
// batches, and reads always observe the latest committed batch
// (read-after-write consistency for same-process callers).
//
// After every successful upsert commit the store notifies its registered
// listeners. The query stream subscribes to these notifications to
// invalidate and re-run its current query.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Sashemishi/userdir/internal/record"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with record-table operations and
// change notification.
type Store struct {
	conn *sql.DB
	path string

	mu        sync.Mutex
	listeners map[int]chan struct{}
	nextID    int
}

// Open creates a store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close when done.
//
// Example:
//
//	st, err := store.Open("~/.userdir/userdir.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:      conn,
		path:      path,
		listeners: make(map[int]chan struct{}),
	}

	// WAL lets queries proceed while an upsert batch commits.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the records table if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_records_name ON records(name COLLATE NOCASE);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertAll atomically inserts or replaces the given records.
//
// Each record replaces any existing record with the same ID in full; no
// field-level merging. The batch is all-or-nothing: on any failure the
// transaction is rolled back and the store is left exactly as before the
// call. Registered listeners are notified only after a successful commit.
//
// An empty batch is a no-op and emits no notification.
func (s *Store) UpsertAll(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO records (id, name, email, phone)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		phone = excluded.phone
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Email, r.Phone); err != nil {
			return fmt.Errorf("failed to upsert record %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert batch: %w", err)
	}

	s.notify()
	return nil
}

// QueryAll returns every record ordered by name ascending.
//
// Ordering uses SQLite's NOCASE collation (ASCII case folding) with ID as
// the tiebreaker, so results are stable across calls.
func (s *Store) QueryAll(ctx context.Context) ([]record.Record, error) {
	query := `
	SELECT id, name, email, phone
	FROM records
	ORDER BY name COLLATE NOCASE ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// QuerySubstring returns records whose name or email contains text,
// case-insensitive, ordered like QueryAll. A record matching on both
// fields appears once. Blank or whitespace-only text is equivalent to
// QueryAll.
func (s *Store) QuerySubstring(ctx context.Context, text string) ([]record.Record, error) {
	if strings.TrimSpace(text) == "" {
		return s.QueryAll(ctx)
	}

	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"

	query := `
	SELECT id, name, email, phone
	FROM records
	WHERE lower(name) LIKE ? ESCAPE '\'
	   OR lower(email) LIKE ? ESCAPE '\'
	ORDER BY name COLLATE NOCASE ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query records matching %q: %w", text, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the total number of records in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Subscribe registers a change listener and returns its signal channel
// along with an unsubscribe func.
//
// The channel receives one (coalesced) signal after each successful
// upsert commit; a slow listener never blocks the writer. The
// unsubscribe func closes the channel and must be called exactly once.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan struct{}, 1)
	s.listeners[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(ch)
		}
	}

	return ch, cancel
}

// notify signals all registered listeners without blocking.
// A listener that already has a pending signal is skipped; one pending
// signal is enough to trigger a re-query of the latest committed state.
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// scanRecords is a helper to scan multiple records from query results.
func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	var records []record.Record

	for rows.Next() {
		var r record.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}
