//go:build sqlite
// +build sqlite

package loner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteQueueBackend implements the QueueBackend interface using SQLite.
// It provides ACID transactions and is suitable for single-server deployments.
type SQLiteQueueBackend struct {
	db *sql.DB
}

// NewSQLiteQueueBackend creates a new SQLite queue backend.
// The database file will be created if it doesn't exist.
// dbPath is the path to the SQLite database file.
func NewSQLiteQueueBackend(dbPath string) (*SQLiteQueueBackend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend := &SQLiteQueueBackend{db: db}

	// Initialize schema
	if err := backend.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

// Close closes the database connection
func (b *SQLiteQueueBackend) Close() error {
	return b.db.Close()
}

// initSchema initializes the database schema
func (b *SQLiteQueueBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_entries_queue_id ON queue_entries(queue, id);
	`

	_, err := b.db.Exec(schema)
	return err
}

// Enqueue appends a payload to the queue
func (b *SQLiteQueueBackend) Enqueue(ctx context.Context, queue string, payload []byte) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO queue_entries (queue, payload, created_at) VALUES (?, ?, ?)`,
		queue, payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// Dequeue removes and returns the oldest entry of the queue.
// Selection and deletion run as one statement, so concurrent callers never receive the same entry.
func (b *SQLiteQueueBackend) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, false, err
	}

	var payload []byte
	err = b.db.QueryRowContext(ctx, `
		DELETE FROM queue_entries
		WHERE id = (SELECT id FROM queue_entries WHERE queue = ? ORDER BY id ASC LIMIT 1)
		RETURNING payload
	`, queue).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to dequeue entry: %w", err)
	}
	return payload, true, nil
}

// ListAll returns every entry of the queue in enqueue order
func (b *SQLiteQueueBackend) ListAll(ctx context.Context, queue string) ([][]byte, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT payload FROM queue_entries WHERE queue = ? ORDER BY id ASC`,
		queue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([][]byte, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// DestroyQueue deletes every entry of the queue
func (b *SQLiteQueueBackend) DestroyQueue(ctx context.Context, queue string) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE queue = ?`, queue); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	return nil
}
