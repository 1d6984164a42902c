// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package queue implements the durable offline event queue. Events wait
// here until the activity sink accepts them; rows survive restarts and
// crashes, giving at-least-once delivery.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/metrics"
)

// FileName is the queue database file under the state directory.
const FileName = "agent_queue.sqlite"

// maxErrorLen bounds the stored last_error text.
const maxErrorLen = 500

// Row is one queued event with its local id.
type Row struct {
	ID    int64
	Event event.ActivityEvent
}

// Store provides SQLite persistence for the offline queue.
type Store struct {
	db *sql.DB
}

// Open initializes the queue database and runs migrations.
// WAL mode plus busy_timeout keeps the single-writer workload from
// tripping over "database locked" errors.
func Open(dbPath string) (*Store, error) {
	// modernc.org/sqlite takes pragmas as _pragma=name(value) URI
	// parameters; they apply to every connection the pool opens.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// One engine process owns the queue; a single connection avoids
	// writer contention entirely.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping queue database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run queue migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_queue_created_at ON activity_queue(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// EnqueueMany appends events in order inside one transaction; either all
// rows commit or none do. Returns the number of rows written.
func (s *Store) EnqueueMany(ctx context.Context, events []event.ActivityEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity_queue(payload) VALUES (?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare enqueue: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		payload, err := ev.Encode()
		if err != nil {
			return 0, fmt.Errorf("serialize event %s: %w", ev.ActivityType, err)
		}
		if _, err := stmt.ExecContext(ctx, string(payload)); err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}

	metrics.RecordEnqueued(len(events))
	return len(events), nil
}

// DequeueBatch returns up to limit rows ordered by ascending id without
// removing them. Callers delete delivered rows via MarkSent; a crash in
// between re-delivers on the next run.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM activity_queue ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		ev, err := event.Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode queue row %d: %w", id, err)
		}
		out = append(out, Row{ID: id, Event: ev})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return out, nil
}

// MarkSent deletes delivered rows. No-op on an empty id list.
func (s *Store) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM activity_queue WHERE id IN (%s)`, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, idArgs(ids)...); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed increments the attempt counter and records the error text
// (truncated) for the given rows. No-op on an empty id list.
func (s *Store) MarkFailed(ctx context.Context, ids []int64, cause string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(cause) > maxErrorLen {
		cause = cause[:maxErrorLen]
	}
	query := fmt.Sprintf(
		`UPDATE activity_queue SET attempts = attempts + 1, last_error = ? WHERE id IN (%s)`,
		placeholders(len(ids)))
	args := append([]any{cause}, idArgs(ids)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Size returns the exact number of queued rows.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	metrics.SetQueueDepth(count)
	return count, nil
}

// Attempts returns the attempt counter and last error for a row, mainly
// for tests and the diagnostics endpoint.
func (s *Store) Attempts(ctx context.Context, id int64) (int, string, error) {
	var (
		attempts  int
		lastError sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts, last_error FROM activity_queue WHERE id = ?`, id).
		Scan(&attempts, &lastError)
	if err != nil {
		return 0, "", fmt.Errorf("queue attempts for row %d: %w", id, err)
	}
	return attempts, lastError.String, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
