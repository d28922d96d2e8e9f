// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlitestore implements the checkpoint.Checkpointer contract on
// top of database/sql and github.com/mattn/go-sqlite3, generalized from
// the teacher's session-state-keyed storage.go into a dedicated
// checkpoints/pending_writes schema since this engine has no session
// service of its own to piggyback on.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kestrelrun/agentloop/pkg/checkpoint"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id   TEXT PRIMARY KEY,
	etag        TEXT NOT NULL,
	state_json  BLOB NOT NULL,
	saved_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_writes (
	thread_id     TEXT NOT NULL,
	call_id       TEXT NOT NULL,
	function_name TEXT NOT NULL,
	result_json   TEXT NOT NULL,
	completed_at  DATETIME NOT NULL,
	iteration     INTEGER NOT NULL,
	PRIMARY KEY (thread_id, call_id)
);
`

// Store is a sqlite-backed checkpoint.Checkpointer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and
// ensures the checkpoint schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists doc, enforcing the optimistic-concurrency check against
// prevETag in a single transaction.
func (s *Store) Save(ctx context.Context, doc checkpoint.Document, prevETag string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentETag string
	err = tx.QueryRowContext(ctx, `SELECT etag FROM checkpoints WHERE thread_id = ?`, doc.ThreadID).Scan(&currentETag)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if prevETag != "" {
			return checkpoint.ErrConflict
		}
	case err != nil:
		return fmt.Errorf("sqlitestore: read current etag: %w", err)
	default:
		if currentETag != prevETag {
			return checkpoint.ErrConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, etag, state_json, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET etag = excluded.etag, state_json = excluded.state_json, saved_at = excluded.saved_at
	`, doc.ThreadID, doc.ETag, doc.StateJSON, doc.SavedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// Load returns the most recently saved Document for threadID.
func (s *Store) Load(ctx context.Context, threadID string) (checkpoint.Document, error) {
	var doc checkpoint.Document
	doc.ThreadID = threadID
	row := s.db.QueryRowContext(ctx, `SELECT etag, state_json, saved_at FROM checkpoints WHERE thread_id = ?`, threadID)
	if err := row.Scan(&doc.ETag, &doc.StateJSON, &doc.SavedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Document{}, checkpoint.ErrNotFound
		}
		return checkpoint.Document{}, fmt.Errorf("sqlitestore: load: %w", err)
	}
	return doc, nil
}

// Clear removes the checkpoint and any pending writes for threadID.
func (s *Store) Clear(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("sqlitestore: clear checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_writes WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("sqlitestore: clear pending writes: %w", err)
	}
	return tx.Commit()
}

// PendingWrite mirrors loop.PendingWrite for the sqlite sidecar table,
// kept independent of the loop package to avoid a dependency cycle
// (loop depends on checkpoint's contract, not the other way around).
type PendingWrite struct {
	ThreadID     string
	CallID       string
	FunctionName string
	ResultJSON   string
	CompletedAt  time.Time
	Iteration    int
}

// SavePendingWrite upserts a single pending write record.
func (s *Store) SavePendingWrite(ctx context.Context, pw PendingWrite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_writes (thread_id, call_id, function_name, result_json, completed_at, iteration)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, call_id) DO UPDATE SET result_json = excluded.result_json, completed_at = excluded.completed_at, iteration = excluded.iteration
	`, pw.ThreadID, pw.CallID, pw.FunctionName, pw.ResultJSON, pw.CompletedAt, pw.Iteration)
	if err != nil {
		return fmt.Errorf("sqlitestore: save pending write: %w", err)
	}
	return nil
}

// PendingWrites returns every pending write recorded for threadID,
// ordered by iteration. The loop driver does not call it; resume does not
// replay pending writes.
func (s *Store) PendingWrites(ctx context.Context, threadID string) ([]PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, call_id, function_name, result_json, completed_at, iteration
		FROM pending_writes WHERE thread_id = ? ORDER BY iteration ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list pending writes: %w", err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var pw PendingWrite
		if err := rows.Scan(&pw.ThreadID, &pw.CallID, &pw.FunctionName, &pw.ResultJSON, &pw.CompletedAt, &pw.Iteration); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan pending write: %w", err)
		}
		out = append(out, pw)
	}
	return out, rows.Err()
}

// ClearPendingWrite removes a single pending write once it has been
// durably folded into a saved checkpoint.
func (s *Store) ClearPendingWrite(ctx context.Context, threadID, callID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_writes WHERE thread_id = ? AND call_id = ?`, threadID, callID)
	if err != nil {
		return fmt.Errorf("sqlitestore: clear pending write: %w", err)
	}
	return nil
}
