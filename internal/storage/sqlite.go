// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
)

// DBFileName is the SQLite transcript database inside the state directory.
const DBFileName = "chathistory.db"

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	seq     INTEGER PRIMARY KEY,
	role    TEXT NOT NULL,
	content TEXT NOT NULL
);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps the transcript in a single-table SQLite database.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. A file that is
// not a usable database is moved aside and replaced with an empty one.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, err
		}
		logging.Warn.Printf("transcript database %s unusable, starting empty: %v", path, err)
		quarantine(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
		if db, err = openDB(path); err != nil {
			return nil, err
		}
	}
	return &SQLiteStore{path: path, db: db}, nil
}

// openDB opens the database and proves it is readable.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer (the engine) and SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM turns").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	return db, nil
}

// Load returns all turns in order. Query errors load as empty.
func (s *SQLiteStore) Load() model.Transcript {
	rows, err := s.db.Query("SELECT role, content FROM turns ORDER BY seq")
	if err != nil {
		logging.Warn.Printf("transcript query failed, starting empty: %v", err)
		return model.Transcript{}
	}
	defer rows.Close()

	turns := model.Transcript{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			logging.Warn.Printf("transcript row unreadable, starting empty: %v", err)
			return model.Transcript{}
		}
		turns = append(turns, model.Turn{Role: model.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		logging.Warn.Printf("transcript scan failed, starting empty: %v", err)
		return model.Transcript{}
	}
	return turns.Sanitize()
}

// Save replaces every row in one transaction.
func (s *SQLiteStore) Save(turns model.Transcript) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.Exec("DELETE FROM turns"); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO turns (seq, role, content) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range turns {
		if _, err = stmt.Exec(i, string(turn.Role), turn.Content); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
