// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
)

// DBTX abstracts over *sql.DB and *sql.Tx so the same query helpers work
// inside or outside a transaction. Grounded on adamavenir-mini-msg's
// internal/db.DBTX.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'pending',
	user_type TEXT NOT NULL DEFAULT 'brain',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	mind_name TEXT,
	channel TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT UNIQUE,
	title TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	role TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	sender_name TEXT,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS mind_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mind TEXT NOT NULL,
	channel TEXT NOT NULL,
	session TEXT,
	sender TEXT,
	message_id INTEGER,
	type TEXT NOT NULL,
	content TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mind_history_mind ON mind_history(mind);

CREATE TABLE IF NOT EXISTS delivery_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mind TEXT NOT NULL,
	session TEXT,
	channel TEXT NOT NULL,
	sender TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_queue_mind_status ON delivery_queue(mind, status);

CREATE TABLE IF NOT EXISTS activity_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	mind TEXT,
	summary TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);
`

// InitSchema ensures every table above exists. It is idempotent and
// intentionally not a versioned migration: the schema is a contract the
// core depends on, not a history to replay.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	if _, err := tx.Exec(schemaSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
