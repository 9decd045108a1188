// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntryType distinguishes the kinds of events a mind's own
// pipeline history records, separate from a Message's role.
type HistoryEntryType string

const (
	HistoryInbound  HistoryEntryType = "inbound"
	HistoryOutbound HistoryEntryType = "outbound"
	HistoryError    HistoryEntryType = "error"
)

// HistoryEntry is one row of a mind's per-channel pipeline log, used to
// rebuild context on restart and for the /api/minds/:name/history view.
type HistoryEntry struct {
	ID        int64
	Mind      string
	Channel   string
	Session   *string
	Sender    *string
	MessageID *int64
	Type      HistoryEntryType
	Content   []byte
	Metadata  []byte
	CreatedAt time.Time
}

// RecordHistory appends one pipeline history entry for a mind.
func (s *Store) RecordHistory(e HistoryEntry) (HistoryEntry, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO mind_history (mind, channel, session, sender, message_id, type, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Mind, e.Channel, e.Session, e.Sender, e.MessageID, string(e.Type), nullableBytes(e.Content), nullableBytes(e.Metadata), now.Format(time.RFC3339),
	)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("record history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("record history: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return e, nil
}

// History returns the most recent limit history entries for a mind's
// channel, oldest first.
func (s *Store) History(mind, channel string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, mind, channel, session, sender, message_id, type, content, metadata, created_at
		FROM mind_history
		WHERE mind = ? AND channel = ?
		ORDER BY id DESC
		LIMIT ?
	`, mind, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func scanHistoryEntry(rows *sql.Rows) (HistoryEntry, error) {
	var e HistoryEntry
	var session, sender sql.NullString
	var messageID sql.NullInt64
	var entryType, createdAt string
	var content, metadata sql.NullString
	if err := rows.Scan(&e.ID, &e.Mind, &e.Channel, &session, &sender, &messageID, &entryType, &content, &metadata, &createdAt); err != nil {
		return HistoryEntry{}, fmt.Errorf("scan history entry: %w", err)
	}
	if session.Valid {
		v := session.String
		e.Session = &v
	}
	if sender.Valid {
		v := sender.String
		e.Sender = &v
	}
	if messageID.Valid {
		v := messageID.Int64
		e.MessageID = &v
	}
	e.Type = HistoryEntryType(entryType)
	if content.Valid {
		e.Content = []byte(content.String)
	}
	if metadata.Valid {
		e.Metadata = []byte(metadata.String)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
