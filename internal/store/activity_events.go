// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordActivityEvent persists an activity event for history and the
// activity feed; the caller separately publishes it to live SSE
// subscribers via internal/sequencer.
func (s *Store) RecordActivityEvent(typ ActivityEventType, mind *string, summary string, metadata []byte) (ActivityEvent, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO activity_events (type, mind, summary, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(typ), mind, summary, nullableBytes(metadata), now.Format(time.RFC3339),
	)
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("record activity event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("record activity event: %w", err)
	}
	return ActivityEvent{ID: id, Type: typ, Mind: mind, Summary: summary, Metadata: metadata, CreatedAt: now}, nil
}

// ActivityEvents returns the most recent limit activity events, newest
// first. If mind is non-nil, results are restricted to that mind.
func (s *Store) ActivityEvents(mind *string, limit int) ([]ActivityEvent, error) {
	var rows *sql.Rows
	var err error
	if mind != nil {
		rows, err = s.db.Query(
			`SELECT id, type, mind, summary, metadata, created_at FROM activity_events WHERE mind = ? ORDER BY id DESC LIMIT ?`,
			*mind, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT id, type, mind, summary, metadata, created_at FROM activity_events ORDER BY id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list activity events: %w", err)
	}
	defer rows.Close()

	var out []ActivityEvent
	for rows.Next() {
		e, err := scanActivityEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanActivityEvent(rows *sql.Rows) (ActivityEvent, error) {
	var e ActivityEvent
	var mind, metadata sql.NullString
	var typ, createdAt string
	if err := rows.Scan(&e.ID, &typ, &mind, &e.Summary, &metadata, &createdAt); err != nil {
		return ActivityEvent{}, fmt.Errorf("scan activity event: %w", err)
	}
	e.Type = ActivityEventType(typ)
	if mind.Valid {
		v := mind.String
		e.Mind = &v
	}
	if metadata.Valid {
		e.Metadata = []byte(metadata.String)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}
