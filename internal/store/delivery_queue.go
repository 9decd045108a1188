// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnqueueDelivery persists a message for an offline mind so it can be
// replayed once the mind is next started.
func (s *Store) EnqueueDelivery(mind, session, channel, sender string, payload []byte) (DeliveryEntry, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO delivery_queue (mind, session, channel, sender, status, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mind, session, channel, sender, string(DeliveryPending), string(payload), now.Format(time.RFC3339),
	)
	if err != nil {
		return DeliveryEntry{}, fmt.Errorf("enqueue delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return DeliveryEntry{}, fmt.Errorf("enqueue delivery: %w", err)
	}
	return DeliveryEntry{ID: id, Mind: mind, Session: session, Channel: channel, Sender: sender, Status: DeliveryPending, Payload: payload, CreatedAt: now}, nil
}

// PendingDeliveries returns every queued entry for a mind awaiting
// delivery, oldest first.
func (s *Store) PendingDeliveries(mind string) ([]DeliveryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, mind, session, channel, sender, status, payload, created_at FROM delivery_queue WHERE mind = ? AND status = ? ORDER BY id ASC`,
		mind, string(DeliveryPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryEntry
	for rows.Next() {
		e, err := scanDeliveryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDelivered flags a queued entry as successfully delivered.
func (s *Store) MarkDelivered(id int64) error {
	return s.setDeliveryStatus(id, DeliveryDelivered)
}

// MarkFailed flags a queued entry as failed, leaving it for operator
// inspection rather than retrying indefinitely.
func (s *Store) MarkFailed(id int64) error {
	return s.setDeliveryStatus(id, DeliveryFailed)
}

func (s *Store) setDeliveryStatus(id int64, status DeliveryStatus) error {
	_, err := s.db.Exec(`UPDATE delivery_queue SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	return nil
}

func scanDeliveryEntry(rows *sql.Rows) (DeliveryEntry, error) {
	var e DeliveryEntry
	var status, payload, createdAt string
	if err := rows.Scan(&e.ID, &e.Mind, &e.Session, &e.Channel, &e.Sender, &status, &payload, &createdAt); err != nil {
		return DeliveryEntry{}, fmt.Errorf("scan delivery entry: %w", err)
	}
	e.Status = DeliveryStatus(status)
	e.Payload = []byte(payload)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}
