// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package eventbus adapts internal/sequencer's structured Event type to
// the narrow Publish(eventType, mind, summary string) shape that
// internal/activity and internal/mind depend on, and persists every
// published event to the store's activity_events table. Nothing in the
// daemon reads those rows back: /api/minds/:name/history serves
// mind_history, and the sequencer starts empty after a restart.
package eventbus

import (
	"log"

	"github.com/volute-run/voluted/internal/sequencer"
	"github.com/volute-run/voluted/internal/store"
)

// Bus fans a single Publish call out to the in-memory sequencer (for
// live SSE subscribers) and the on-disk activity_events table. A nil
// store is allowed for tests that don't need persistence.
type Bus struct {
	seq *sequencer.Sequencer
	db  *store.Store
}

// New creates a Bus backed by seq and (optionally) db.
func New(seq *sequencer.Sequencer, db *store.Store) *Bus {
	return &Bus{seq: seq, db: db}
}

// Publish implements activity.Publisher and mind.Publisher.
func (b *Bus) Publish(eventType, mind, summary string) {
	evt := sequencer.Event{Type: eventType, Summary: summary}
	if mind != "" {
		evt.Mind = mind
	}
	b.seq.Publish(evt)

	if b.db == nil {
		return
	}
	var mindPtr *string
	if mind != "" {
		mindPtr = &mind
	}
	if _, err := b.db.RecordActivityEvent(store.ActivityEventType(eventType), mindPtr, summary, nil); err != nil {
		log.Printf("eventbus: persist %s: %v", eventType, err)
	}
}
