// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	s := New()
	e1 := s.Publish(Event{Type: "mind_started", Mind: "alpha"})
	e2 := s.Publish(Event{Type: "mind_idle", Mind: "alpha"})
	assert.Equal(t, uint64(1), e1.ID)
	assert.Equal(t, uint64(2), e2.ID)
}

func TestSinceReturnsStrictlyAfterInOrder(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Publish(Event{Type: "mind_active", Mind: "alpha"})
	}
	got := s.Since(2)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].ID)
	assert.Equal(t, uint64(4), got[1].ID)
	assert.Equal(t, uint64(5), got[2].ID)
}

func TestSinceExcludesEventsOlderThanMaxAge(t *testing.T) {
	s := New()
	frozen := time.Now()
	s.now = func() time.Time { return frozen.Add(-10 * time.Minute) }
	s.Publish(Event{Type: "mind_active"})
	s.now = func() time.Time { return frozen }
	s.Publish(Event{Type: "mind_idle"})

	got := s.Since(0)
	require.Len(t, got, 1)
	assert.Equal(t, "mind_idle", got[0].Type)
}

func TestRingBufferEvictsOldestBeyondCapacity(t *testing.T) {
	s := New()
	for i := 0; i < Capacity+10; i++ {
		s.Publish(Event{Type: "mind_active"})
	}
	got := s.Since(0)
	assert.Len(t, got, Capacity)
	assert.Equal(t, uint64(11), got[0].ID)
}

func TestSubscriberReceivesLiveEvents(t *testing.T) {
	s := New()
	ch := make(Subscriber, 4)
	s.Subscribe(ch)
	defer s.Unsubscribe(ch)

	s.Publish(Event{Type: "mind_started"})
	select {
	case e := <-ch:
		assert.Equal(t, "mind_started", e.Type)
	default:
		t.Fatal("expected event on subscriber channel")
	}
}
