// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(eventType, mind, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+":"+mind)
}

func (f *fakePublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func TestLogAndUsageSignalsNeverTransition(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	tr.Signal("alpha", SignalLog)
	tr.Signal("alpha", SignalUsage)
	assert.Equal(t, StateIdle, tr.Get("alpha"))
	assert.Empty(t, pub.snapshot())
}

func TestNonIgnoredSignalMovesIdleToActive(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	tr.Signal("alpha", SignalMessage)
	assert.Equal(t, StateActive, tr.Get("alpha"))
	assert.Equal(t, []string{"mind_active:alpha"}, pub.snapshot())
}

func TestRepeatedSignalsWhileActivePublishNothing(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	tr.Signal("alpha", SignalMessage)
	tr.Signal("alpha", SignalToolUse)
	tr.Signal("alpha", SignalMessage)
	assert.Equal(t, []string{"mind_active:alpha"}, pub.snapshot())
}

func TestMarkIdlePublishesImmediately(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	tr.Signal("alpha", SignalMessage)
	tr.MarkIdle("alpha")
	assert.Equal(t, StateIdle, tr.Get("alpha"))
	assert.Equal(t, []string{"mind_active:alpha", "mind_idle:alpha"}, pub.snapshot())
}

func TestDoneSchedulesIdleTimerThatFires(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	done := make(chan struct{})
	tr.after = func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(time.Millisecond, func() {
			f()
			close(done)
		})
	}

	tr.Signal("alpha", SignalDone)
	require.Equal(t, StateActive, tr.Get("alpha"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle timer never fired")
	}
	assert.Equal(t, StateIdle, tr.Get("alpha"))
	assert.Equal(t, []string{"mind_active:alpha", "mind_idle:alpha"}, pub.snapshot())
}

func TestNewSignalCancelsPendingIdleTimer(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	fired := false
	tr.after = func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(50*time.Millisecond, func() { fired = true; f() })
	}

	tr.Signal("alpha", SignalDone)
	tr.Signal("alpha", SignalMessage) // cancels the pending idle timer

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired)
	assert.Equal(t, StateActive, tr.Get("alpha"))
}

func TestStopAllCancelsPendingTimers(t *testing.T) {
	pub := &fakePublisher{}
	tr := New(pub)
	fired := false
	tr.after = func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(20*time.Millisecond, func() { fired = true; f() })
	}
	tr.Signal("alpha", SignalDone)
	tr.StopAll()
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired)
}
