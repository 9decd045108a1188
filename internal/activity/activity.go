// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package activity tracks whether each mind is actively working or
// idle, publishing mind_active/mind_idle transitions onto the event
// sequencer so SSE clients can observe it.
package activity

import (
	"sync"
	"time"
)

// State is a mind's activity state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// IdleDelay is how long a mind stays in "active" after its last "done"
// signal before it's considered idle again.
const IdleDelay = 2 * time.Minute

// Signal identifies what kind of inbound event nudged a mind's activity
// state. log and usage signals never cause a transition by themselves;
// every other signal kind moves an idle mind to active.
type Signal string

const (
	SignalSessionStart Signal = "session_start"
	SignalMessage      Signal = "message"
	SignalToolUse      Signal = "tool_use"
	SignalDone         Signal = "done"
	SignalLog          Signal = "log"
	SignalUsage        Signal = "usage"
)

func (s Signal) ignoresTransition() bool {
	return s == SignalLog || s == SignalUsage
}

// Publisher is the narrow event-sequencer dependency activity tracking
// needs: publish a named event for a mind.
type Publisher interface {
	Publish(eventType, mind, summary string)
}

type mindState struct {
	state State
	timer *time.Timer
}

// Tracker is the process-wide per-mind activity state machine.
type Tracker struct {
	mu     sync.Mutex
	minds  map[string]*mindState
	pub    Publisher
	after  func(d time.Duration, f func()) *time.Timer
}

// New creates a Tracker that publishes transitions through pub.
func New(pub Publisher) *Tracker {
	return &Tracker{
		minds: make(map[string]*mindState),
		pub:   pub,
		after: time.AfterFunc,
	}
}

func (t *Tracker) entry(mind string) *mindState {
	st, ok := t.minds[mind]
	if !ok {
		st = &mindState{state: StateIdle}
		t.minds[mind] = st
	}
	return st
}

// Signal records an inbound event for mind. log/usage signals never
// cause a state transition. Any other signal moves an idle mind to
// active (publishing mind_active) and, if the mind was active with a
// pending idle timer, cancels that timer. A done signal while active
// schedules an idle timer instead of transitioning immediately.
func (t *Tracker) Signal(mind string, sig Signal) {
	if sig.ignoresTransition() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.entry(mind)
	if st.state == StateIdle {
		st.state = StateActive
		t.pub.Publish("mind_active", mind, "")
		if sig == SignalDone {
			t.scheduleIdle(mind, st)
		}
		return
	}

	// Already active: cancel any pending idle timer first (new activity
	// supersedes it), then re-arm it if this signal is itself a "done".
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if sig == SignalDone {
		t.scheduleIdle(mind, st)
	}
}

func (t *Tracker) scheduleIdle(mind string, st *mindState) {
	st.timer = t.after(IdleDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		cur, ok := t.minds[mind]
		if !ok || cur.state != StateActive {
			return
		}
		cur.state = StateIdle
		cur.timer = nil
		t.pub.Publish("mind_idle", mind, "")
	})
}

// MarkIdle forces mind to idle immediately, canceling any pending idle
// timer, publishing mind_idle only if it was active.
func (t *Tracker) MarkIdle(mind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(mind)
	if st.state != StateActive {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.state = StateIdle
	t.pub.Publish("mind_idle", mind, "")
}

// Get returns the current state of mind (idle if never seen).
func (t *Tracker) Get(mind string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.minds[mind]; ok {
		return st.state
	}
	return StateIdle
}

// StopAll cancels every pending idle timer without publishing further
// transitions. Used during daemon shutdown.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.minds {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
}
