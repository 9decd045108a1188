// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package typing tracks transient "is typing" indicators, keyed by
// channel and sender, with TTL expiry swept periodically in the
// background.
package typing

import (
	"sync"
	"time"
)

// DefaultTTL is how long a non-persistent typing entry lives before the
// sweeper removes it.
const DefaultTTL = 10 * time.Second

// SweepInterval is how often the background sweeper runs.
const SweepInterval = 5 * time.Second

type entry struct {
	expiresAt  time.Time
	persistent bool
}

// Map is the two-level channel -> sender -> expiry tracker.
type Map struct {
	mu       sync.Mutex
	channels map[string]map[string]entry
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an empty typing Map.
func New() *Map {
	return &Map{
		channels: make(map[string]map[string]entry),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Set records sender as typing in channel, expiring after ttl unless
// persistent is true (in which case it never expires until explicitly
// removed).
func (m *Map) Set(channel, sender string, ttl time.Duration, persistent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	senders, ok := m.channels[channel]
	if !ok {
		senders = make(map[string]entry)
		m.channels[channel] = senders
	}
	senders[sender] = entry{expiresAt: m.now().Add(ttl), persistent: persistent}
}

// Get returns the set of senders currently typing in channel, excluding
// any that have expired.
func (m *Map) Get(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	senders, ok := m.channels[channel]
	if !ok {
		return nil
	}
	now := m.now()
	out := make([]string, 0, len(senders))
	for sender, e := range senders {
		if !e.persistent && e.expiresAt.Before(now) {
			continue
		}
		out = append(out, sender)
	}
	return out
}

// DeleteSender removes sender from every channel (e.g. on disconnect),
// returning the names of channels that actually had it so the caller
// can publish a typing-updated event to each.
func (m *Map) DeleteSender(sender string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected []string
	for channel, senders := range m.channels {
		if _, ok := senders[sender]; ok {
			delete(senders, sender)
			affected = append(affected, channel)
			if len(senders) == 0 {
				delete(m.channels, channel)
			}
		}
	}
	return affected
}

func (m *Map) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for channel, senders := range m.channels {
		for sender, e := range senders {
			if !e.persistent && e.expiresAt.Before(now) {
				delete(senders, sender)
			}
		}
		if len(senders) == 0 {
			delete(m.channels, channel)
		}
	}
}

// Run starts the background sweeper. It blocks until Stop is called;
// callers should run it in its own goroutine.
func (m *Map) Run() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// Stop halts the background sweeper. Safe to call multiple times.
func (m *Map) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
