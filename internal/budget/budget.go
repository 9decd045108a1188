// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package budget implements the per-mind token budget gate: sliding
// per-period usage accounting, a three-state gate (ok/warning/exceeded),
// and a bounded deferral queue drained on period rollover.
package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxQueue is the deferral queue's hard cap. Overflow drops the oldest
// entry first (ring discipline), never the newest.
const MaxQueue = 100

// Gate is the three-state verdict checkBudget returns.
type Gate string

const (
	GateOK       Gate = "ok"
	GateWarning  Gate = "warning"
	GateExceeded Gate = "exceeded"
)

// WarningThreshold is the usage fraction at which a warning is raised.
const WarningThreshold = 0.8

// Config is a mind's budget configuration.
type Config struct {
	TokenLimit    int `json:"token_limit"`
	PeriodMinutes int `json:"period_minutes"`
}

// QueuedMessage is a deferred inbound message, held until the mind's
// period rolls over and budget frees up.
type QueuedMessage struct {
	Channel string          `json:"channel"`
	Sender  string          `json:"sender"`
	Content json.RawMessage `json:"content"`
	Queued  time.Time       `json:"queued_at"`
}

type mindBudget struct {
	cfg             Config
	tokensUsed      int
	periodStart     time.Time
	warningInjected bool
	queue           []QueuedMessage
}

func (p *persisted) fromState(s *mindBudget) {
	p.Config = s.cfg
	p.TokensUsed = s.tokensUsed
	p.PeriodStart = s.periodStart
	p.WarningInjected = s.warningInjected
	p.Queue = s.queue
}

type persisted struct {
	Config          Config          `json:"config"`
	TokensUsed      int             `json:"tokens_used"`
	PeriodStart     time.Time       `json:"period_start"`
	WarningInjected bool            `json:"warning_injected"`
	Queue           []QueuedMessage `json:"queue"`
}

// Drainer is invoked once per mind whose period has just rolled over,
// with every message that was queued during the expired period, in
// enqueue order.
type Drainer func(mind string, msgs []QueuedMessage)

// Manager tracks token budgets for every mind under a single mutex,
// matching the rest of the daemon's per-component locking discipline.
type Manager struct {
	mu       sync.Mutex
	home     string
	minds    map[string]*mindBudget
	now      func() time.Time
}

// New creates a Manager persisting state under <home>/state/<mind>/token-budget.json.
func New(home string) *Manager {
	return &Manager{
		home:  home,
		minds: make(map[string]*mindBudget),
		now:   time.Now,
	}
}

func (m *Manager) statePath(mind string) string {
	return filepath.Join(m.home, "state", mind, "token-budget.json")
}

// SetBudget installs or updates mind's configuration. limit<=0 is
// rejected. Existing usage/queue/warning state is preserved if the mind
// already has a budget (only the config changes).
func (m *Manager) SetBudget(mind string, cfg Config) error {
	if cfg.TokenLimit <= 0 {
		return fmt.Errorf("budget: token limit must be positive, got %d", cfg.TokenLimit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.minds[mind]
	if !ok {
		b = &mindBudget{periodStart: m.now()}
		m.minds[mind] = b
	}
	b.cfg = cfg
	return nil
}

// RecordUsage accumulates in+out tokens for mind. A no-op if mind has no
// budget configured.
func (m *Manager) RecordUsage(mind string, in, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.minds[mind]
	if !ok {
		return
	}
	b.tokensUsed += in + out
}

// CheckBudget returns the current gate state for mind. A mind with no
// configured budget is always ok.
func (m *Manager) CheckBudget(mind string) Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.minds[mind]
	if !ok || b.cfg.TokenLimit <= 0 {
		return GateOK
	}
	ratio := float64(b.tokensUsed) / float64(b.cfg.TokenLimit)
	if ratio >= 1.0 {
		return GateExceeded
	}
	if ratio >= WarningThreshold && !b.warningInjected {
		return GateWarning
	}
	return GateOK
}

// AcknowledgeWarning marks the current period's warning as injected, so
// CheckBudget won't return GateWarning again until the next period.
func (m *Manager) AcknowledgeWarning(mind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.minds[mind]; ok {
		b.warningInjected = true
	}
}

// Enqueue appends msg to mind's deferral queue, dropping the oldest
// entry first if the queue is already at MaxQueue.
func (m *Manager) Enqueue(mind string, msg QueuedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.minds[mind]
	if !ok {
		b = &mindBudget{periodStart: m.now()}
		m.minds[mind] = b
	}
	if len(b.queue) >= MaxQueue {
		b.queue = b.queue[1:]
	}
	b.queue = append(b.queue, msg)
}

// Drain removes and returns every queued message for mind, in enqueue
// order, leaving the queue empty.
func (m *Manager) Drain(mind string) []QueuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.minds[mind]
	if !ok || len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Tick advances every mind whose period has elapsed: resets usage and
// the warning flag, advances periodStart, and drains its queue through
// drain. Intended to be called once every 60 seconds from a single
// ticker goroutine owned by the caller.
func (m *Manager) Tick(drain Drainer) {
	now := m.now()
	type rollover struct {
		mind string
		msgs []QueuedMessage
	}
	var rollovers []rollover

	m.mu.Lock()
	for mind, b := range m.minds {
		if b.cfg.PeriodMinutes <= 0 {
			continue
		}
		period := time.Duration(b.cfg.PeriodMinutes) * time.Minute
		if now.Sub(b.periodStart) < period {
			continue
		}
		b.tokensUsed = 0
		b.warningInjected = false
		b.periodStart = now
		msgs := b.queue
		b.queue = nil
		if len(msgs) > 0 {
			rollovers = append(rollovers, rollover{mind: mind, msgs: msgs})
		}
	}
	m.mu.Unlock()

	for _, r := range rollovers {
		drain(r.mind, r.msgs)
	}
}

// Flush persists every mind's budget state to disk.
func (m *Manager) Flush() error {
	m.mu.Lock()
	snapshot := make(map[string]persisted, len(m.minds))
	for mind, b := range m.minds {
		var p persisted
		p.fromState(b)
		snapshot[mind] = p
	}
	m.mu.Unlock()

	for mind, p := range snapshot {
		if err := writeAtomic(m.statePath(mind), p); err != nil {
			return fmt.Errorf("budget: flush %s: %w", mind, err)
		}
	}
	return nil
}

// Load reads mind's persisted budget state from disk, if present. A
// missing file is not an error.
func (m *Manager) Load(mind string) error {
	data, err := os.ReadFile(m.statePath(mind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("budget: load %s: %w", mind, err)
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("budget: parse %s: %w", mind, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minds[mind] = &mindBudget{
		cfg:             p.Config,
		tokensUsed:      p.TokensUsed,
		periodStart:     p.PeriodStart,
		warningInjected: p.WarningInjected,
		queue:           p.Queue,
	}
	return nil
}

func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
