// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler fires cron-driven triggers into running minds
// without double-firing across daemon restarts. Each mind carries its
// own schedules (loaded from its volute.json); the scheduler ticks once
// a minute, checking every enabled schedule of every loaded mind.
package scheduler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is one cron-driven trigger, as declared in a mind's
// volute.json.
type Schedule struct {
	ID      string `json:"id"`
	Cron    string `json:"cron"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	Script  string `json:"script,omitempty"`
}

// Delivery is what fires when a schedule matches: a message to inject
// into its mind on the system:scheduler channel.
type Delivery struct {
	Mind    string
	Channel string
	Sender  string
	Content string
}

// Deliverer is the narrow dependency the scheduler needs to actually
// inject a fired schedule's message into a mind.
type Deliverer interface {
	Deliver(d Delivery)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler ticks every 60 seconds, firing each mind's enabled
// schedules at most once per wall-clock minute, even across restarts
// (via a persisted lastFired memo).
type Scheduler struct {
	mu         sync.Mutex
	home       string
	deliverer  Deliverer
	schedules  map[string][]Schedule // mind -> schedules
	mindHome   map[string]string     // mind -> working directory for script execution
	lastFired  map[string]int64      // "mind/scheduleID" -> epoch minute
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a Scheduler persisting lastFired state under
// <home>/scheduler-state.json.
func New(home string, deliverer Deliverer) *Scheduler {
	return &Scheduler{
		home:      home,
		deliverer: deliverer,
		schedules: make(map[string][]Schedule),
		mindHome:  make(map[string]string),
		lastFired: make(map[string]int64),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

func key(mind, scheduleID string) string {
	return mind + "/" + scheduleID
}

func epochMinute(t time.Time) int64 {
	return t.Unix() / 60
}

// LoadSchedules registers the schedules for mind, replacing any
// previously loaded set (called when a mind starts or its volute.json
// changes). mindDir is used as the working directory for script-backed
// schedules.
func (s *Scheduler) LoadSchedules(mind, mindDir string, schedules []Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[mind] = schedules
	s.mindHome[mind] = mindDir
}

// UnloadSchedules forgets mind's schedules (called when a mind stops).
func (s *Scheduler) UnloadSchedules(mind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, mind)
	delete(s.mindHome, mind)
}

// previousFire walks forward from a safe lower bound to find the most
// recent scheduled instant <= now. cron/v3 only exposes Next, not Prev,
// so this probes forward one step at a time from well before now.
func previousFire(sched cron.Schedule, now time.Time) time.Time {
	t := sched.Next(now.Add(-25 * time.Hour))
	var prev time.Time
	for !t.After(now) {
		prev = t
		t = sched.Next(t)
	}
	return prev
}

// tick examines every loaded mind's enabled schedules and fires any
// whose previous scheduled minute is the current minute and that has
// not already fired this minute.
func (s *Scheduler) tick() {
	now := s.now()
	curMinute := epochMinute(now)

	type fire struct {
		mind string
		sch  Schedule
		dir  string
	}
	var toFire []fire

	s.mu.Lock()
	for mind, scheds := range s.schedules {
		for _, sch := range scheds {
			if !sch.Enabled {
				continue
			}
			parsed, err := parser.Parse(sch.Cron)
			if err != nil {
				log.Printf("scheduler: mind %s schedule %s: invalid cron %q: %v", mind, sch.ID, sch.Cron, err)
				continue
			}
			prev := previousFire(parsed, now)
			if prev.IsZero() || epochMinute(prev) != curMinute {
				continue
			}
			k := key(mind, sch.ID)
			if s.lastFired[k] == curMinute {
				continue
			}
			s.lastFired[k] = curMinute
			toFire = append(toFire, fire{mind: mind, sch: sch, dir: s.mindHome[mind]})
		}
	}
	snapshot := s.snapshotLastFiredLocked()
	s.mu.Unlock()

	if len(toFire) > 0 {
		if err := s.persist(snapshot); err != nil {
			log.Printf("scheduler: persist lastFired: %v", err)
		}
	}

	for _, f := range toFire {
		s.fire(f.mind, f.sch, f.dir)
	}
}

func (s *Scheduler) fire(mind string, sch Schedule, dir string) {
	content := sch.Message
	if sch.Script != "" {
		out, err := runScript(dir, sch.Script)
		if err != nil {
			content = "[script error] " + err.Error()
		} else {
			content = out
		}
	}
	s.deliverer.Deliver(Delivery{
		Mind:    mind,
		Channel: "system:scheduler",
		Sender:  sch.ID,
		Content: content,
	})
}

func runScript(dir, script string) (string, error) {
	cmd := exec.Command("sh", "-c", script)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %s", err, out)
	}
	return string(out), nil
}

// Run starts the 60-second tick loop. Blocks until Stop is called;
// callers should run it in its own goroutine. A single ticker goroutine
// backs every mind's schedules — the scheduler is reentrant-safe but
// not safe to run from more than one ticker concurrently.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

// Stop halts the tick loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) statePath() string {
	return filepath.Join(s.home, "scheduler-state.json")
}

func (s *Scheduler) snapshotLastFiredLocked() map[string]int64 {
	out := make(map[string]int64, len(s.lastFired))
	for k, v := range s.lastFired {
		out[k] = v
	}
	return out
}

func (s *Scheduler) persist(snapshot map[string]int64) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	path := s.statePath()
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

// LoadState restores the lastFired memo from disk, so schedules that
// already fired earlier this minute (before a restart) don't refire.
func (s *Scheduler) LoadState() error {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scheduler: read state: %w", err)
	}
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("scheduler: parse state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFired = m
	return nil
}
