// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mind is the mind supervisor: spawns, monitors, restarts and
// stops mind child processes, reconciling stale PID files and resolving
// port collisions before each start. Grounded on the teacher's
// internal/service package (ServiceManager/Process), generalized from
// "arbitrary configured service command" to "a mind's HTTP server
// binary" and extended with the stale-PID/port-collision checks and
// pending-context delivery this spec requires.
package mind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/volute-run/voluted/internal/mindcrash"
)

var (
	ErrAlreadyTracked = errors.New("mind: already running")
	ErrNotTracked     = errors.New("mind: not running")
	ErrUnknownMind    = errors.New("mind: unknown mind")
)

// MaxCrashAttempts is how many consecutive unexpected exits the
// supervisor will auto-restart before giving up on a mind.
const MaxCrashAttempts = 5

// StartTimeout bounds how long a newly spawned child has to print its
// readiness line before the supervisor considers the start failed.
const StartTimeout = 30 * time.Second

// Target is what the registry resolves a mind name to: where it lives
// and which port it should bind.
type Target struct {
	WorkDir string
	Port    int
	// EntrypointHint is matched against a candidate stale PID's command
	// line to confirm it's really a mind process before it gets killed.
	EntrypointHint string
}

// Resolver is the narrow registry dependency the supervisor needs.
type Resolver interface {
	Resolve(name string) (Target, error)
	SetRunning(name string, running bool) error
}

// Publisher is the narrow event-sequencer dependency the supervisor
// needs to announce lifecycle transitions.
type Publisher interface {
	Publish(eventType, mind, summary string)
}

// ContextDeliverer delivers a single system-channel message to a
// freshly (re)started mind, describing why it was restarted.
type ContextDeliverer interface {
	DeliverSystemMessage(mind string, content string) error
}

// EnvSource resolves the shared and per-mind environment overlays for a
// mind, in that precedence order (per-mind wins).
type EnvSource interface {
	SharedEnv() map[string]string
	MindEnv(mind string) map[string]string
}

type trackedMind struct {
	name               string
	child              *childProcess
	intentionallyStop  bool
}

// Supervisor owns every spawned mind child process on this host.
type Supervisor struct {
	mu             sync.RWMutex
	home           string
	binary         string // path to the mind server binary, common to every mind
	resolver       Resolver
	pub            Publisher
	env            EnvSource
	ctxDeliverer   ContextDeliverer
	tracked        map[string]*trackedMind
	crashAttempts  map[string]int
	pendingContext map[string]interface{}
	shuttingDown   bool
	httpClient     *http.Client
}

// New creates a Supervisor rooted at home (the daemon's state
// directory), spawning mind instances of binary.
func New(home, binary string, resolver Resolver, pub Publisher, env EnvSource, ctxDeliverer ContextDeliverer) *Supervisor {
	s := &Supervisor{
		home:           home,
		binary:         binary,
		resolver:       resolver,
		pub:            pub,
		env:            env,
		ctxDeliverer:   ctxDeliverer,
		tracked:        make(map[string]*trackedMind),
		crashAttempts:  make(map[string]int),
		pendingContext: make(map[string]interface{}),
		httpClient:     &http.Client{Timeout: 2 * time.Second},
	}
	s.loadCrashAttempts()
	return s
}

func (s *Supervisor) stateDir(mind string) string {
	return filepath.Join(s.home, "state", mind)
}

// SetPendingContext records obj to be delivered to mind once it next
// reports ready. Call before StartMind.
func (s *Supervisor) SetPendingContext(mind string, obj interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingContext[mind] = obj
}

// IsRunning reports whether mind is currently tracked as running.
func (s *Supervisor) IsRunning(mind string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracked[mind]
	return ok
}

// StartMind starts mind (a registry name or "base@variant"), following
// spec.md §4.8: refuse if already tracked, reconcile any stale PID file,
// resolve and clear any process squatting on the target port, spawn in
// its own process group with merged env, watch for the readiness line,
// then install crash recovery and deliver any pending context.
func (s *Supervisor) StartMind(ctx context.Context, mind string) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return fmt.Errorf("mind: daemon is shutting down")
	}
	if _, ok := s.tracked[mind]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, mind)
	}
	s.mu.Unlock()

	target, err := s.resolver.Resolve(mind)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownMind, mind)
	}

	stateDir := s.stateDir(mind)
	reconcileStalePID(stateDir, target.EntrypointHint)

	if pid, ok := findPortOwner(target.Port); ok {
		if s.portOwnerIsHealthy(target.Port) && looksLikeMindProcess(pid, target.EntrypointHint) {
			killProcessGroup(pid)
			time.Sleep(200 * time.Millisecond)
		} else {
			return fmt.Errorf("mind: port %d is in use by an unidentified process (pid %d); refusing to start %s", target.Port, pid, mind)
		}
	}

	logDir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("mind: create log dir: %w", err)
	}
	rotLog, err := OpenRotatingLogFile(filepath.Join(logDir, "mind.log"), DefaultMaxLogSize, DefaultMaxLogFiles)
	if err != nil {
		return fmt.Errorf("mind: open log file: %w", err)
	}

	env := mergeEnv(s.env.SharedEnv(), s.env.MindEnv(mind), map[string]string{
		"VOLUTE_MIND":       mind,
		"VOLUTE_STATE_DIR":  stateDir,
		"VOLUTE_MIND_DIR":   target.WorkDir,
		"VOLUTE_MIND_PORT":  fmt.Sprintf("%d", target.Port),
	})

	child, ready, err := startChild(ctx, spawnSpec{
		Name:    mind,
		Command: s.binary,
		WorkDir: target.WorkDir,
		Env:     env,
		Log:     rotLog,
	})
	if err != nil {
		rotLog.Close()
		return fmt.Errorf("mind: spawn %s: %w", mind, err)
	}

	select {
	case ok := <-ready:
		if !ok {
			killProcessGroup(child.pid)
			rotLog.Close()
			return fmt.Errorf("mind: %s exited before becoming ready", mind)
		}
	case <-time.After(StartTimeout):
		killProcessGroup(child.pid)
		rotLog.Close()
		return fmt.Errorf("mind: %s did not report ready within %s", mind, StartTimeout)
	}

	if err := writePIDFile(stateDir, child.pid); err != nil {
		log.Printf("mind: %s: failed to write pid file: %v", mind, err)
	}

	tm := &trackedMind{name: mind, child: child}
	s.mu.Lock()
	s.tracked[mind] = tm
	s.crashAttempts[mind] = 0
	s.persistCrashAttemptsLocked()
	s.mu.Unlock()

	child.setOnExit(func(exitCode int, crashed bool) {
		s.handleExit(mind, exitCode, crashed)
	})

	if err := s.resolver.SetRunning(mind, true); err != nil {
		log.Printf("mind: %s: failed to mark running in registry: %v", mind, err)
	}
	s.pub.Publish("mind_started", mind, "")

	s.deliverPendingContext(mind)

	return nil
}

func (s *Supervisor) portOwnerIsHealthy(port int) bool {
	resp, err := s.httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Supervisor) deliverPendingContext(mind string) {
	s.mu.Lock()
	obj, ok := s.pendingContext[mind]
	if ok {
		delete(s.pendingContext, mind)
	}
	s.mu.Unlock()
	if !ok || s.ctxDeliverer == nil {
		return
	}
	data, err := json.Marshal(obj)
	if err != nil {
		log.Printf("mind: %s: marshal pending context: %v", mind, err)
		return
	}
	if err := s.ctxDeliverer.DeliverSystemMessage(mind, string(data)); err != nil {
		log.Printf("mind: %s: deliver pending context: %v", mind, err)
	}
}

// StopMind stops mind gracefully: SIGTERM to the process group, 5s
// grace period, then SIGKILL.
func (s *Supervisor) StopMind(ctx context.Context, mind string) error {
	s.mu.Lock()
	tm, ok := s.tracked[mind]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTracked, mind)
	}
	tm.intentionallyStop = true
	delete(s.tracked, mind)
	s.mu.Unlock()

	tm.child.stop(ctx, defaultStopTimeout)
	removePIDFile(s.stateDir(mind))

	s.mu.Lock()
	s.crashAttempts[mind] = 0
	s.persistCrashAttemptsLocked()
	s.mu.Unlock()

	if err := s.resolver.SetRunning(mind, false); err != nil {
		log.Printf("mind: %s: failed to mark stopped in registry: %v", mind, err)
	}
	s.pub.Publish("mind_stopped", mind, "")
	return nil
}

// RestartMind stops then starts mind.
func (s *Supervisor) RestartMind(ctx context.Context, mind string) error {
	if s.IsRunning(mind) {
		if err := s.StopMind(ctx, mind); err != nil {
			return err
		}
	}
	return s.StartMind(ctx, mind)
}

// StopAll stops every tracked mind in parallel. Marks the supervisor as
// shutting down first, so no new starts race with the stop fan-out. A
// single mind's stop error is logged rather than aborting the rest of
// the fan-out (one wedged mind must not hold up daemon shutdown).
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	s.shuttingDown = true
	names := make([]string, 0, len(s.tracked))
	for name := range s.tracked {
		names = append(names, name)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := s.StopMind(ctx, name); err != nil && !errors.Is(err, ErrNotTracked) {
				log.Printf("mind: stopAll: %s: %v", name, err)
			}
			return nil
		})
	}
	g.Wait()
}

// handleExit implements §4.8.2 crash recovery: an unexpected exit
// (not triggered by StopMind/StopAll) schedules a restart with
// exponential backoff, giving up after MaxCrashAttempts.
func (s *Supervisor) handleExit(mind string, exitCode int, crashed bool) {
	s.mu.Lock()
	delete(s.tracked, mind)
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	if shuttingDown {
		return
	}

	removePIDFile(s.stateDir(mind))

	reason := mindcrash.Analyze(filepath.Join(s.stateDir(mind), "logs", "mind.log"), exitCode)

	s.mu.Lock()
	attempts := s.crashAttempts[mind]
	s.mu.Unlock()

	if attempts >= MaxCrashAttempts {
		log.Printf("mind: %s: giving up after %d crash attempts (exit code %d, %s)", mind, attempts, exitCode, reason.Summary())
		if err := s.resolver.SetRunning(mind, false); err != nil {
			log.Printf("mind: %s: failed to mark stopped in registry: %v", mind, err)
		}
		s.pub.Publish("mind_stopped", mind, fmt.Sprintf("gave up after %d crashes (%s)", attempts, reason.Summary()))
		return
	}

	delay := backoffDelay(attempts)
	s.mu.Lock()
	s.crashAttempts[mind] = attempts + 1
	s.persistCrashAttemptsLocked()
	s.mu.Unlock()

	log.Printf("mind: %s exited unexpectedly (code %d, crashed=%v, %s); restarting in %s (attempt %d)", mind, exitCode, crashed, reason.Summary(), delay, attempts+1)
	s.pub.Publish("mind_crashed", mind, reason.Summary())

	time.AfterFunc(delay, func() {
		s.mu.RLock()
		_, alreadyRunning := s.tracked[mind]
		shuttingDown := s.shuttingDown
		s.mu.RUnlock()
		if alreadyRunning || shuttingDown {
			return
		}
		if err := s.StartMind(context.Background(), mind); err != nil {
			log.Printf("mind: %s: crash-recovery restart failed: %v", mind, err)
		}
	})
}

// backoffDelay implements min(3000*2^attempts, 60000) ms.
func backoffDelay(attempts int) time.Duration {
	ms := 3000 * (1 << attempts)
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Supervisor) crashAttemptsPath() string {
	return filepath.Join(s.home, "crash-attempts.json")
}

func (s *Supervisor) loadCrashAttempts() {
	data, err := os.ReadFile(s.crashAttemptsPath())
	if err != nil {
		return
	}
	var m map[string]int
	if json.Unmarshal(data, &m) == nil {
		s.crashAttempts = m
	}
}

func (s *Supervisor) persistCrashAttemptsLocked() {
	data, err := json.MarshalIndent(s.crashAttempts, "", "  ")
	if err != nil {
		return
	}
	path := s.crashAttemptsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	tmp := path + ".tmp"
	if os.WriteFile(tmp, data, 0644) == nil {
		os.Rename(tmp, path)
	}
}
