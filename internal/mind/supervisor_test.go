// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu      sync.Mutex
	targets map[string]Target
	running map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{targets: make(map[string]Target), running: make(map[string]bool)}
}

func (f *fakeResolver) Resolve(name string) (Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("unknown mind %s", name)
	}
	return t, nil
}

func (f *fakeResolver) SetRunning(name string, running bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = running
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(eventType, mind, summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType+":"+mind)
}

func (p *fakePublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

type fakeEnv struct{}

func (fakeEnv) SharedEnv() map[string]string          { return nil }
func (fakeEnv) MindEnv(mind string) map[string]string { return nil }

type fakeCtxDeliverer struct {
	mu  sync.Mutex
	got map[string]string
}

func (f *fakeCtxDeliverer) DeliverSystemMessage(mind, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got == nil {
		f.got = make(map[string]string)
	}
	f.got[mind] = content
	return nil
}

// writeFakeMindBinary writes a shell script that reports ready on
// VOLUTE_MIND_PORT and then sleeps, standing in for a real mind binary.
func writeFakeMindBinary(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group signaling is POSIX-only")
	}
	path := filepath.Join(dir, "fake-mind.sh")
	script := "#!/bin/sh\necho \"listening on :${VOLUTE_MIND_PORT}\"\ntrap 'exit 0' TERM\nsleep 30 &\nwait $!\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestBackoffDelaySequence(t *testing.T) {
	assert.Equal(t, 3000*time.Millisecond, backoffDelay(0))
	assert.Equal(t, 6000*time.Millisecond, backoffDelay(1))
	assert.Equal(t, 12000*time.Millisecond, backoffDelay(2))
	assert.Equal(t, 24000*time.Millisecond, backoffDelay(3))
	assert.Equal(t, 48000*time.Millisecond, backoffDelay(4))
	assert.Equal(t, 60000*time.Millisecond, backoffDelay(5)) // capped
}

func TestStartMindThenStopMindLifecycle(t *testing.T) {
	home := t.TempDir()
	binary := writeFakeMindBinary(t, home)

	resolver := newFakeResolver()
	resolver.targets["alpha"] = Target{WorkDir: home, Port: 18189}
	pub := &fakePublisher{}
	sup := New(home, binary, resolver, pub, fakeEnv{}, &fakeCtxDeliverer{})

	ctx := context.Background()
	require.NoError(t, sup.StartMind(ctx, "alpha"))
	assert.True(t, sup.IsRunning("alpha"))
	assert.True(t, resolver.running["alpha"])
	assert.Contains(t, pub.snapshot(), "mind_started:alpha")

	pid, ok := readPIDFile(sup.stateDir("alpha"))
	assert.True(t, ok)
	assert.Greater(t, pid, 0)

	require.NoError(t, sup.StopMind(ctx, "alpha"))
	assert.False(t, sup.IsRunning("alpha"))
	assert.False(t, resolver.running["alpha"])
	assert.Contains(t, pub.snapshot(), "mind_stopped:alpha")

	_, ok = readPIDFile(sup.stateDir("alpha"))
	assert.False(t, ok)
}

func TestStartMindRefusesWhenAlreadyTracked(t *testing.T) {
	home := t.TempDir()
	binary := writeFakeMindBinary(t, home)
	resolver := newFakeResolver()
	resolver.targets["alpha"] = Target{WorkDir: home, Port: 18190}
	sup := New(home, binary, resolver, &fakePublisher{}, fakeEnv{}, &fakeCtxDeliverer{})

	ctx := context.Background()
	require.NoError(t, sup.StartMind(ctx, "alpha"))
	defer sup.StopMind(ctx, "alpha")

	err := sup.StartMind(ctx, "alpha")
	assert.ErrorIs(t, err, ErrAlreadyTracked)
}

func TestPendingContextDeliveredOnNextReady(t *testing.T) {
	home := t.TempDir()
	binary := writeFakeMindBinary(t, home)
	resolver := newFakeResolver()
	resolver.targets["alpha"] = Target{WorkDir: home, Port: 18191}
	ctxDeliverer := &fakeCtxDeliverer{}
	sup := New(home, binary, resolver, &fakePublisher{}, fakeEnv{}, ctxDeliverer)

	sup.SetPendingContext("alpha", map[string]string{"summary": "variant merged"})

	ctx := context.Background()
	require.NoError(t, sup.StartMind(ctx, "alpha"))
	defer sup.StopMind(ctx, "alpha")

	assert.Contains(t, ctxDeliverer.got["alpha"], "variant merged")
}

func TestStopAllStopsEveryTrackedMind(t *testing.T) {
	home := t.TempDir()
	binary := writeFakeMindBinary(t, home)
	resolver := newFakeResolver()
	resolver.targets["alpha"] = Target{WorkDir: home, Port: 18192}
	resolver.targets["beta"] = Target{WorkDir: home, Port: 18193}
	sup := New(home, binary, resolver, &fakePublisher{}, fakeEnv{}, &fakeCtxDeliverer{})

	ctx := context.Background()
	require.NoError(t, sup.StartMind(ctx, "alpha"))
	require.NoError(t, sup.StartMind(ctx, "beta"))

	sup.StopAll(ctx)

	assert.False(t, sup.IsRunning("alpha"))
	assert.False(t, sup.IsRunning("beta"))
}

func TestHandleExitGivesUpAfterMaxAttempts(t *testing.T) {
	home := t.TempDir()
	resolver := newFakeResolver()
	pub := &fakePublisher{}
	sup := New(home, "/bin/true", resolver, pub, fakeEnv{}, &fakeCtxDeliverer{})

	sup.mu.Lock()
	sup.crashAttempts["alpha"] = MaxCrashAttempts
	sup.tracked["alpha"] = &trackedMind{name: "alpha"}
	sup.mu.Unlock()

	sup.handleExit("alpha", 1, true)

	assert.Contains(t, pub.snapshot(), "mind_stopped:alpha")
	assert.False(t, resolver.running["alpha"])
}
