// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volute-run/voluted/internal/sequencer"
)

func readUntil(t *testing.T, body *bufio.Reader, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		line, err := body.ReadString('\n')
		if strings.Contains(line, substr) {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("did not observe %q within %s", substr, timeout)
}

func TestEventsStreamReplaysBufferedEvents(t *testing.T) {
	seq := sequencer.New()
	seq.Publish(sequencer.Event{Type: "mind_started", Mind: "scout"})

	h := NewEventHandler(seq)
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?since=0", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	readUntil(t, bufio.NewReader(resp.Body), "mind_started", time.Second)
}

func TestEventsStreamDeliversLiveEvents(t *testing.T) {
	seq := sequencer.New()
	h := NewEventHandler(seq)
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	// Drain the (empty) replay and give the handler time to subscribe
	// before publishing a live event.
	time.Sleep(50 * time.Millisecond)
	seq.Publish(sequencer.Event{Type: "mind_idle", Mind: "scout"})

	readUntil(t, br, "mind_idle", time.Second)
}
