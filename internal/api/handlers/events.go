// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/volute-run/voluted/internal/sequencer"
)

// keepaliveInterval is how often a comment-only ping is written to keep
// idle SSE connections (and any intermediate proxies) from timing out.
const keepaliveInterval = 30 * time.Second

// EventHandler serves the daemon's SSE event stream, grounded on the
// teacher's WebSocket event handler but rewritten around
// internal/sequencer's replay-by-ID ring buffer per spec.md §6.3.
type EventHandler struct {
	seq *sequencer.Sequencer
}

// NewEventHandler creates an EventHandler backed by seq.
func NewEventHandler(seq *sequencer.Sequencer) *EventHandler {
	return &EventHandler{seq: seq}
}

// Stream handles GET /api/events?since=<id>. It replays buffered events
// with id > since (if provided, via Last-Event-ID header or the since
// query param), then streams live events until the client disconnects.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternal, "streaming unsupported")
		return
	}

	var lastID uint64
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		lastID, _ = strconv.ParseUint(id, 10, 64)
	} else if since := r.URL.Query().Get("since"); since != "" {
		lastID, _ = strconv.ParseUint(since, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, evt := range h.seq.Since(lastID) {
		writeSSEEvent(w, evt)
	}
	flusher.Flush()

	sub := make(sequencer.Subscriber, 32)
	h.seq.Subscribe(sub)
	defer h.seq.Unsubscribe(sub)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt sequencer.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
}
