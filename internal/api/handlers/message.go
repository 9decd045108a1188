// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/pipeline"
)

// MessageHandler exposes the message pipeline over HTTP.
type MessageHandler struct {
	pipeline *pipeline.Pipeline
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(p *pipeline.Pipeline) *MessageHandler {
	return &MessageHandler{pipeline: p}
}

// Deliver handles POST /api/minds/{name}/message. It streams the mind's
// NDJSON response back to the caller as it arrives.
func (h *MessageHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrValidation, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternal, "streaming unsupported")
		return
	}

	req, err := h.pipeline.Accept(name, req)
	if errors.Is(err, pipeline.ErrQueued) {
		WriteJSON(w, http.StatusAccepted, map[string]any{"queued": true, "reason": "budget-exceeded"})
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}

	resp, conv, err := h.pipeline.Connect(r.Context(), name, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrMindNotRunning) {
			WriteError(w, http.StatusServiceUnavailable, ErrUpstream, "mind not running")
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	if err := h.pipeline.Stream(r.Context(), name, conv, resp, w, flusher.Flush); err != nil {
		w.Write([]byte(`{"type":"error","message":"` + err.Error() + `"}` + "\n"))
	}
}
