// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/sequencer"
	"github.com/volute-run/voluted/internal/typing"
)

// TypingHandler exposes the typing map over HTTP. Typing events are
// published straight to the sequencer rather than through the eventbus,
// since they're ephemeral per spec.md §4.6 and have no business being
// persisted into the mind history store.
type TypingHandler struct {
	typing *typing.Map
	seq    *sequencer.Sequencer
}

// NewTypingHandler creates a TypingHandler.
func NewTypingHandler(t *typing.Map, seq *sequencer.Sequencer) *TypingHandler {
	return &TypingHandler{typing: t, seq: seq}
}

type setTypingRequest struct {
	Sender     string `json:"sender"`
	Persistent bool   `json:"persistent"`
}

// Set handles POST /api/volute/channels/{name}/typing.
func (h *TypingHandler) Set(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["name"]
	var req setTypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sender == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "sender is required")
		return
	}
	h.typing.Set(channel, req.Sender, typing.DefaultTTL, req.Persistent)
	h.publish(channel)
	WriteJSON(w, http.StatusOK, map[string]any{"channel": channel, "typing": h.typing.Get(channel)})
}

// Get handles GET /api/volute/channels/{name}/typing.
func (h *TypingHandler) Get(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["name"]
	WriteJSON(w, http.StatusOK, map[string]any{"channel": channel, "typing": h.typing.Get(channel)})
}

// Clear handles DELETE /api/volute/typing/{sender}, removing sender from
// every channel it's currently marked typing in (e.g. on disconnect).
func (h *TypingHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	for _, channel := range h.typing.DeleteSender(sender) {
		h.publish(channel)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cleared": sender})
}

func (h *TypingHandler) publish(channel string) {
	h.seq.Publish(sequencer.Event{
		Type:    "typing",
		Summary: channel,
		Payload: map[string]interface{}{"channel": channel, "typing": h.typing.Get(channel)},
	})
}
