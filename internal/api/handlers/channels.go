// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/api/middleware"
	"github.com/volute-run/voluted/internal/store"
)

// ChannelsHandler implements the volute-internal channel surface: named
// channels that any mind can be addressed through, independent of an
// external connector.
type ChannelsHandler struct {
	store *store.Store
}

// NewChannelsHandler creates a ChannelsHandler.
func NewChannelsHandler(s *store.Store) *ChannelsHandler {
	return &ChannelsHandler{store: s}
}

type createChannelRequest struct {
	Name string `json:"name"`
	Mind string `json:"mind"`
}

// Create handles POST /api/volute/channels.
func (h *ChannelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "name is required")
		return
	}
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, ErrUnauthed, "login required")
		return
	}
	c, err := h.store.CreateChannel(req.Mind, req.Name, u.ID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			WriteError(w, http.StatusConflict, ErrConflict, "channel name already exists")
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, c)
}

// List handles GET /api/volute/channels?mind=.
func (h *ChannelsHandler) List(w http.ResponseWriter, r *http.Request) {
	mind := r.URL.Query().Get("mind")
	channels, err := h.store.ListChannels(mind)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, channels)
}

// Join handles POST /api/volute/channels/{name}/join.
func (h *ChannelsHandler) Join(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, ErrUnauthed, "login required")
		return
	}
	if err := h.store.JoinChannel(name, u.ID); err != nil {
		writeChannelError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"joined": name})
}

// Leave handles POST /api/volute/channels/{name}/leave.
func (h *ChannelsHandler) Leave(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, ErrUnauthed, "login required")
		return
	}
	if err := h.store.LeaveChannel(name, u.ID); err != nil {
		writeChannelError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"left": name})
}

type inviteRequest struct {
	UserID int64 `json:"user_id"`
}

// Invite handles POST /api/volute/channels/{name}/invite.
func (h *ChannelsHandler) Invite(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		WriteError(w, http.StatusBadRequest, ErrValidation, "user_id is required")
		return
	}
	if err := h.store.JoinChannel(name, req.UserID); err != nil {
		writeChannelError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"invited": req.UserID})
}

// Members handles GET /api/volute/channels/{name}/members.
func (h *ChannelsHandler) Members(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, err := h.store.GetChannelByName(name)
	if err != nil {
		writeChannelError(w, err)
		return
	}
	participants, err := h.store.Participants(c.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, participants)
}

func writeChannelError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "channel not found")
		return
	}
	WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
}
