// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/config"
)

// EnvHandler handles the shared (daemon-wide) environment overlay at
// `<home>/env.json`.
type EnvHandler struct {
	home string
}

// NewEnvHandler creates an EnvHandler rooted at home.
func NewEnvHandler(home string) *EnvHandler {
	return &EnvHandler{home: home}
}

func (h *EnvHandler) path() string {
	return filepath.Join(h.home, "env.json")
}

// Get handles GET /api/env.
func (h *EnvHandler) Get(w http.ResponseWriter, r *http.Request) {
	env, err := config.LoadEnvFile(h.path())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

// Put handles PUT /api/env/{key}.
func (h *EnvHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrValidation, "value is required")
		return
	}
	env, err := config.LoadEnvFile(h.path())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	env[key] = body.Value
	if err := config.WriteEnvFile(h.path(), env); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"key": key, "value": body.Value})
}

// Delete handles DELETE /api/env/{key}.
func (h *EnvHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	env, err := config.LoadEnvFile(h.path())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	delete(env, key)
	if err := config.WriteEnvFile(h.path(), env); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": key})
}
