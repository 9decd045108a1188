// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/volute-run/voluted/internal/api/middleware"
	"github.com/volute-run/voluted/internal/store"
)

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	store *store.Store
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(s *store.Store) *AuthHandler {
	return &AuthHandler{store: s}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /api/auth/register. The first registered user
// becomes admin; subsequent registrations start pending until an admin
// promotes them.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "username and password are required")
		return
	}

	if _, err := h.store.GetUserByUsername(creds.Username); err == nil {
		WriteError(w, http.StatusConflict, ErrConflict, "username already taken")
		return
	}

	count, err := h.store.UserCount()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	role := store.RolePending
	if count == 0 {
		role = store.RoleAdmin
	}

	u, err := h.store.CreateUser(creds.Username, hashPassword(creds.Password), role, store.UserTypeBrain)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}

	if role == store.RolePending {
		WriteJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username, "role": u.Role})
		return
	}

	if err := h.issueSession(w, u.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username, "role": u.Role})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		WriteError(w, http.StatusBadRequest, ErrValidation, "invalid request body")
		return
	}

	u, err := h.store.GetUserByUsername(creds.Username)
	if err != nil || u.PasswordHash != hashPassword(creds.Password) {
		WriteError(w, http.StatusUnauthorized, ErrUnauthed, "invalid credentials")
		return
	}

	if err := h.issueSession(w, u.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": u.ID, "username": u.Username, "role": u.Role})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		h.store.DeleteSession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: middleware.SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, userID int64) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	sessionID := hex.EncodeToString(buf)
	if err := h.store.CreateSession(sessionID, userID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// Lookup adapts the store to middleware.SessionLookup.
func (h *AuthHandler) Lookup(sessionID string) (int64, string, string, bool) {
	u, err := h.store.GetSessionUser(sessionID)
	if err != nil {
		return 0, "", "", false
	}
	return u.ID, u.Username, string(u.Role), true
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
