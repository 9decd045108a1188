// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const userContextKey contextKey = iota

// AuthedUser is the identity attached to the request context by Auth,
// for handlers to branch on.
type AuthedUser struct {
	ID       int64
	Username string
	Role     string
	IsDaemon bool // true for a bearer-token request, per spec.md §4.9
}

// SessionCookieName is the name of the browser session cookie.
const SessionCookieName = "volute_session"

// SessionLookup resolves a session cookie value to its user, and
// DaemonToken is the daemon's own boot-generated token (bearer auth
// bypasses conversation-participant checks per spec.md §4.9).
type SessionLookup func(sessionID string) (id int64, username, role string, ok bool)

// Auth builds an authentication middleware. Unauthenticated requests
// receive 401 except for paths present in openPaths (e.g. /api/health,
// /api/auth/login, /api/auth/register).
func Auth(lookup SessionLookup, daemonToken string, openPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token := strings.TrimPrefix(auth, "Bearer ")
				if token == daemonToken {
					ctx := context.WithValue(r.Context(), userContextKey, &AuthedUser{ID: 0, Username: "daemon", Role: "admin", IsDaemon: true})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid bearer token"}}`, http.StatusUnauthorized)
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"missing session"}}`, http.StatusUnauthorized)
				return
			}
			id, username, role, ok := lookup(cookie.Value)
			if !ok {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"invalid session"}}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, &AuthedUser{ID: id, Username: username, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext recovers the AuthedUser attached by Auth, if any.
func UserFromContext(ctx context.Context) (*AuthedUser, bool) {
	u, ok := ctx.Value(userContextKey).(*AuthedUser)
	return u, ok
}
