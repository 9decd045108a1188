// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import "net/http"

// CSRF rejects mutating requests whose Origin header doesn't match the
// daemon's own origin, per spec.md §4.9. GET/HEAD/OPTIONS are exempt.
// Requests with no Origin header (CLI/bearer-token clients) are also
// exempt — Origin is a browser-only header.
func CSRF(originHost string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if origin != originHost {
				http.Error(w, `{"error":{"code":"FORBIDDEN","message":"origin mismatch"}}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
