// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"time"
)

// errorEnvelope mirrors handlers.Response/ErrorInfo/MetaInfo's JSON shape.
// It can't just call into handlers.WriteError: handlers already imports
// this package for UserFromContext, so the reverse import would cycle.
// Kept in lockstep with response.go's field names/tags by hand.
type errorEnvelope struct {
	Error errorInfo `json:"error"`
	Meta  metaInfo  `json:"meta"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type metaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// Recovery is middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered: %v\n%s", err, debug.Stack())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(errorEnvelope{
					Error: errorInfo{Code: "INTERNAL_ERROR", Message: "Internal server error"},
					Meta:  metaInfo{Timestamp: time.Now()},
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
