// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/api/handlers"
	"github.com/volute-run/voluted/internal/api/middleware"
	"github.com/volute-run/voluted/internal/api/version"
)

// ServerConfig holds the daemon's HTTP listener configuration. The
// daemon binds 127.0.0.1 only per spec.md §6.1 — there is no TLS
// surface to configure.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds every handler the router wires up.
type Dependencies struct {
	Minds    *handlers.MindsHandler
	Env      *handlers.EnvHandler
	Events   *handlers.EventHandler
	Channels *handlers.ChannelsHandler
	Pages    *handlers.PagesHandler
	Auth     *handlers.AuthHandler
	Message  *handlers.MessageHandler
	Typing   *handlers.TypingHandler

	// DaemonToken authenticates bearer-token requests (the daemon's own
	// boot token, per spec.md §4.9).
	DaemonToken string
	// OriginHost is compared against a mutating request's Origin header
	// by the CSRF middleware.
	OriginHost string
}

// openPaths lists routes reachable without authentication.
var openPaths = map[string]bool{
	"/api/health":        true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
}

// NewRouter builds the daemon's HTTP router: logging → panic recovery →
// CSRF origin check → session/bearer auth, then the full route surface.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CSRF(deps.OriginHost))
	r.Use(middleware.Auth(deps.Auth.Lookup, deps.DaemonToken, openPaths))
	r.Use(version.Middleware)

	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version.LatestVersion})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", deps.Auth.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", deps.Auth.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", deps.Auth.Logout).Methods(http.MethodPost)

	r.HandleFunc("/api/minds", deps.Minds.List).Methods(http.MethodGet)
	r.HandleFunc("/api/minds", deps.Minds.Add).Methods(http.MethodPost)
	r.HandleFunc("/api/agents", deps.Minds.List).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}", deps.Minds.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}", deps.Minds.Remove).Methods(http.MethodDelete)
	r.HandleFunc("/api/minds/{name}/start", deps.Minds.Start).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/stop", deps.Minds.Stop).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/restart", deps.Minds.Restart).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/wake", deps.Minds.Wake).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/message", deps.Message.Deliver).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/history", deps.Minds.History).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}/history/export", deps.Minds.ExportHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}/env", deps.Minds.GetEnv).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}/env/{key}", deps.Minds.PutEnv).Methods(http.MethodPut)
	r.HandleFunc("/api/minds/{name}/env/{key}", deps.Minds.DeleteEnv).Methods(http.MethodDelete)
	r.HandleFunc("/api/minds/{name}/channels", deps.Minds.GetChannels).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}/channels/{connector}", deps.Minds.PutChannel).Methods(http.MethodPut)
	r.HandleFunc("/api/minds/{name}/channels/{connector}", deps.Minds.DeleteChannel).Methods(http.MethodDelete)
	r.HandleFunc("/api/minds/{name}/variants", deps.Minds.ListVariants).Methods(http.MethodGet)
	r.HandleFunc("/api/minds/{name}/variants", deps.Minds.AddVariant).Methods(http.MethodPost)
	r.HandleFunc("/api/minds/{name}/variants/{variant}", deps.Minds.RemoveVariant).Methods(http.MethodDelete)
	r.HandleFunc("/api/minds/{name}/schedules", deps.Minds.Schedules).Methods(http.MethodGet)

	r.HandleFunc("/api/env", deps.Env.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/env/{key}", deps.Env.Put).Methods(http.MethodPut)
	r.HandleFunc("/api/env/{key}", deps.Env.Delete).Methods(http.MethodDelete)

	r.HandleFunc("/api/events", deps.Events.Stream).Methods(http.MethodGet)

	r.HandleFunc("/api/volute/channels", deps.Channels.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/volute/channels", deps.Channels.List).Methods(http.MethodGet)
	r.HandleFunc("/api/volute/channels/{name}/join", deps.Channels.Join).Methods(http.MethodPost)
	r.HandleFunc("/api/volute/channels/{name}/leave", deps.Channels.Leave).Methods(http.MethodPost)
	r.HandleFunc("/api/volute/channels/{name}/invite", deps.Channels.Invite).Methods(http.MethodPost)
	r.HandleFunc("/api/volute/channels/{name}/members", deps.Channels.Members).Methods(http.MethodGet)
	r.HandleFunc("/api/volute/channels/{name}/typing", deps.Typing.Set).Methods(http.MethodPost)
	r.HandleFunc("/api/volute/channels/{name}/typing", deps.Typing.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/volute/typing/{sender}", deps.Typing.Clear).Methods(http.MethodDelete)

	r.HandleFunc("/pages/{name}/{rest:.*}", deps.Pages.Serve).Methods(http.MethodGet)
	r.HandleFunc("/pages/{name}", deps.Pages.Serve).Methods(http.MethodGet)

	return r
}

// Server wraps an http.Server around a router built by NewRouter.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Println("shutting down API server")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
