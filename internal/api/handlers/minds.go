// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/volute-run/voluted/internal/activity"
	"github.com/volute-run/voluted/internal/budget"
	"github.com/volute-run/voluted/internal/config"
	"github.com/volute-run/voluted/internal/mind"
	"github.com/volute-run/voluted/internal/registry"
	"github.com/volute-run/voluted/internal/scheduler"
	"github.com/volute-run/voluted/internal/store"
)

// MindsHandler implements the mind-scoped HTTP surface: registration,
// lifecycle, env, variants, history and wake.
type MindsHandler struct {
	reg        *registry.Registry
	supervisor *mind.Supervisor
	store      *store.Store
	activity   *activity.Tracker
	cfg        *config.Loader
	sched      *scheduler.Scheduler
	budget     *budget.Manager
	home       string
}

// NewMindsHandler creates a MindsHandler rooted at home (the daemon's
// state directory, used to locate per-mind env.json/volute.json files).
func NewMindsHandler(reg *registry.Registry, sup *mind.Supervisor, db *store.Store, tracker *activity.Tracker, cfg *config.Loader, sched *scheduler.Scheduler, budgetMgr *budget.Manager, home string) *MindsHandler {
	return &MindsHandler{reg: reg, supervisor: sup, store: db, activity: tracker, cfg: cfg, sched: sched, budget: budgetMgr, home: home}
}

// loadMindConfig reads mind's volute.json and applies it: registers its
// schedules with the scheduler and installs its budget config, if any.
// Called whenever a mind transitions to running, and once per mind at
// boot via ReconcileRunning.
func (h *MindsHandler) loadMindConfig(name string) {
	mc, err := h.cfg.LoadMindConfig(filepath.Join(h.home, "minds", name))
	if err != nil {
		return
	}
	if len(mc.Schedules) > 0 {
		scheds := make([]scheduler.Schedule, len(mc.Schedules))
		for i, s := range mc.Schedules {
			scheds[i] = scheduler.Schedule{ID: s.ID, Cron: s.Cron, Enabled: s.Enabled, Message: s.Message, Script: s.Script}
		}
		h.sched.LoadSchedules(name, filepath.Join(h.home, "minds", name), scheds)
	}
	if mc.Budget != nil {
		cfg := budget.Config{TokenLimit: mc.Budget.TokenLimit, PeriodMinutes: mc.Budget.PeriodMinutes}
		if err := h.budget.SetBudget(name, cfg); err != nil {
			log.Printf("minds: %s: set budget: %v", name, err)
		}
	}
}

// ReconcileRunning restores every mind's persisted budget state and
// restarts every mind the registry last saw as running, called once at
// daemon boot so a host reboot or daemon restart doesn't strand minds in
// a "running" state with no process behind them, or reset a mind's
// token usage to zero. StartMind's own stale-PID and port-collision
// checks handle the case where the mind's process actually survived the
// daemon restart.
func (h *MindsHandler) ReconcileRunning(ctx context.Context) {
	for _, e := range h.reg.List() {
		if err := h.budget.Load(e.Name); err != nil {
			log.Printf("minds: reconcile %s: load budget: %v", e.Name, err)
		}
		if !e.Running {
			continue
		}
		if err := h.supervisor.StartMind(ctx, e.Name); err != nil {
			log.Printf("minds: reconcile %s: %v", e.Name, err)
			continue
		}
		h.loadMindConfig(e.Name)
	}
}

type mindView struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Created  string `json:"created"`
	Running  bool   `json:"running"`
	Stage    string `json:"stage"`
	Template string `json:"template,omitempty"`
	Activity string `json:"activity"`
}

func (h *MindsHandler) view(e registry.Entry) mindView {
	return mindView{
		Name:     e.Name,
		Port:     e.Port,
		Created:  e.Created,
		Running:  e.Running,
		Stage:    string(e.Stage),
		Template: e.Template,
		Activity: string(h.activity.Get(e.Name)),
	}
}

// List handles GET /api/minds and GET /api/agents (backward-compatible
// alias).
func (h *MindsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.reg.List()
	out := make([]mindView, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.view(e))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get handles GET /api/minds/{name}.
func (h *MindsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, err := h.reg.Find(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}
	WriteJSON(w, http.StatusOK, h.view(e))
}

type addMindRequest struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Stage    string `json:"stage"`
	Template string `json:"template"`
}

// Add handles POST /api/minds.
func (h *MindsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addMindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "name is required")
		return
	}
	stage := registry.StageSeed
	if req.Stage == string(registry.StageSprouted) {
		stage = registry.StageSprouted
	}
	port := req.Port
	if port == 0 {
		port = h.reg.NextPort()
	}
	e, err := h.reg.Add(req.Name, port, stage, req.Template, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, h.view(e))
}

// Remove handles DELETE /api/minds/{name}. Refuses to remove a mind the
// supervisor still has tracked as running.
func (h *MindsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if h.supervisor.IsRunning(name) {
		WriteError(w, http.StatusConflict, ErrConflict, "stop the mind before removing it")
		return
	}
	if err := h.reg.Remove(name); err != nil {
		writeRegistryError(w, err)
		return
	}
	h.sched.UnloadSchedules(name)
	WriteJSON(w, http.StatusOK, map[string]any{"removed": name})
}

// Start handles POST /api/minds/{name}/start.
func (h *MindsHandler) Start(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.supervisor.StartMind(r.Context(), name); err != nil {
		writeSupervisorError(w, err)
		return
	}
	h.loadMindConfig(name)
	WriteJSON(w, http.StatusOK, map[string]any{"name": name, "running": true})
}

// Stop handles POST /api/minds/{name}/stop.
func (h *MindsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.supervisor.StopMind(r.Context(), name); err != nil {
		writeSupervisorError(w, err)
		return
	}
	h.sched.UnloadSchedules(name)
	WriteJSON(w, http.StatusOK, map[string]any{"name": name, "running": false})
}

// Restart handles POST /api/minds/{name}/restart.
func (h *MindsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.supervisor.RestartMind(r.Context(), name); err != nil {
		writeSupervisorError(w, err)
		return
	}
	h.loadMindConfig(name)
	WriteJSON(w, http.StatusOK, map[string]any{"name": name, "running": true})
}

// Wake handles POST /api/minds/{name}/wake: forces the activity tracker
// to treat the mind as actively signaled, without waiting for the next
// inbound message. Used by connectors that want a visible "thinking"
// state ahead of actually forwarding content.
func (h *MindsHandler) Wake(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := h.reg.Find(name); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}
	h.activity.Signal(name, activity.SignalSessionStart)
	WriteJSON(w, http.StatusOK, map[string]any{"name": name, "activity": string(h.activity.Get(name))})
}

// History handles GET /api/minds/{name}/history?channel=&limit=.
func (h *MindsHandler) History(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	channel := r.URL.Query().Get("channel")
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.store.History(name, channel, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// ExportHistory handles GET /api/minds/{name}/history/export, returning
// the same rows as History as a downloadable JSON document.
func (h *MindsHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	channel := r.URL.Query().Get("channel")
	entries, err := h.store.History(name, channel, 0)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"-history.json\"")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}

// GetEnv handles GET /api/minds/{name}/env.
func (h *MindsHandler) GetEnv(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	env, err := config.LoadEnvFile(h.mindEnvPath(name))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

// PutEnv handles PUT /api/minds/{name}/env/{key}.
func (h *MindsHandler) PutEnv(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	key := mux.Vars(r)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrValidation, "value is required")
		return
	}
	path := h.mindEnvPath(name)
	env, err := config.LoadEnvFile(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	env[key] = body.Value
	if err := config.WriteEnvFile(path, env); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"key": key, "value": body.Value})
}

// DeleteEnv handles DELETE /api/minds/{name}/env/{key}.
func (h *MindsHandler) DeleteEnv(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	key := mux.Vars(r)["key"]
	path := h.mindEnvPath(name)
	env, err := config.LoadEnvFile(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	delete(env, key)
	if err := config.WriteEnvFile(path, env); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": key})
}

func (h *MindsHandler) mindEnvPath(name string) string {
	return filepath.Join(h.home, "minds", name, "env.json")
}

// GetChannels handles GET /api/minds/{name}/channels, returning the
// mind's connector→platform channel mappings.
func (h *MindsHandler) GetChannels(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	channels, err := config.LoadChannelMap(h.mindChannelsPath(name))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, channels)
}

// PutChannel handles PUT /api/minds/{name}/channels/{connector}, mapping
// a connector to the platform channel id it delivers into.
func (h *MindsHandler) PutChannel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	connector := mux.Vars(r)["connector"]
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Channel == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "channel is required")
		return
	}
	path := h.mindChannelsPath(name)
	channels, err := config.LoadChannelMap(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	channels[connector] = body.Channel
	if err := config.WriteChannelMap(path, channels); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"connector": connector, "channel": body.Channel})
}

// DeleteChannel handles DELETE /api/minds/{name}/channels/{connector}.
func (h *MindsHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	connector := mux.Vars(r)["connector"]
	path := h.mindChannelsPath(name)
	channels, err := config.LoadChannelMap(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	delete(channels, connector)
	if err := config.WriteChannelMap(path, channels); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": connector})
}

func (h *MindsHandler) mindChannelsPath(name string) string {
	return filepath.Join(h.home, "state", name, "channels.json")
}

// ListVariants handles GET /api/minds/{name}/variants.
func (h *MindsHandler) ListVariants(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	WriteJSON(w, http.StatusOK, h.reg.Variants(name))
}

type addVariantRequest struct {
	Name   string `json:"name"`
	Branch string `json:"branch"`
	Path   string `json:"path"`
	Port   int    `json:"port"`
}

// AddVariant handles POST /api/minds/{name}/variants.
func (h *MindsHandler) AddVariant(w http.ResponseWriter, r *http.Request) {
	parent := mux.Vars(r)["name"]
	var req addVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Path == "" {
		WriteError(w, http.StatusBadRequest, ErrValidation, "name and path are required")
		return
	}
	if _, err := h.reg.Find(parent); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "parent mind not found")
		return
	}
	port := req.Port
	if port == 0 {
		port = h.reg.NextPort()
	}
	v := registry.Variant{Parent: parent, Name: req.Name, Branch: req.Branch, Path: req.Path, Port: port}
	if err := h.reg.AddVariant(v); err != nil {
		writeRegistryError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, v)
}

// RemoveVariant handles DELETE /api/minds/{name}/variants/{variant}.
func (h *MindsHandler) RemoveVariant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	parent, variant := vars["name"], vars["variant"]
	if h.supervisor.IsRunning(parent + "@" + variant) {
		WriteError(w, http.StatusConflict, ErrConflict, "stop the variant before removing it")
		return
	}
	if err := h.reg.RemoveVariant(parent, variant); err != nil {
		writeRegistryError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"removed": parent + "@" + variant})
}

// Schedules handles GET /api/minds/{name}/schedules, a read-only view of
// the mind's volute.json schedules. Schedules themselves are edited by
// hand in volute.json, not through the API.
func (h *MindsHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, err := h.reg.Find(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "mind not found")
		return
	}
	mc, err := h.cfg.LoadMindConfig(filepath.Join(h.home, "minds", e.Name))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, mc.Schedules)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrVariantNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, registry.ErrDuplicate), errors.Is(err, registry.ErrPortInUse):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidName):
		WriteError(w, http.StatusBadRequest, ErrValidation, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
	}
}

func writeSupervisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mind.ErrUnknownMind):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, mind.ErrAlreadyTracked):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, mind.ErrNotTracked):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, ErrUpstream, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
	}
}
