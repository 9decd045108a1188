// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/volute-run/voluted/internal/activity"
	"github.com/volute-run/voluted/internal/budget"
	"github.com/volute-run/voluted/internal/config"
	"github.com/volute-run/voluted/internal/eventbus"
	"github.com/volute-run/voluted/internal/mind"
	"github.com/volute-run/voluted/internal/registry"
	"github.com/volute-run/voluted/internal/scheduler"
	"github.com/volute-run/voluted/internal/sequencer"
	"github.com/volute-run/voluted/internal/store"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(name string) (mind.Target, error) {
	return mind.Target{}, nil
}
func (fakeResolver) SetRunning(name string, running bool) error { return nil }

type fakeEnv struct{}

func (fakeEnv) SharedEnv() map[string]string          { return nil }
func (fakeEnv) MindEnv(mind string) map[string]string { return nil }

type fakeDeliverer struct{}

func (fakeDeliverer) Deliver(d scheduler.Delivery) {}

func newTestMindsHandler(t *testing.T) (*MindsHandler, *registry.Registry, string) {
	t.Helper()
	home := t.TempDir()

	reg, err := registry.New(filepath.Join(home, "minds.json"), 9100)
	require.NoError(t, err)

	db, err := store.Open(filepath.Join(home, "volute.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seq := sequencer.New()
	bus := eventbus.New(seq, db)
	tracker := activity.New(bus)

	sup := mind.New(home, "/bin/true", fakeResolver{}, bus, fakeEnv{}, nil)
	cfg := config.NewLoader()
	sched := scheduler.New(home, fakeDeliverer{})
	budgetMgr := budget.New(home)

	return NewMindsHandler(reg, sup, db, tracker, cfg, sched, budgetMgr, home), reg, home
}

func mustRequest(t *testing.T, method, target string, body any, vars map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	if vars != nil {
		r = mux.SetURLVars(r, vars)
	}
	return r
}

func TestMindsAddAndGet(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var created mindView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.Equal(t, "scout", created.Name)
	require.Equal(t, string(registry.StageSeed), created.Stage)

	w = httptest.NewRecorder()
	h.Get(w, mustRequest(t, http.MethodGet, "/api/minds/scout", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMindsGetNotFound(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Get(w, mustRequest(t, http.MethodGet, "/api/minds/ghost", nil, map[string]string{"name": "ghost"}))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMindsAddDuplicateNameConflicts(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestMindsRemove(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.Remove(w, mustRequest(t, http.MethodDelete, "/api/minds/scout", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Get(w, mustRequest(t, http.MethodGet, "/api/minds/scout", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMindsWakeSignalsActivity(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.Wake(w, mustRequest(t, http.MethodPost, "/api/minds/scout/wake", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, string(activity.StateActive), body["activity"])
}

func TestMindsHistoryRespectsLimit(t *testing.T) {
	h, _, home := newTestMindsHandler(t)
	_ = home

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	for i := 0; i < 3; i++ {
		_, err := h.store.RecordHistory(store.HistoryEntry{
			Mind:    "scout",
			Channel: "system:test",
			Type:    store.HistoryInbound,
			Content: []byte(`[]`),
		})
		require.NoError(t, err)
	}

	w = httptest.NewRecorder()
	h.History(w, mustRequest(t, http.MethodGet, "/api/minds/scout/history?limit=2", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)

	var entries []store.HistoryEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Len(t, entries, 2)
}

func TestMindsEnvRoundTrip(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.PutEnv(w, mustRequest(t, http.MethodPut, "/api/minds/scout/env/FOO", map[string]string{"value": "bar"}, map[string]string{"name": "scout", "key": "FOO"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetEnv(w, mustRequest(t, http.MethodGet, "/api/minds/scout/env", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)
	var env map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, "bar", env["FOO"])

	w = httptest.NewRecorder()
	h.DeleteEnv(w, mustRequest(t, http.MethodDelete, "/api/minds/scout/env/FOO", nil, map[string]string{"name": "scout", "key": "FOO"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetEnv(w, mustRequest(t, http.MethodGet, "/api/minds/scout/env", nil, map[string]string{"name": "scout"}))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	_, ok := env["FOO"]
	require.False(t, ok)
}

func TestMindsChannelsRoundTrip(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.PutChannel(w, mustRequest(t, http.MethodPut, "/api/minds/scout/channels/slack", map[string]string{"channel": "C123"}, map[string]string{"name": "scout", "connector": "slack"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetChannels(w, mustRequest(t, http.MethodGet, "/api/minds/scout/channels", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)
	var channels map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&channels))
	require.Equal(t, "C123", channels["slack"])

	w = httptest.NewRecorder()
	h.DeleteChannel(w, mustRequest(t, http.MethodDelete, "/api/minds/scout/channels/slack", nil, map[string]string{"name": "scout", "connector": "slack"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetChannels(w, mustRequest(t, http.MethodGet, "/api/minds/scout/channels", nil, map[string]string{"name": "scout"}))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&channels))
	_, ok := channels["slack"]
	require.False(t, ok)
}

func TestMindsVariantsLifecycle(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.AddVariant(w, mustRequest(t, http.MethodPost, "/api/minds/scout/variants",
		addVariantRequest{Name: "v2", Branch: "feature", Path: "/tmp/scout-v2", Port: 9200},
		map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.ListVariants(w, mustRequest(t, http.MethodGet, "/api/minds/scout/variants", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)
	var variants []registry.Variant
	require.NoError(t, json.NewDecoder(w.Body).Decode(&variants))
	require.Len(t, variants, 1)

	w = httptest.NewRecorder()
	h.RemoveVariant(w, mustRequest(t, http.MethodDelete, "/api/minds/scout/variants/v2", nil, map[string]string{"name": "scout", "variant": "v2"}))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMindsSchedulesReadsMindConfig(t *testing.T) {
	h, _, home := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	mindDir := filepath.Join(home, "minds", "scout")
	require.NoError(t, writeTestFile(mindDir, "volute.json", `{"schedules":[{"id":"daily","cron":"0 9 * * *","enabled":true}]}`))

	w = httptest.NewRecorder()
	h.Schedules(w, mustRequest(t, http.MethodGet, "/api/minds/scout/schedules", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusOK, w.Code)

	var schedules []config.ScheduleConfig
	require.NoError(t, json.NewDecoder(w.Body).Decode(&schedules))
	require.Len(t, schedules, 1)
	require.Equal(t, "0 9 * * *", schedules[0].Cron)
}

func TestMindsStopNotTrackedConflicts(t *testing.T) {
	h, _, _ := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.Stop(w, mustRequest(t, http.MethodPost, "/api/minds/scout/stop", nil, map[string]string{"name": "scout"}))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestMindsLoadMindConfigInstallsBudget(t *testing.T) {
	h, _, home := newTestMindsHandler(t)

	w := httptest.NewRecorder()
	h.Add(w, mustRequest(t, http.MethodPost, "/api/minds", addMindRequest{Name: "scout"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	mindDir := filepath.Join(home, "minds", "scout")
	require.NoError(t, writeTestFile(mindDir, "volute.json", `{"budget":{"token_limit":100,"period_minutes":60}}`))

	h.loadMindConfig("scout")

	h.budget.RecordUsage("scout", 80, 20)
	require.Equal(t, budget.GateExceeded, h.budget.CheckBudget("scout"))
}

func TestMindsReconcileRunningRestoresPersistedBudget(t *testing.T) {
	h, reg, home := newTestMindsHandler(t)

	_, err := reg.Add("scout", 9100, registry.StageSprouted, "", "2026-07-31T00:00:00Z")
	require.NoError(t, err)

	prior := budget.New(home)
	require.NoError(t, prior.SetBudget("scout", budget.Config{TokenLimit: 100, PeriodMinutes: 60}))
	prior.RecordUsage("scout", 90, 20)
	require.NoError(t, prior.Flush())

	h.ReconcileRunning(context.Background())

	require.Equal(t, budget.GateExceeded, h.budget.CheckBudget("scout"))
}

func writeTestFile(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
}
