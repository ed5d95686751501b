package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/portwatch/portwatch/internal/alerter"
	"github.com/portwatch/portwatch/internal/clock"
	"github.com/portwatch/portwatch/internal/prober"
	"github.com/portwatch/portwatch/internal/scheduler"
	"github.com/portwatch/portwatch/internal/store"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/portwatch/portwatch/internal/uptime"
	"github.com/portwatch/portwatch/internal/webui"
	"github.com/rs/zerolog"
)

type hostProber struct {
	mu   sync.Mutex
	down map[string]bool
}

func (p *hostProber) Probe(_ context.Context, host string, _ int, _ prober.Policy) prober.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[host] {
		return prober.Outcome{LatencyMs: types.LatencyUnmeasured, Failure: types.FailureTimeout, Attempts: 3}
	}
	return prober.Outcome{Reachable: true, LatencyMs: 7, Attempts: 1}
}

type nopNotifier struct{}

func (nopNotifier) NotifyDown(context.Context, types.Alert) error { return nil }
func (nopNotifier) NotifyUp(context.Context, types.Alert) error   { return nil }

type testEnv struct {
	server *Server
	store  *store.Store
	engine *alerter.Engine
	sched  *scheduler.Scheduler
	prober *hostProber
	clock  *clock.Fake
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zerolog.Nop()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), clk, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	engine := alerter.NewEngine(1, st, nopNotifier{}, nil, clk, log)
	calc := uptime.NewCalculator(st, clk, time.UTC, log)
	p := &hostProber{down: map[string]bool{}}
	sched := scheduler.New(p, st, st, engine, scheduler.Options{
		Interval:      time.Minute,
		Policy:        prober.Policy{Timeout: time.Second, Retries: 1},
		MaxConcurrent: 4,
	}, clk, log)
	hub := NewHub(log)

	srv := NewServer(st, engine, calc, sched, hub, log, "0")
	return &testEnv{server: srv, store: st, engine: engine, sched: sched, prober: p, clock: clk, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEndpointLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/endpoints", map[string]interface{}{"name": "web", "host": "web.example", "port": 443})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var created types.Endpoint
	decode(t, rec, &created)

	if rec := env.do(t, http.MethodPost, "/api/endpoints", map[string]interface{}{"name": "web", "host": "other", "port": 80}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/endpoints", map[string]interface{}{"name": "bad", "host": "x", "port": 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/endpoints", nil)
	var list struct {
		Endpoints []types.EndpointStatus `json:"endpoints"`
		Count     int                    `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 || list.Endpoints[0].Name != "web" || !list.Endpoints[0].Status.Unknown() {
		t.Fatalf("list = %+v", list)
	}

	if rec := env.do(t, http.MethodPost, "/api/endpoints/web/publish", nil); rec.Code != http.StatusOK {
		t.Errorf("publish = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/endpoints/ghost/publish", nil); rec.Code != http.StatusNotFound {
		t.Errorf("publish unknown = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/public", nil)
	var public struct {
		Endpoints []struct {
			Name   string             `json:"name"`
			Uptime types.UptimeReport `json:"uptime"`
		} `json:"endpoints"`
	}
	decode(t, rec, &public)
	if len(public.Endpoints) != 1 || public.Endpoints[0].Uptime.UptimePercent != 100 {
		t.Fatalf("public = %+v", public)
	}

	if rec := env.do(t, http.MethodDelete, "/api/endpoints/web", nil); rec.Code != http.StatusOK {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/endpoints/web", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete twice = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/endpoints/"+itoa(created.ID)+"/status", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d", rec.Code)
	}
}

func TestStatusAndUptimeAfterOutage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ep, err := env.store.AddEndpoint(ctx, "db", "db.internal", 5432)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	env.prober.down["db.internal"] = true
	env.clock.Advance(-2 * time.Hour)
	if _, err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/status", nil)
	var summary struct {
		LastCycle struct {
			ID     string `json:"id"`
			Failed int    `json:"failed"`
		} `json:"last_cycle"`
	}
	decode(t, rec, &summary)
	if summary.LastCycle.ID == "" || summary.LastCycle.Failed != 1 {
		t.Fatalf("status summary = %+v", summary)
	}

	rec = env.do(t, http.MethodGet, "/api/alerts", nil)
	var alerts struct {
		Count int `json:"count"`
	}
	decode(t, rec, &alerts)
	if alerts.Count != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.Count)
	}

	env.prober.down["db.internal"] = false
	env.clock.Advance(time.Hour)
	if _, err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	env.clock.Advance(time.Hour)

	rec = env.do(t, http.MethodGet, "/api/endpoints/"+itoa(ep.ID)+"/uptime?window=24h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("uptime = %d %s", rec.Code, rec.Body.String())
	}
	var report types.UptimeReport
	decode(t, rec, &report)
	if report.UptimePercent != 95.83 || len(report.Periods) != 1 || report.Periods[0].DurationMinutes != 60 {
		t.Fatalf("report = %+v", report)
	}

	rec = env.do(t, http.MethodGet, "/api/endpoints/"+itoa(ep.ID)+"/status", nil)
	var status struct {
		Status types.StatusRecord `json:"status"`
		Phase  string             `json:"phase"`
	}
	decode(t, rec, &status)
	if !status.Status.IsAlive.Valid || !status.Status.IsAlive.Bool || status.Status.LatencyMs != 7 || status.Phase != "ok" {
		t.Fatalf("status = %+v", status)
	}

	if rec := env.do(t, http.MethodGet, "/api/endpoints/"+itoa(ep.ID)+"/uptime?window=soon", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad window = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/endpoints/abc/status", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d", rec.Code)
	}
}

func TestAdHocCheckDoesNotAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ep, err := env.store.AddEndpoint(ctx, "cache", "cache.internal", 6379)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	env.prober.down["cache.internal"] = true

	rec := env.do(t, http.MethodPost, "/api/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check = %d", rec.Code)
	}
	var report types.CycleReport
	decode(t, rec, &report)
	if !report.AdHoc || len(report.Results) != 1 || report.Results[0].Reachable {
		t.Fatalf("report = %+v", report)
	}

	if len(env.engine.GetActiveAlerts()) != 0 {
		t.Fatal("ad-hoc check must not raise alerts")
	}
	last, err := env.store.LastEvent(ctx, ep.ID)
	if err != nil || last != nil {
		t.Fatalf("ledger touched by ad-hoc check: %+v %v", last, err)
	}
	status, err := env.store.GetStatus(ctx, ep.ID)
	if err != nil || !status.IsAlive.Valid || status.IsAlive.Bool {
		t.Fatalf("status should record the failure: %+v %v", status, err)
	}

	if rec := env.do(t, http.MethodGet, "/api/check", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET check = %d", rec.Code)
	}
}

func TestInterval(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/interval", map[string]int{"seconds": 5}); rec.Code != http.StatusBadRequest {
		t.Errorf("short interval = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/interval", map[string]int{"seconds": 120})
	var out struct {
		Seconds int `json:"interval_seconds"`
	}
	decode(t, rec, &out)
	if out.Seconds != 120 {
		t.Errorf("interval = %d", out.Seconds)
	}
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	lb := webui.NewLogBuffer(10)
	logger := zerolog.New(lb)
	logger.Error().Msg("Failed to write status")
	logger.Info().Msg("Cycle completed")
	env.server.SetLogBuffer(lb)

	rec := env.do(t, http.MethodGet, "/api/logs?level=error", nil)
	var out struct {
		Entries []webui.LogEntry `json:"entries"`
	}
	decode(t, rec, &out)
	if len(out.Entries) != 1 || out.Entries[0].Message != "Failed to write status" {
		t.Fatalf("entries = %+v", out.Entries)
	}
}

func TestWebsocketReceivesCycleUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	if _, err := env.store.AddEndpoint(ctx, "web", "web.example", 443); err != nil {
		t.Fatalf("add: %v", err)
	}
	env.sched.OnCycle(env.hub.PublishCycle)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := env.sched.RunOnce(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg UpdateMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "update" || msg.CycleID == "" || len(msg.Results) != 1 || msg.Results[0].Name != "web" {
		t.Fatalf("message = %+v", msg)
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
