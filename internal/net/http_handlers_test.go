package net

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"mirage/server/internal/actor"
	"mirage/server/internal/net/ws"
	"mirage/server/internal/sim"
)

type stubEngine struct {
	stats sim.Stats
}

func (s stubEngine) Stats() sim.Stats { return s.stats }

func (s stubEngine) Config() sim.Config { return sim.DefaultConfig() }

func TestHealthReturnsOK(t *testing.T) {
	handler := NewHTTPHandler(HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("expected body ok, got %q", body)
	}
}

func TestDiagnosticsRejectsWrongMethod(t *testing.T) {
	handler := NewHTTPHandler(HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405 Method Not Allowed, got %d", resp.Code)
	}
}

func TestDiagnosticsIncludesEngineStats(t *testing.T) {
	engine := stubEngine{stats: sim.Stats{Tick: 42, Running: true, Actors: 3, Regions: 2, Shards: []int{0, 1}}}
	handler := NewHTTPHandler(HTTPHandlerConfig{
		Engine: engine,
		Clock:  func() time.Time { return time.UnixMilli(1700000000000) },
	})

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if serverTime, _ := payload["serverTime"].(float64); serverTime != 1700000000000 {
		t.Fatalf("expected pinned server time, got %v", payload["serverTime"])
	}
	if tickRate, _ := payload["tickRate"].(float64); int(tickRate) != sim.DefaultConfig().TickRate {
		t.Fatalf("expected tick rate %d, got %v", sim.DefaultConfig().TickRate, payload["tickRate"])
	}
	engineValue, ok := payload["engine"].(map[string]any)
	if !ok {
		t.Fatalf("expected engine object in diagnostics payload, got %T", payload["engine"])
	}
	if tick, _ := engineValue["tick"].(float64); tick != 42 {
		t.Fatalf("expected tick 42, got %v", engineValue["tick"])
	}
	if actors, _ := engineValue["actors"].(float64); actors != 3 {
		t.Fatalf("expected 3 actors, got %v", engineValue["actors"])
	}
	if _, ok := payload["telemetry"]; ok {
		t.Fatalf("expected telemetry to be omitted without a hub")
	}
}

func TestDiagnosticsIncludesSubscriberQueueTelemetry(t *testing.T) {
	hub := ws.NewHub(ws.HubConfig{})
	t.Cleanup(hub.Close)
	handler := NewHTTPHandler(HTTPHandlerConfig{Hub: hub})

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}

	queuesValue := decodeSubscriberQueues(t, resp.Body.Bytes())
	for _, field := range []string{"subscribers", "depth", "maxDepth", "drops", "dropRatePerSecond"} {
		if _, ok := queuesValue[field].(float64); !ok {
			t.Fatalf("expected queue %s field in diagnostics telemetry, payload=%v", field, queuesValue)
		}
	}
}

func TestDiagnosticsReportsSubscriberQueueOverflow(t *testing.T) {
	hub := ws.NewHub(ws.HubConfig{QueueSize: 4})
	conn := newDiagnosticsBlockingSubscriberConn()
	hub.Subscribe("steve", conn)
	t.Cleanup(func() {
		conn.Close()
		hub.Close()
	})

	hub.Spawn("steve", actor.Snapshot{NetworkID: 1})
	for i := 0; i < 128; i++ {
		hub.Move("steve", 1, mgl64.Vec3{0.1, 0, 0}, 0, 0)
	}

	if stats := hub.Stats(); stats.Drops == 0 {
		t.Fatalf("expected hub stats to record subscriber queue drops")
	}

	handler := NewHTTPHandler(HTTPHandlerConfig{Hub: hub})

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}

	queuesValue := decodeSubscriberQueues(t, resp.Body.Bytes())
	drops, ok := queuesValue["drops"].(float64)
	if !ok {
		t.Fatalf("expected drops field in diagnostics telemetry, payload=%v", queuesValue)
	}
	if drops == 0 {
		t.Fatalf("expected diagnostics telemetry drops to be non-zero, payload=%v", queuesValue)
	}

	maxDepth, ok := queuesValue["maxDepth"].(float64)
	if !ok {
		t.Fatalf("expected maxDepth field in diagnostics telemetry, payload=%v", queuesValue)
	}
	if maxDepth == 0 {
		t.Fatalf("expected diagnostics telemetry maxDepth to be non-zero, payload=%v", queuesValue)
	}
}

func TestWebsocketRouteIsMounted(t *testing.T) {
	called := false
	handler := NewHTTPHandler(HTTPHandlerConfig{WS: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})})

	req := httptest.NewRequest(http.MethodGet, "/ws?id=steve&world=overworld", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if !called || resp.Code != http.StatusTeapot {
		t.Fatalf("expected /ws to reach the websocket handler, got %d", resp.Code)
	}
}

func decodeSubscriberQueues(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	telemetryValue, ok := payload["telemetry"].(map[string]any)
	if !ok {
		t.Fatalf("expected telemetry object in diagnostics payload, got %T", payload["telemetry"])
	}
	queuesValue, ok := telemetryValue["subscriberQueues"].(map[string]any)
	if !ok {
		t.Fatalf("expected subscriberQueues object in telemetry payload, got %T", telemetryValue["subscriberQueues"])
	}
	return queuesValue
}

type diagnosticsBlockingSubscriberConn struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newDiagnosticsBlockingSubscriberConn() *diagnosticsBlockingSubscriberConn {
	return &diagnosticsBlockingSubscriberConn{closed: make(chan struct{})}
}

func (c *diagnosticsBlockingSubscriberConn) Write([]byte) error {
	<-c.closed
	return io.ErrClosedPipe
}

func (c *diagnosticsBlockingSubscriberConn) SetWriteDeadline(time.Time) error { return nil }

func (c *diagnosticsBlockingSubscriberConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
