package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/server"
	"deepdelve/netcore/internal/simulation"
)

type fakeStats struct {
	tick       int64
	broadcasts int64
	sessions   int
}

func (f *fakeStats) Stats() server.LoopStats {
	return server.LoopStats{
		ServerTick: f.tick,
		Broadcasts: f.broadcasts,
		Timing:     simulation.TickMetricsSnapshot{Samples: 4, Average: 2 * time.Millisecond, Max: 5 * time.Millisecond, Last: time.Millisecond},
	}
}

func (f *fakeStats) SessionCount() int { return f.sessions }

func newTestHandlerSet(stats StatsProvider, hub *SpectatorHub) *HandlerSet {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Stats:      stats,
		Spectate:   hub,
		TimeSource: func() time.Time { return at.Add(90 * time.Second) },
		StartedAt:  at,
	})
}

func TestLivenessHandler(t *testing.T) {
	handlers := newTestHandlerSet(nil, nil)

	recorder := httptest.NewRecorder()
	handlers.LivenessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["status"] != "alive" {
		t.Fatalf("unexpected body %v", resp)
	}
}

func TestReadinessReportsStartingBeforeFirstTick(t *testing.T) {
	handlers := newTestHandlerSet(&fakeStats{tick: 0}, nil)

	recorder := httptest.NewRecorder()
	handlers.ReadinessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the loop ticks, got %d", recorder.Code)
	}

	handlers = newTestHandlerSet(&fakeStats{tick: 12}, nil)
	recorder = httptest.NewRecorder()
	handlers.ReadinessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 once ticking, got %d", recorder.Code)
	}
}

func TestStatsHandlerEmitsCounters(t *testing.T) {
	handlers := newTestHandlerSet(&fakeStats{tick: 77, broadcasts: 42, sessions: 3}, nil)

	recorder := httptest.NewRecorder()
	handlers.StatsHandler()(recorder, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		ServerTick    int64   `json:"server_tick"`
		Broadcasts    int64   `json:"broadcasts"`
		TickAverageMs float64 `json:"tick_average_ms"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.UptimeSeconds != 90 || resp.Sessions != 3 || resp.ServerTick != 77 || resp.Broadcasts != 42 {
		t.Fatalf("unexpected stats %+v", resp)
	}
	if resp.TickAverageMs != 2 {
		t.Fatalf("unexpected tick average %v", resp.TickAverageMs)
	}
}

func TestMetricsHandlerEmitsPrometheusText(t *testing.T) {
	handlers := newTestHandlerSet(&fakeStats{tick: 5, broadcasts: 6, sessions: 2}, nil)

	recorder := httptest.NewRecorder()
	handlers.MetricsHandler()(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := recorder.Body.String()
	for _, want := range []string{"netcore_uptime_seconds 90", "netcore_sessions 2", "netcore_server_tick 5", "netcore_broadcasts_total 6"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestSpectatorHubRelaysBroadcasts(t *testing.T) {
	hub := NewSpectatorHub(logging.NewTestLogger())
	mux := http.NewServeMux()
	newTestHandlerSet(&fakeStats{tick: 1}, hub).Register(mux)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/spectate"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial spectator feed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("spectator never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload := []byte(`{"type":"snapshot","data":{"server_tick":1,"entities":[]}}`)
	hub.Broadcast(payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, received, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if string(received) != string(payload) {
		t.Fatalf("unexpected payload %s", received)
	}
}
