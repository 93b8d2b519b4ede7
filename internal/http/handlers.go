// Package httpapi exposes the operational surface of a dedicated server:
// liveness and readiness probes, JSON statistics, Prometheus-style metrics,
// and a websocket spectator feed of broadcast snapshots.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/server"
)

// StatsProvider exposes the loop and session counters rendered by the API.
type StatsProvider interface {
	Stats() server.LoopStats
	SessionCount() int
}

// Options configures the HandlerSet.
type Options struct {
	Logger     *logging.Logger
	Stats      StatsProvider
	Spectate   *SpectatorHub
	TimeSource func() time.Time
	StartedAt  time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger    *logging.Logger
	stats     StatsProvider
	spectate  *SpectatorHub
	now       func() time.Time
	startedAt time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}
	return &HandlerSet{
		logger:    logger,
		stats:     opts.Stats,
		spectate:  opts.Spectate,
		now:       now,
		startedAt: startedAt,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/api/stats", h.StatsHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	if h.spectate != nil {
		mux.HandleFunc("/ws/spectate", h.spectate.ServeWS)
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the authoritative loop is ticking.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		ServerTick    int64   `json:"server_tick"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.startedAt).Seconds()}
		if h.stats != nil {
			resp.ServerTick = h.stats.Stats().ServerTick
			if resp.ServerTick == 0 {
				status = http.StatusServiceUnavailable
				resp.Status = "starting"
				resp.Message = "authoritative loop has not ticked yet"
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler emits cumulative loop and session statistics as JSON.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	type response struct {
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Sessions       int     `json:"sessions"`
		Spectators     int     `json:"spectators"`
		ServerTick     int64   `json:"server_tick"`
		Broadcasts     int64   `json:"broadcasts"`
		TickAverageMs  float64 `json:"tick_average_ms"`
		TickMaxMs      float64 `json:"tick_max_ms"`
		TickLastMs     float64 `json:"tick_last_ms"`
		TickSamples    int     `json:"tick_samples"`
		EffectiveTicks float64 `json:"effective_tick_hz"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{UptimeSeconds: h.now().Sub(h.startedAt).Seconds()}
		if h.stats != nil {
			stats := h.stats.Stats()
			resp.Sessions = h.stats.SessionCount()
			resp.ServerTick = stats.ServerTick
			resp.Broadcasts = stats.Broadcasts
			resp.TickAverageMs = float64(stats.Timing.Average) / float64(time.Millisecond)
			resp.TickMaxMs = float64(stats.Timing.Max) / float64(time.Millisecond)
			resp.TickLastMs = float64(stats.Timing.Last) / float64(time.Millisecond)
			resp.TickSamples = stats.Timing.Samples
			resp.EffectiveTicks = stats.Timing.AverageTickHz()
		}
		if h.spectate != nil {
			resp.Spectators = h.spectate.Len()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP netcore_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE netcore_uptime_seconds gauge\n")
		fmt.Fprintf(w, "netcore_uptime_seconds %.0f\n", h.now().Sub(h.startedAt).Seconds())

		if h.stats == nil {
			return
		}
		stats := h.stats.Stats()
		fmt.Fprintf(w, "# HELP netcore_sessions Current connected sessions.\n")
		fmt.Fprintf(w, "# TYPE netcore_sessions gauge\n")
		fmt.Fprintf(w, "netcore_sessions %d\n", h.stats.SessionCount())

		fmt.Fprintf(w, "# HELP netcore_server_tick Current authoritative tick.\n")
		fmt.Fprintf(w, "# TYPE netcore_server_tick counter\n")
		fmt.Fprintf(w, "netcore_server_tick %d\n", stats.ServerTick)

		fmt.Fprintf(w, "# HELP netcore_broadcasts_total Total snapshot broadcasts delivered.\n")
		fmt.Fprintf(w, "# TYPE netcore_broadcasts_total counter\n")
		fmt.Fprintf(w, "netcore_broadcasts_total %d\n", stats.Broadcasts)

		fmt.Fprintf(w, "# HELP netcore_tick_duration_ms Observed tick durations in milliseconds.\n")
		fmt.Fprintf(w, "# TYPE netcore_tick_duration_ms gauge\n")
		fmt.Fprintf(w, "netcore_tick_duration_ms{stat=\"average\"} %.3f\n", float64(stats.Timing.Average)/float64(time.Millisecond))
		fmt.Fprintf(w, "netcore_tick_duration_ms{stat=\"max\"} %.3f\n", float64(stats.Timing.Max)/float64(time.Millisecond))
		fmt.Fprintf(w, "netcore_tick_duration_ms{stat=\"last\"} %.3f\n", float64(stats.Timing.Last)/float64(time.Millisecond))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
