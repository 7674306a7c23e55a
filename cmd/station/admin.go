package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dim-network/station/internal/config"
)

// statusResponse is the JSON body served by the admin status endpoint,
// standing in for the teacher's ConnectRPC admin surface (no ConnectRPC
// stack survives in this module; see DESIGN.md).
type statusResponse struct {
	StationID    string   `json:"station_id"`
	OnlineUsers  []string `json:"online_users"`
	PendingRoams int      `json:"pending_roaming_jobs"`
	PushDepth    int      `json:"push_queue_depth"`
}

// newAdminServer builds the HTTP server exposing Prometheus metrics, a
// small JSON status endpoint, and the websocket upgrade path, over cfg's
// configured address.
func newAdminServer(cfg config.MetricsConfig, reg *prometheus.Registry, c *components, wsHandler http.HandlerFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", newStatusHandler(c))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ws", wsHandler)

	return &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
}

func newStatusHandler(c *components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			StationID:    c.accountsLocalID,
			OnlineUsers:  c.center.Users(),
			PendingRoams: c.dispatcher.PendingJobs(),
			PushDepth:    c.push.Depth(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
