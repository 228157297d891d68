package api

import (
	"net/http"
	"time"

	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  int    `json:"uptime_seconds"`
	ServersTotal   int    `json:"servers_total"`
	ServersRunning int    `json:"servers_running"`
}

type healthHandler struct {
	store    store.Store
	registry *downstream.Registry
	version  string
	started  time.Time
}

func (h *healthHandler) check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Version:        h.version,
		UptimeSeconds:  int(time.Since(h.started).Seconds()),
		ServersTotal:   len(h.registry.Connections()),
		ServersRunning: len(h.registry.Running()),
	}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
