package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/revittco/mcpmux/internal/audit"
)

const sseHeartbeat = 15 * time.Second

type auditSSEHandler struct {
	bus *audit.Bus
}

func (h *auditSSEHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	qClient := q.Get("client_id")
	qServer := q.Get("server_id")
	qStatus := q.Get("status")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if !matchFilter(rec.ClientID, qClient) ||
				!matchFilter(rec.ServerID, qServer) ||
				!matchFilter(rec.Status, qStatus) {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		}
	}
}

// matchFilter returns true if the filter is empty or matches the value.
func matchFilter(value, filter string) bool {
	return filter == "" || value == filter
}
