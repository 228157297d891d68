package api

import (
	"errors"
	"net/http"

	"github.com/revittco/mcpmux/internal/config"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
)

type serverHandler struct {
	svc      *config.Service
	store    store.ServerStore
	registry *downstream.Registry
}

// serverView masks BearerToken and adds live connection state.
type serverView struct {
	store.Server
	BearerToken    string            `json:"bearer_token,omitempty"`
	HasBearerToken bool              `json:"has_bearer_token"`
	Status         downstream.Status `json:"status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

func (h *serverHandler) view(srv store.Server) serverView {
	v := serverView{Server: srv, HasBearerToken: srv.BearerToken != ""}
	if conn, ok := h.registry.ResolveByID(srv.ID); ok {
		info := conn.Info()
		v.Status = info.Status
		v.ErrorMessage = info.ErrorMessage
	}
	return v
}

func (h *serverHandler) list(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	resp := make([]serverView, len(servers))
	for i := range servers {
		resp[i] = h.view(servers[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *serverHandler) get(w http.ResponseWriter, r *http.Request) {
	srv, err := h.store.GetServer(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get server")
		return
	}
	writeJSON(w, http.StatusOK, h.view(*srv))
}

func (h *serverHandler) create(w http.ResponseWriter, r *http.Request) {
	var srv store.Server
	if err := decodeJSON(r, &srv); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	srv.Source = "api"
	conn, err := h.svc.CreateServer(r.Context(), srv)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "server already exists")
			return
		}
		writeErrorDetail(w, http.StatusBadRequest, "failed to create server", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.view(conn.Server()))
}

func (h *serverHandler) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	// Load existing record so partial updates work.
	existing, err := h.store.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get server")
		return
	}

	srv := *existing
	if err := decodeJSON(r, &srv); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	srv.ID = id

	if err := h.svc.UpdateServer(ctx, srv); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "server not found")
		case errors.Is(err, store.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "server name already in use")
		default:
			writeErrorDetail(w, http.StatusBadRequest, "failed to update server", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, h.view(srv))
}

func (h *serverHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteServer(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete server")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *serverHandler) start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, err := h.registry.Start(r.Context(), id, callerClientID(r.Context()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "server not found")
		return
	case err != nil:
		writeErrorDetail(w, http.StatusBadGateway, "failed to start server", err.Error())
		return
	}
	conn, _ := h.registry.ResolveByID(id)
	writeJSON(w, http.StatusOK, conn.Info())
}

func (h *serverHandler) stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, ok := h.registry.ResolveByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	if !h.registry.Stop(r.Context(), id, callerClientID(r.Context())) {
		writeErrorDetail(w, http.StatusInternalServerError, "failed to stop server", conn.Info().ErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, conn.Info())
}
