package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/store"
)

type tokenHandler struct {
	validator *auth.Validator
	store     store.TokenStore
}

type createTokenRequest struct {
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	ServerIDs []string `json:"server_ids"`
}

var validScopes = []string{
	store.ScopeServerManagement,
	store.ScopeLogManagement,
	store.ScopeApplication,
}

func (h *tokenHandler) list(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.store.ListTokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	if tokens == nil {
		tokens = []store.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *tokenHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	for _, sc := range req.Scopes {
		if !slices.Contains(validScopes, sc) {
			writeErrorDetail(w, http.StatusBadRequest, "invalid scope", sc)
			return
		}
	}
	if req.Scopes == nil {
		req.Scopes = []string{}
	}
	tok, err := h.validator.GenerateToken(r.Context(), req.ClientID, req.Scopes, req.ServerIDs)
	if err != nil {
		writeErrorDetail(w, http.StatusInternalServerError, "failed to create token", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (h *tokenHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteToken(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
