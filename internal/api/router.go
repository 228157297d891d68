package api

import (
	"net/http"
	"time"

	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/config"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
)

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Store     store.Store
	Registry  *downstream.Registry
	Servers   *config.Service
	Validator *auth.Validator
	Gate      *auth.Gate
	AuditBus  *audit.Bus   // optional; enables SSE audit stream
	MCP       http.Handler // optional; serves the outer JSON-RPC endpoint
	Metrics   http.Handler // optional; serves prometheus metrics
	Version   string
}

// NewRouter creates an http.Handler with the admin API, the MCP endpoint
// and metrics.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()
	scoped := func(scope string, h http.HandlerFunc) http.HandlerFunc {
		return requireScope(deps.Gate, scope, h)
	}

	srv := &serverHandler{svc: deps.Servers, store: deps.Store, registry: deps.Registry}
	mgmt := store.ScopeServerManagement
	mux.HandleFunc("GET /api/v1/servers", scoped(mgmt, srv.list))
	mux.HandleFunc("POST /api/v1/servers", scoped(mgmt, srv.create))
	mux.HandleFunc("GET /api/v1/servers/{id}", scoped(mgmt, srv.get))
	mux.HandleFunc("PUT /api/v1/servers/{id}", scoped(mgmt, srv.update))
	mux.HandleFunc("DELETE /api/v1/servers/{id}", scoped(mgmt, srv.delete))
	mux.HandleFunc("POST /api/v1/servers/{id}/start", scoped(mgmt, srv.start))
	mux.HandleFunc("POST /api/v1/servers/{id}/stop", scoped(mgmt, srv.stop))

	tok := &tokenHandler{validator: deps.Validator, store: deps.Store}
	app := store.ScopeApplication
	mux.HandleFunc("GET /api/v1/tokens", scoped(app, tok.list))
	mux.HandleFunc("POST /api/v1/tokens", scoped(app, tok.create))
	mux.HandleFunc("DELETE /api/v1/tokens/{id}", scoped(app, tok.delete))

	auditH := &auditHandler{store: deps.Store}
	logs := store.ScopeLogManagement
	mux.HandleFunc("GET /api/v1/audit", scoped(logs, auditH.query))
	if deps.AuditBus != nil {
		sse := &auditSSEHandler{bus: deps.AuditBus}
		mux.HandleFunc("GET /api/v1/audit/stream", scoped(logs, sse.stream))
	}

	health := &healthHandler{
		store:    deps.Store,
		registry: deps.Registry,
		version:  deps.Version,
		started:  time.Now(),
	}
	mux.HandleFunc("GET /api/v1/health", health.check)

	if deps.MCP != nil {
		mux.Handle("/mcp", deps.MCP)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	// Apply middleware chain: CORS -> RequestID -> Logging -> security -> mux
	var handler http.Handler = mux
	handler = requireJSONContentTypeMiddleware(handler)
	handler = browserOriginProtectionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)

	return handler
}
