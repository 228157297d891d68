package downstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/metrics"
	"github.com/revittco/mcpmux/internal/resourceuri"
	"github.com/revittco/mcpmux/internal/store"
)

// AccessPolicy propagates server additions and removals to caller tokens.
type AccessPolicy interface {
	GrantServer(ctx context.Context, serverID string) error
	RevokeServer(ctx context.Context, serverID string) error
}

// Recorder receives lifecycle audit entries.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Lifecycle request types written to the audit log.
const (
	RequestStart = "server/start"
	RequestStop  = "server/stop"
)

// ToolRef locates a tool by its owning server and native name.
type ToolRef struct {
	Server string
	Tool   string
}

// Registry owns every backend connection and the indices derived from
// their listings.
type Registry struct {
	store    store.ServerStore
	factory  Factory
	policy   AccessPolicy
	recorder Recorder
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	byID      map[string]*Connection
	nameToID  map[string]string
	connected map[string]bool

	idxMu        sync.RWMutex
	toolIndex    map[string]string  // native tool name -> server name
	displayIndex map[string]ToolRef // post-template name -> owner
	resourceURIs map[string]string  // canonical uri -> native protocol
	templateURIs map[string]string  // canonical template -> native protocol

	startup sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithAccessPolicy sets the token grant/revoke policy.
func WithAccessPolicy(p AccessPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithRecorder sets the lifecycle audit sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty Registry.
func NewRegistry(s store.ServerStore, f Factory, opts ...Option) *Registry {
	r := &Registry{
		store:        s,
		factory:      f,
		byID:         make(map[string]*Connection),
		nameToID:     make(map[string]string),
		connected:    make(map[string]bool),
		toolIndex:    make(map[string]string),
		displayIndex: make(map[string]ToolRef),
		resourceURIs: make(map[string]string),
		templateURIs: make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) observe(name string, s Status) {
	r.metrics.ObserveTransition(name, s.String())
	if r.metrics == nil {
		return
	}
	n := 0
	for _, c := range r.Connections() {
		if c.Status() == StatusRunning {
			n++
		}
	}
	r.metrics.SetRunning(n)
}

// LoadAll mirrors every persisted server into memory as stopped, then
// starts auto-start servers in the background. Auto-start failures are
// logged and never abort loading.
func (r *Registry) LoadAll(ctx context.Context) error {
	servers, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		if srv.AutoStart && !srv.Disabled {
			r.StartInBackground(ctx, srv.ID)
		}
	}
	return nil
}

// LoadStopped mirrors every persisted server without starting any.
func (r *Registry) LoadStopped(ctx context.Context) error {
	_, err := r.load(ctx)
	return err
}

func (r *Registry) load(ctx context.Context) ([]store.Server, error) {
	servers, err := r.store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, srv := range servers {
		conn := newConnection(srv, r.factory, r.observe)
		r.byID[srv.ID] = conn
		r.nameToID[srv.Name] = srv.ID
		r.connected[srv.Name] = false
	}
	return servers, nil
}

// StartInBackground starts server id without blocking the caller.
// Failures are logged. WaitStartup waits for pending starts.
func (r *Registry) StartInBackground(ctx context.Context, id string) {
	bg := context.WithoutCancel(ctx)
	r.startup.Add(1)
	go func() {
		defer r.startup.Done()
		if _, err := r.Start(bg, id, ""); err != nil {
			slog.Error("auto-start failed", "server_id", id, "error", err)
		}
	}()
}

// WaitStartup blocks until background starts finish.
func (r *Registry) WaitStartup() {
	r.startup.Wait()
}

// Add persists srv and registers it stopped. Every existing token is
// granted access to the new server.
func (r *Registry) Add(ctx context.Context, srv store.Server) (*Connection, error) {
	if srv.Name == "" {
		return nil, errors.New("server name is required")
	}
	if err := r.store.CreateServer(ctx, &srv); err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	conn := newConnection(srv, r.factory, r.observe)
	r.mu.Lock()
	r.byID[srv.ID] = conn
	r.nameToID[srv.Name] = srv.ID
	r.connected[srv.Name] = false
	r.mu.Unlock()

	if r.policy != nil {
		if err := r.policy.GrantServer(ctx, srv.ID); err != nil {
			slog.Error("grant new server to tokens", "server", srv.Name, "error", err)
		}
	}
	slog.Info("server added", "server", srv.Name, "server_id", srv.ID)
	return conn, nil
}

// Update persists a new configuration for an existing server and
// repoints the name index if the name changed.
func (r *Registry) Update(ctx context.Context, srv store.Server) error {
	conn, ok := r.ResolveByID(srv.ID)
	if !ok {
		return fmt.Errorf("server %s: %w", srv.ID, store.ErrNotFound)
	}
	old := conn.Server()
	srv.CreatedAt = old.CreatedAt
	if err := r.store.UpdateServer(ctx, &srv); err != nil {
		return fmt.Errorf("update server: %w", err)
	}

	r.mu.Lock()
	conn.update(srv)
	if old.Name != srv.Name {
		if r.nameToID[old.Name] == srv.ID {
			delete(r.nameToID, old.Name)
		}
		r.connected[srv.Name] = r.connected[old.Name]
		delete(r.connected, old.Name)
	}
	r.nameToID[srv.Name] = srv.ID
	r.mu.Unlock()

	if old.Name != srv.Name {
		r.renameInIndices(old.Name, srv.Name)
	}
	return nil
}

// Remove stops and deletes a server and revokes it from every token.
// It reports false when id is unknown.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	conn, ok := r.ResolveByID(id)
	if !ok {
		return false, nil
	}
	conn.Stop()

	if err := r.store.DeleteServer(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("delete server: %w", err)
	}

	name := conn.Name()
	r.mu.Lock()
	delete(r.byID, id)
	if r.nameToID[name] == id {
		delete(r.nameToID, name)
		delete(r.connected, name)
	}
	r.mu.Unlock()
	r.dropResourceIndices(name)

	if r.policy != nil {
		if err := r.policy.RevokeServer(ctx, id); err != nil {
			return true, fmt.Errorf("revoke server from tokens: %w", err)
		}
	}
	slog.Info("server removed", "server", name, "server_id", id)
	return true, nil
}

// Start connects server id on behalf of callerClientID.
func (r *Registry) Start(ctx context.Context, id, callerClientID string) (bool, error) {
	conn, ok := r.ResolveByID(id)
	if !ok {
		return false, fmt.Errorf("server %s: %w", id, store.ErrNotFound)
	}
	began := time.Now()
	err := conn.Start(ctx)
	name := conn.Name()

	r.mu.Lock()
	r.connected[name] = err == nil
	r.mu.Unlock()

	r.recordLifecycle(ctx, RequestStart, callerClientID, id, name, time.Since(began), err)
	if err != nil {
		return false, err
	}
	slog.Info("server started", "server", name, "server_id", id)
	return true, nil
}

// Stop disconnects server id on behalf of callerClientID. Unknown ids
// and already-stopped servers report true.
func (r *Registry) Stop(ctx context.Context, id, callerClientID string) bool {
	conn, ok := r.ResolveByID(id)
	if !ok {
		return true
	}
	began := time.Now()
	ok = conn.Stop()
	name := conn.Name()

	r.mu.Lock()
	r.connected[name] = false
	r.mu.Unlock()

	var err error
	if !ok {
		err = errors.New(conn.Info().ErrorMessage)
	}
	r.recordLifecycle(ctx, RequestStop, callerClientID, id, name, time.Since(began), err)
	return ok
}

func (r *Registry) recordLifecycle(
	ctx context.Context, requestType, clientID, id, name string, d time.Duration, err error,
) {
	if r.recorder == nil {
		return
	}
	e := audit.Entry{
		RequestType: requestType,
		ClientID:    clientID,
		ServerID:    id,
		ServerName:  name,
		Duration:    d,
		Err:         err,
	}
	if err != nil {
		e.ErrorCode = "connect_failure"
	}
	_ = r.recorder.Record(ctx, e)
}

// ResolveByName maps a server name to its id.
func (r *Registry) ResolveByName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

// ResolveByID returns the connection for id.
func (r *Registry) ResolveByID(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// ByName returns the connection registered under name.
func (r *Registry) ByName(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	c, ok := r.byID[id]
	return c, ok
}

// IsConnected reports the connected flag for a server name.
func (r *Registry) IsConnected(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected[name]
}

// Connections returns every connection in ascending id order. This order
// is the tie-break contract for aggregate listings.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.byID))
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	r.mu.RUnlock()
	return out
}

// Running returns connections that are running and flagged connected,
// in ascending id order.
func (r *Registry) Running() []*Connection {
	var out []*Connection
	for _, c := range r.Connections() {
		if c.Status() == StatusRunning && r.IsConnected(c.Name()) {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot reports every connection's state in ascending id order.
func (r *Registry) Snapshot() []Info {
	conns := r.Connections()
	out := make([]Info, len(conns))
	for i, c := range conns {
		out[i] = c.Info()
	}
	return out
}

// Shutdown stops every live connection.
func (r *Registry) Shutdown(ctx context.Context) {
	r.startup.Wait()
	for _, c := range r.Connections() {
		if c.Status() == StatusStopped {
			continue
		}
		if !r.Stop(ctx, c.ID(), "") {
			slog.Warn("server did not close cleanly", "server", c.Name())
		}
	}
}

// ReplaceToolIndex swaps in freshly built tool indices.
func (r *Registry) ReplaceToolIndex(tools map[string]string, display map[string]ToolRef) {
	r.idxMu.Lock()
	r.toolIndex = tools
	r.displayIndex = display
	r.idxMu.Unlock()
}

// LookupTool returns the server that last listed a native tool name.
func (r *Registry) LookupTool(name string) (string, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	s, ok := r.toolIndex[name]
	return s, ok
}

// LookupDisplayName resolves a post-template tool name.
func (r *Registry) LookupDisplayName(name string) (ToolRef, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	ref, ok := r.displayIndex[name]
	return ref, ok
}

// RememberResources records canonical -> native protocol mappings.
func (r *Registry) RememberResources(m map[string]string) {
	r.idxMu.Lock()
	for k, v := range m {
		r.resourceURIs[k] = v
	}
	r.idxMu.Unlock()
}

// RememberTemplates records canonical template -> native protocol mappings.
func (r *Registry) RememberTemplates(m map[string]string) {
	r.idxMu.Lock()
	for k, v := range m {
		r.templateURIs[k] = v
	}
	r.idxMu.Unlock()
}

// ResourceProtocol returns the remembered protocol for a canonical uri.
func (r *Registry) ResourceProtocol(uri string) (string, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	p, ok := r.resourceURIs[uri]
	return p, ok
}

// TemplateProtocols returns a copy of the canonical template map.
func (r *Registry) TemplateProtocols() map[string]string {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	out := make(map[string]string, len(r.templateURIs))
	for k, v := range r.templateURIs {
		out[k] = v
	}
	return out
}

func (r *Registry) renameInIndices(oldName, newName string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	for tool, srv := range r.toolIndex {
		if srv == oldName {
			r.toolIndex[tool] = newName
		}
	}
	for display, ref := range r.displayIndex {
		if ref.Server == oldName {
			r.displayIndex[display] = ToolRef{Server: newName, Tool: ref.Tool}
		}
	}
	oldPrefix, newPrefix := canonicalPrefix(oldName), canonicalPrefix(newName)
	rekey(r.resourceURIs, oldPrefix, newPrefix)
	rekey(r.templateURIs, oldPrefix, newPrefix)
}

// dropResourceIndices forgets a removed server's resources and templates.
// Tool index entries stay until the next list-tools rebuild so calls
// routed to the removed name fail as UnknownServer.
func (r *Registry) dropResourceIndices(name string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	prefix := canonicalPrefix(name)
	for k := range r.resourceURIs {
		if strings.HasPrefix(k, prefix) {
			delete(r.resourceURIs, k)
		}
	}
	for k := range r.templateURIs {
		if strings.HasPrefix(k, prefix) {
			delete(r.templateURIs, k)
		}
	}
}

func canonicalPrefix(name string) string {
	return resourceuri.Canonical(name, "")
}

func rekey(m map[string]string, oldPrefix, newPrefix string) {
	var moved []string
	for k := range m {
		if strings.HasPrefix(k, oldPrefix) {
			moved = append(moved, k)
		}
	}
	for _, k := range moved {
		m[newPrefix+strings.TrimPrefix(k, oldPrefix)] = m[k]
		delete(m, k)
	}
}
