package downstream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/store"
)

type fakeClient struct {
	closeErr error
	closed   atomic.Bool
}

func (f *fakeClient) ListTools(context.Context) ([]mcp.Tool, error) { return nil, nil }
func (f *fakeClient) CallTool(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (f *fakeClient) ListResources(context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *fakeClient) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	return nil, nil
}
func (f *fakeClient) ReadResource(context.Context, string) ([]mcp.ResourceContents, error) {
	return nil, nil
}
func (f *fakeClient) ListPrompts(context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (f *fakeClient) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}
func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

// fakeFactory hands out fakeClients and fails for names in fail.
type fakeFactory struct {
	mu       sync.Mutex
	connects map[string]int
	fail     map[string]error
	closeErr error
	gate     chan struct{} // when set, Connect blocks until closed
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{connects: map[string]int{}, fail: map[string]error{}}
}

func (f *fakeFactory) Connect(_ context.Context, srv store.Server) (Client, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects[srv.Name]++
	if err, ok := f.fail[srv.Name]; ok {
		return nil, err
	}
	return &fakeClient{closeErr: f.closeErr}, nil
}

func (f *fakeFactory) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[name]
}

// memServers is an in-memory ServerStore.
type memServers struct {
	mu      sync.Mutex
	servers map[string]store.Server
	seq     int
}

func newMemServers(list ...store.Server) *memServers {
	m := &memServers{servers: map[string]store.Server{}}
	for _, s := range list {
		m.servers[s.ID] = s
	}
	return m
}

func (m *memServers) CreateServer(_ context.Context, s *store.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		m.seq++
		s.ID = string(rune('a'+m.seq-1)) + "-id"
	}
	m.servers[s.ID] = *s
	return nil
}

func (m *memServers) GetServer(_ context.Context, id string) (*store.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *memServers) ListServers(context.Context) ([]store.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out, nil
}

func (m *memServers) UpdateServer(_ context.Context, s *store.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[s.ID]; !ok {
		return store.ErrNotFound
	}
	m.servers[s.ID] = *s
	return nil
}

func (m *memServers) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.servers, id)
	return nil
}

type fakePolicy struct {
	mu      sync.Mutex
	granted []string
	revoked []string
}

func (p *fakePolicy) GrantServer(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = append(p.granted, id)
	return nil
}

func (p *fakePolicy) RevokeServer(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, id)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

var errBoom = errors.New("boom")
