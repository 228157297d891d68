package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
	"github.com/revittco/mcpmux/internal/store/sqlite"
)

// fakeBackend is a scripted downstream.Client.
type fakeBackend struct {
	name      string
	tools     []mcp.Tool
	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	contents  map[string][]mcp.ResourceContents
	prompts   []mcp.Prompt
	listErr   error
	callErr   error
	delay     time.Duration

	mu    sync.Mutex
	calls []string
	reads []string
}

func (b *fakeBackend) wait(ctx context.Context) error {
	if b.delay == 0 {
		return nil
	}
	select {
	case <-time.After(b.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.tools, b.listErr
}

func (b *fakeBackend) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	return mcp.NewToolResultText(b.name + ":" + name), nil
}

func (b *fakeBackend) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.resources, b.listErr
}

func (b *fakeBackend) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.templates, b.listErr
}

func (b *fakeBackend) ReadResource(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
	b.mu.Lock()
	b.reads = append(b.reads, uri)
	b.mu.Unlock()
	if c, ok := b.contents[uri]; ok {
		return c, nil
	}
	return nil, errors.New("resource not found")
}

func (b *fakeBackend) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.prompts, b.listErr
}

func (b *fakeBackend) GetPrompt(_ context.Context, name string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{Description: b.name + ":" + name}, nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// backendFactory connects servers to fakeBackends by name.
type backendFactory map[string]*fakeBackend

func (f backendFactory) Connect(_ context.Context, srv store.Server) (downstream.Client, error) {
	b, ok := f[srv.Name]
	if !ok {
		return nil, errors.New("no backend for " + srv.Name)
	}
	return b, nil
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) last(requestType string) (audit.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].RequestType == requestType {
			return r.entries[i], true
		}
	}
	return audit.Entry{}, false
}

type testServer struct {
	id      string
	backend *fakeBackend
	perms   map[string]bool
	stopped bool
}

type fixture struct {
	db        *sqlite.DB
	registry  *downstream.Registry
	validator *auth.Validator
	rec       *recorder
	d         *Dispatcher
}

func newFixture(t *testing.T, servers []testServer, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, t.TempDir()+"/gateway.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	factory := backendFactory{}
	for _, s := range servers {
		factory[s.backend.name] = s.backend
	}

	validator := auth.NewValidator(db, db)
	reg := downstream.NewRegistry(db, factory, downstream.WithAccessPolicy(validator))
	for _, s := range servers {
		srv := store.Server{
			ID:              s.id,
			Name:            s.backend.name,
			Transport:       store.TransportLocal,
			ToolPermissions: s.perms,
		}
		if _, err := reg.Add(ctx, srv); err != nil {
			t.Fatalf("add %s: %v", s.backend.name, err)
		}
		if s.stopped {
			continue
		}
		if _, err := reg.Start(ctx, s.id, ""); err != nil {
			t.Fatalf("start %s: %v", s.backend.name, err)
		}
	}

	rec := &recorder{}
	gate := auth.NewGate(validator, reg)
	return &fixture{
		db:        db,
		registry:  reg,
		validator: validator,
		rec:       rec,
		d:         NewDispatcher(reg, gate, rec, opts...),
	}
}

// token issues a token; nil serverIDs grants every server.
func (f *fixture) token(t *testing.T, serverIDs []string) string {
	t.Helper()
	tok, err := f.validator.GenerateToken(context.Background(), "client-"+t.Name(), nil, serverIDs)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok.ID
}

func toolNames(tools []mcp.Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text
}
