package downstream

import (
	"context"
	"errors"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/revittco/mcpmux/internal/store"
)

// authLog records the Authorization header of each backend request.
type authLog struct {
	mu   sync.Mutex
	seen []string
}

func (l *authLog) capture(ctx context.Context, r *http.Request) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, r.Header.Get("Authorization"))
	return ctx
}

func (l *authLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen...)
}

func newBackend() *server.MCPServer {
	s := server.NewMCPServer("backend", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("echo", mcp.WithDescription("echoes")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		})
	return s
}

func TestMCPFactoryConnectRemote(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		serve     func(*server.MCPServer, *authLog) (url string, closeFn func())
	}{
		{
			name:      "sse",
			transport: store.TransportRemote,
			serve: func(s *server.MCPServer, l *authLog) (string, func()) {
				ts := server.NewTestServer(s, server.WithSSEContextFunc(l.capture))
				return ts.URL + "/sse", ts.Close
			},
		},
		{
			name:      "streamable http",
			transport: store.TransportRemoteStreaming,
			serve: func(s *server.MCPServer, l *authLog) (string, func()) {
				ts := server.NewTestStreamableHTTPServer(s, server.WithHTTPContextFunc(l.capture))
				return ts.URL + "/mcp", ts.Close
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &authLog{}
			url, closeFn := tt.serve(newBackend(), log)
			t.Cleanup(closeFn)

			f := NewMCPFactory("test")
			f.ConnectTimeout = 5 * time.Second

			// Connect under a request-scoped context that ends right after.
			reqCtx, cancel := context.WithCancel(context.Background())
			c, err := f.Connect(reqCtx, store.Server{
				Name:        "search",
				Transport:   tt.transport,
				URL:         url,
				BearerToken: "s3cret",
			})
			if err != nil {
				cancel()
				t.Fatalf("connect: %v", err)
			}
			t.Cleanup(func() { c.Close() })

			if _, err := c.ListTools(reqCtx); err != nil {
				t.Fatalf("list tools: %v", err)
			}
			cancel()

			ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			tools, err := c.ListTools(ctx)
			if err != nil {
				t.Fatalf("list tools after request ended: %v", err)
			}
			names := make([]string, len(tools))
			for i, tool := range tools {
				names[i] = tool.Name
			}
			if diff := cmp.Diff([]string{"echo"}, names); diff != "" {
				t.Errorf("tools (-want +got):\n%s", diff)
			}

			seen := log.all()
			if len(seen) == 0 {
				t.Fatal("backend saw no requests")
			}
			for i, h := range seen {
				if h != "Bearer s3cret" {
					t.Errorf("request %d Authorization = %q, want %q", i, h, "Bearer s3cret")
				}
			}
		})
	}
}

func TestMCPFactoryConnectRemoteNoToken(t *testing.T) {
	log := &authLog{}
	ts := server.NewTestStreamableHTTPServer(newBackend(), server.WithHTTPContextFunc(log.capture))
	t.Cleanup(ts.Close)

	c, err := NewMCPFactory("test").Connect(context.Background(), store.Server{
		Name:      "search",
		Transport: store.TransportRemoteStreaming,
		URL:       ts.URL + "/mcp",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	for i, h := range log.all() {
		if h != "" {
			t.Errorf("request %d Authorization = %q, want none", i, h)
		}
	}
}

func TestMCPFactoryConnectUnsupportedTransport(t *testing.T) {
	_, err := NewMCPFactory("test").Connect(context.Background(), store.Server{
		Name:      "odd",
		Transport: "carrier-pigeon",
	})
	if err == nil || !strings.Contains(err.Error(), `unsupported transport "carrier-pigeon"`) {
		t.Fatalf("err = %v, want unsupported transport", err)
	}
}

func TestMCPFactoryConnectLocalFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	f := NewMCPFactory("test")
	f.ConnectTimeout = 5 * time.Second
	_, err := f.Connect(context.Background(), store.Server{
		Name:      "broken",
		Transport: store.TransportLocal,
		Command:   "sh",
		Args:      []string{"-c", "echo missing API_KEY >&2; sleep 0.2; exit 1"},
	})
	if err == nil {
		t.Fatal("expected connect error")
	}

	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T %v, want *ConnectError", err, err)
	}
	if ce.Stderr != "missing API_KEY" {
		t.Errorf("stderr = %q, want %q", ce.Stderr, "missing API_KEY")
	}
	if got := connectMessage(err); got != "missing API_KEY" {
		t.Errorf("connectMessage = %q, want stderr text", got)
	}
}

func TestMCPFactoryConnectLocalNoCommand(t *testing.T) {
	_, err := NewMCPFactory("test").Connect(context.Background(), store.Server{
		Name:      "empty",
		Transport: store.TransportLocal,
	})
	if err == nil || !strings.Contains(err.Error(), "has no command") {
		t.Fatalf("err = %v, want missing command", err)
	}
}
