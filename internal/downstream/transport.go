package downstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/store"
)

const (
	defaultConnectTimeout = 30 * time.Second
	stderrGrace           = 200 * time.Millisecond
	stderrTailBytes       = 4096
)

// MCPFactory connects backends with mark3labs/mcp-go.
type MCPFactory struct {
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
}

// NewMCPFactory returns a factory identifying itself as mcpmux/version.
func NewMCPFactory(version string) *MCPFactory {
	return &MCPFactory{
		ClientName:     "mcpmux",
		ClientVersion:  version,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// Connect opens and initializes a client for srv.
func (f *MCPFactory) Connect(ctx context.Context, srv store.Server) (Client, error) {
	switch srv.Transport {
	case store.TransportLocal, "":
		return f.connectLocal(ctx, srv)
	case store.TransportRemote, store.TransportRemoteStreaming:
		return f.connectRemote(ctx, srv)
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}
}

func (f *MCPFactory) connectLocal(ctx context.Context, srv store.Server) (Client, error) {
	command, args, env := ResolveCommand(srv)
	if command == "" {
		return nil, fmt.Errorf("server %s has no command", srv.Name)
	}

	c, err := client.NewStdioMCPClient(command, EnvList(env), args...)
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("spawn %s: %w", command, err)}
	}

	tail := newTailBuffer(stderrTailBytes)
	done := make(chan struct{})
	if stderr, ok := client.GetStderr(c); ok {
		go captureStderr(srv.Name, stderr, tail, done)
	} else {
		close(done)
	}

	if err := f.initialize(ctx, c); err != nil {
		c.Close()
		select {
		case <-done:
		case <-time.After(stderrGrace):
		}
		return nil, &ConnectError{Stderr: tail.String(), Err: err}
	}
	return &mcpClient{c: c}, nil
}

func (f *MCPFactory) connectRemote(ctx context.Context, srv store.Server) (Client, error) {
	headers := map[string]string{}
	if srv.BearerToken != "" {
		headers["Authorization"] = "Bearer " + srv.BearerToken
	}

	var (
		c   *client.Client
		err error
	)
	if srv.Transport == store.TransportRemoteStreaming {
		c, err = client.NewStreamableHttpClient(srv.URL, transport.WithHTTPHeaders(headers))
	} else {
		c, err = client.NewSSEMCPClient(srv.URL, transport.WithHeaders(headers))
	}
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("create %s client: %w", srv.Transport, err)}
	}

	// The SSE stream lives as long as the client, not the caller's request.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return nil, &ConnectError{Err: fmt.Errorf("start %s client: %w", srv.Transport, err)}
	}
	if err := f.initialize(ctx, c); err != nil {
		c.Close()
		return nil, &ConnectError{Err: err}
	}
	return &mcpClient{c: c}, nil
}

func (f *MCPFactory) initialize(ctx context.Context, c *client.Client) error {
	timeout := f.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := c.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    f.ClientName,
				Version: f.ClientVersion,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// captureStderr logs each stderr line and keeps the most recent bytes.
func captureStderr(server string, r io.Reader, tail *tailBuffer, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)
		slog.Debug("backend stderr", "server", server, "line", line)
	}
}

// tailBuffer retains roughly limit bytes of the latest lines.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []string
	n     int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	t.n += len(line) + 1
	for t.n > t.limit && len(t.buf) > 1 {
		t.n -= len(t.buf[0]) + 1
		t.buf = t.buf[1:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(strings.Join(t.buf, "\n"))
}
