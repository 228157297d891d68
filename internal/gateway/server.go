package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Server terminates the outer MCP protocol and hands each request to a
// Dispatcher.
type Server struct {
	dispatcher   *Dispatcher
	version      string
	defaultToken string
	mu           sync.Mutex // protects writes
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDefaultToken sets the token used by stdio requests that carry none
// in params._meta.token.
func WithDefaultToken(token string) ServerOption {
	return func(s *Server) { s.defaultToken = token }
}

// NewServer creates a JSON-RPC server over d.
func NewServer(d *Dispatcher, version string, opts ...ServerOption) *Server {
	s := &Server{dispatcher: d, version: version}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunStdio runs the server over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.RunConn(ctx, os.Stdin, os.Stdout)
}

// RunConn runs the server over a line-delimited reader/writer pair.
func (s *Server) RunConn(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.Handle(ctx, line)
		if resp == nil {
			continue // notification, no response needed
		}

		if err := s.writeResponse(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

// Handle processes one encoded request. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, line []byte) *Response {
	return s.handle(ctx, line, s.defaultToken)
}

// handle is Handle with a fallback token for requests whose params carry
// no _meta.token.
func (s *Server) handle(ctx context.Context, line []byte, fallbackToken string) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    CodeParseError,
				Message: "invalid JSON: " + err.Error(),
			},
		}
	}

	// Notifications have no ID; don't send a response.
	if req.ID == nil {
		s.handleNotification(req)
		return nil
	}

	token := tokenFrom(req.Params)
	if token == "" {
		token = fallbackToken
	}

	var result any
	var err error
	switch req.Method {
	case "initialize":
		result, err = s.initialize(req.Params)
	case "ping":
		result = struct{}{}
	case MethodListTools:
		result, err = s.listTools(ctx, token)
	case MethodCallTool:
		result, err = s.callTool(ctx, req.Params, token)
	case MethodListResources:
		result, err = s.listResources(ctx, token)
	case MethodListResourceTemplates:
		result, err = s.listResourceTemplates(ctx, token)
	case MethodReadResource:
		result, err = s.readResource(ctx, req.Params, token)
	case MethodListPrompts:
		result, err = s.listPrompts(ctx, token)
	case MethodGetPrompt:
		result, err = s.getPrompt(ctx, req.Params, token)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &RPCError{
				Code:    CodeMethodNotFound,
				Message: fmt.Sprintf("unknown method: %s", req.Method),
			},
		}
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = rpcError(err)
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func (s *Server) handleNotification(req Request) {
	switch req.Method {
	case "notifications/initialized":
		slog.Info("client initialized")
	default:
		slog.Debug("unhandled notification", "method", req.Method)
	}
}

func tokenFrom(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p metaParams
	if err := json.Unmarshal(params, &p); err != nil || p.Meta == nil {
		return ""
	}
	return p.Meta.Token
}

func (s *Server) writeResponse(w io.Writer, resp *Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
