package downstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/store"
)

// Client is the native MCP surface of one backend.
type Client interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	Close() error
}

// Factory opens a Client for a server configuration.
type Factory interface {
	Connect(ctx context.Context, srv store.Server) (Client, error)
}

// ConnectError is a failed connect attempt, with any diagnostic text the
// subprocess wrote to stderr while starting.
type ConnectError struct {
	Stderr string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ConnectError) Unwrap() error { return e.Err }

// mcpClient adapts an mcp-go client to Client.
type mcpClient struct {
	c *client.Client
}

func (m *mcpClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := m.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (m *mcpClient) CallTool(
	ctx context.Context, name string, args map[string]any,
) (*mcp.CallToolResult, error) {
	return m.c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
}

func (m *mcpClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	res, err := m.c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return res.Resources, nil
}

func (m *mcpClient) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	res, err := m.c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, err
	}
	return res.ResourceTemplates, nil
}

func (m *mcpClient) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	res, err := m.c.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	})
	if err != nil {
		return nil, err
	}
	return res.Contents, nil
}

func (m *mcpClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	res, err := m.c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

func (m *mcpClient) GetPrompt(
	ctx context.Context, name string, args map[string]string,
) (*mcp.GetPromptResult, error) {
	return m.c.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: name, Arguments: args},
	})
}

func (m *mcpClient) Close() error {
	return m.c.Close()
}
