package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/downstream"
)

// HostServerName is the reserved name of the host pseudo-backend.
const HostServerName = "mcpmux"

const toolListServers = "mcpmux_list_servers"

// hostBackend serves tools implemented by the gateway itself. It is
// always available and is merged ahead of real backends.
type hostBackend struct {
	registry *downstream.Registry
	gate     *auth.Gate
	search   func(ctx context.Context, token, query string) []mcp.Tool
}

func (h *hostBackend) tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(toolListServers,
			mcp.WithDescription("List the servers visible to the caller with their status and last error."),
		),
		searchToolDefinition(),
	}
}

func (h *hostBackend) has(name string) bool {
	return name == toolListServers || name == toolSearchTools
}

func (h *hostBackend) call(ctx context.Context, name string, args map[string]any, token string) (*mcp.CallToolResult, error) {
	switch name {
	case toolListServers:
		return h.listServers(ctx, token)
	case toolSearchTools:
		query, ok := args["query"].(string)
		if !ok {
			return nil, newError(KindInvalidParams, "query must be a string")
		}
		matches := h.search(ctx, token, query)
		if len(matches) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("No tools found matching %q.", query)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(matches)), nil
	default:
		return nil, newError(KindNotFound, "tool %q not found", name)
	}
}

func (h *hostBackend) listServers(ctx context.Context, token string) (*mcp.CallToolResult, error) {
	infos := make([]downstream.Info, 0)
	for _, info := range h.registry.Snapshot() {
		if h.gate.CanAccess(ctx, token, info.ID) {
			infos = append(infos, info)
		}
	}
	raw, err := json.Marshal(infos)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Err: err}
	}
	return mcp.NewToolResultText(string(raw)), nil
}
