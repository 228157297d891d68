package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/downstream"
)

const toolSearchTools = "mcpmux_search_tools"

func searchToolDefinition() mcp.Tool {
	return mcp.NewTool(toolSearchTools,
		mcp.WithDescription("Search tools across the servers visible to the caller. Matches names and descriptions."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text to match against tool names and descriptions"),
		),
	)
}

// searchTools lists every visible backend's tools, templated as they
// would appear in tools/list, and keeps those matching query. It leaves
// the tool indices untouched.
func (d *Dispatcher) searchTools(ctx context.Context, token, query string) []mcp.Tool {
	_, conns := d.visible(ctx, token)
	results := fanout(ctx, d, toolSearchTools, conns, func(ctx context.Context, c downstream.Client) ([]mcp.Tool, error) {
		return c.ListTools(ctx)
	})

	queryLower := strings.ToLower(query)
	var matches []mcp.Tool
	for i, conn := range conns {
		srv := conn.Server()
		for _, tool := range results[i] {
			if !srv.ToolEnabled(tool.Name) {
				continue
			}
			shown := d.templateTool(tool, srv.Name)
			if matchesQuery(shown, queryLower) {
				matches = append(matches, shown)
			}
		}
	}
	return matches
}

// matchesQuery checks if a tool's name or description contains the query.
func matchesQuery(t mcp.Tool, queryLower string) bool {
	return strings.Contains(strings.ToLower(t.Name), queryLower) ||
		strings.Contains(strings.ToLower(t.Description), queryLower)
}

// formatSearchResults renders matched tools into human-readable text.
func formatSearchResults(tools []mcp.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tools:\n", len(tools))
	for _, t := range tools {
		fmt.Fprintf(&b, "\n## %s\n%s\n", t.Name, t.Description)
		if schema := toolSchema(t); len(schema) > 0 {
			fmt.Fprintf(&b, "Input schema: %s\n", string(schema))
		}
	}
	return b.String()
}
