package store

import (
	"encoding/json"
	"time"
)

// Transport kinds for a configured server.
const (
	TransportLocal           = "local"
	TransportRemote          = "remote"
	TransportRemoteStreaming = "remote-streaming"
)

// Server is a persisted upstream MCP server configuration.
type Server struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Transport       string            `json:"transport"`
	Command         string            `json:"command,omitempty"`
	Args            []string          `json:"args,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	InputParams     map[string]string `json:"input_params,omitempty"`
	URL             string            `json:"url,omitempty"`
	BearerToken     string            `json:"bearer_token,omitempty"`
	AutoStart       bool              `json:"auto_start"`
	Disabled        bool              `json:"disabled"`
	ToolPermissions map[string]bool   `json:"tool_permissions,omitempty"`
	Source          string            `json:"source"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ToolEnabled reports whether the owner-level allow-list permits a tool.
// Tools absent from the map are enabled.
func (s *Server) ToolEnabled(tool string) bool {
	if enabled, ok := s.ToolPermissions[tool]; ok {
		return enabled
	}
	return true
}

// Token scopes checked by the layer that terminates the outer session.
const (
	ScopeServerManagement = "mcp_server_management"
	ScopeLogManagement    = "log_management"
	ScopeApplication      = "application"
)

// Token is a caller credential. ID is the bearer value presented by clients.
type Token struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ServerIDs []string  `json:"server_ids"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasScope reports whether the token carries the given scope.
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasServer reports whether serverID is on the token's allow-list.
func (t *Token) HasServer(serverID string) bool {
	for _, id := range t.ServerIDs {
		if id == serverID {
			return true
		}
	}
	return false
}

// AuditRecord is a single gateway log entry. It never carries token material.
type AuditRecord struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	RequestType     string          `json:"request_type"`
	ClientID        string          `json:"client_id"`
	ServerID        string          `json:"server_id"`
	ServerName      string          `json:"server_name"`
	Target          string          `json:"target,omitempty"`
	ParamsRedacted  json.RawMessage `json:"params_redacted,omitempty"`
	Status          string          `json:"status"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ResponseSummary string          `json:"response_summary,omitempty"`
	LatencyMs       int             `json:"latency_ms"`
	ResponseSize    int             `json:"response_size"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Audit record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditFilter specifies query parameters for listing audit records.
type AuditFilter struct {
	ClientID    *string    `json:"client_id,omitempty"`
	ServerID    *string    `json:"server_id,omitempty"`
	RequestType *string    `json:"request_type,omitempty"`
	Status      *string    `json:"status,omitempty"`
	After       *time.Time `json:"after,omitempty"`
	Before      *time.Time `json:"before,omitempty"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}
