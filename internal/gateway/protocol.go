package gateway

import "encoding/json"

// JSON-RPC 2.0 types.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the machine-readable failure kind.
type ErrorData struct {
	Kind Kind `json:"kind"`
}

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Gateway error codes.
	CodeUnauthorized   = -32001
	CodeBackendFailure = -32002
	CodeForbidden      = -32003
	CodeNotFound       = -32004
	CodeNotRunning     = -32005
)

// codeFor maps a failure kind to its JSON-RPC code.
func codeFor(k Kind) int {
	switch k {
	case KindUnauthorized:
		return CodeUnauthorized
	case KindForbidden:
		return CodeForbidden
	case KindUnknownServer, KindNotFound:
		return CodeNotFound
	case KindNotRunning:
		return CodeNotRunning
	case KindInvalidURI, KindInvalidParams:
		return CodeInvalidParams
	case KindBackendFailure, KindConnectFailure:
		return CodeBackendFailure
	default:
		return CodeInternalError
	}
}

func rpcError(err error) *RPCError {
	k := KindOf(err)
	return &RPCError{Code: codeFor(k), Message: err.Error(), Data: &ErrorData{Kind: k}}
}

// ProtocolVersion is the MCP revision the gateway speaks to its callers.
const ProtocolVersion = "2024-11-05"

// InitializeParams is the client's initialize request params.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo describes the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's response to initialize.
type InitializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    ServerCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

// ServerCapability declares server capabilities.
type ServerCapability struct {
	Tools     *ListCapability `json:"tools,omitempty"`
	Resources *ListCapability `json:"resources,omitempty"`
	Prompts   *ListCapability `json:"prompts,omitempty"`
}

// ListCapability declares list-related capabilities.
type ListCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// requestMeta is the _meta object callers attach to params.
type requestMeta struct {
	Token string `json:"token,omitempty"`
}

type metaParams struct {
	Meta *requestMeta `json:"_meta,omitempty"`
}

// CallToolParams is the params for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams is the params for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams is the params for prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}
