package gateway

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return newError(KindInvalidParams, "missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Kind: KindInvalidParams, Message: "invalid params: " + err.Error(), Err: err}
	}
	return nil
}

func (s *Server) initialize(params json.RawMessage) (InitializeResult, error) {
	if len(params) > 0 {
		var p InitializeParams
		if err := decodeParams(params, &p); err != nil {
			return InitializeResult{}, err
		}
	}
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapability{
			Tools:     &ListCapability{},
			Resources: &ListCapability{},
			Prompts:   &ListCapability{},
		},
		ServerInfo: ServerInfo{Name: HostServerName, Version: s.version},
	}, nil
}

func (s *Server) listTools(ctx context.Context, token string) (any, error) {
	tools, err := s.dispatcher.ListTools(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string][]mcp.Tool{"tools": tools}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage, token string) (any, error) {
	var p CallToolParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, newError(KindInvalidParams, "tool name is required")
	}
	return s.dispatcher.CallTool(ctx, p.Name, p.Arguments, token)
}

func (s *Server) listResources(ctx context.Context, token string) (any, error) {
	resources, err := s.dispatcher.ListResources(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string][]mcp.Resource{"resources": resources}, nil
}

func (s *Server) listResourceTemplates(ctx context.Context, token string) (any, error) {
	templates, err := s.dispatcher.ListResourceTemplates(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string][]mcp.ResourceTemplate{"resourceTemplates": templates}, nil
}

func (s *Server) readResource(ctx context.Context, params json.RawMessage, token string) (any, error) {
	var p ReadResourceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	contents, err := s.dispatcher.ReadResource(ctx, p.URI, token)
	if err != nil {
		return nil, err
	}
	return map[string][]mcp.ResourceContents{"contents": contents}, nil
}

func (s *Server) listPrompts(ctx context.Context, token string) (any, error) {
	prompts, err := s.dispatcher.ListPrompts(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string][]mcp.Prompt{"prompts": prompts}, nil
}

func (s *Server) getPrompt(ctx context.Context, params json.RawMessage, token string) (any, error) {
	var p GetPromptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, newError(KindInvalidParams, "prompt name is required")
	}
	return s.dispatcher.GetPrompt(ctx, p.Name, p.Arguments, token)
}
