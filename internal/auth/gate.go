package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrUnknownServer = errors.New("unknown server")
)

// TokenValidator is the external token contract the gate depends on.
type TokenValidator interface {
	Validate(ctx context.Context, tokenID string) (clientID string, ok bool, err error)
	HasServerAccess(ctx context.Context, tokenID, serverID string) (bool, error)
	HasScope(ctx context.Context, tokenID, scope string) (bool, error)
}

// ServerResolver maps a server name to its id.
type ServerResolver interface {
	ResolveByName(name string) (string, bool)
}

// Gate performs per-server authorization for single-target calls.
type Gate struct {
	validator TokenValidator
	servers   ServerResolver
}

// NewGate creates a Gate.
func NewGate(v TokenValidator, r ServerResolver) *Gate {
	return &Gate{validator: v, servers: r}
}

// Authorize checks that token may use serverName and returns the caller's
// client id for audit attribution.
func (g *Gate) Authorize(ctx context.Context, token, serverName string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token required", ErrUnauthorized)
	}
	clientID, ok, err := g.validator.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	id, ok := g.servers.ResolveByName(serverName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	allowed, err := g.validator.HasServerAccess(ctx, token, id)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", fmt.Errorf("%w: no access to %s", ErrForbidden, serverName)
	}
	return clientID, nil
}

// Identify validates an optional token for list-style calls. An empty token
// yields ("", false, nil).
func (g *Gate) Identify(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	return g.validator.Validate(ctx, token)
}

// CanAccess reports whether token may see serverID. Errors count as denial.
func (g *Gate) CanAccess(ctx context.Context, token, serverID string) bool {
	ok, err := g.validator.HasServerAccess(ctx, token, serverID)
	return err == nil && ok
}

// RequireScope fails unless token is valid and carries scope.
func (g *Gate) RequireScope(ctx context.Context, token, scope string) (string, error) {
	clientID, ok, err := g.Identify(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	has, err := g.validator.HasScope(ctx, token, scope)
	if err != nil {
		return "", err
	}
	if !has {
		return "", fmt.Errorf("%w: missing scope %s", ErrForbidden, scope)
	}
	return clientID, nil
}
