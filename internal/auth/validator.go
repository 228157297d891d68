package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/revittco/mcpmux/internal/store"
)

// TokenPrefix marks bearer values issued by this gateway.
const TokenPrefix = "mcpmux_"

// Validator answers token questions against the token store. It also
// implements the grant/revoke policy applied when servers come and go.
type Validator struct {
	tokens  store.TokenStore
	servers store.ServerStore
}

// NewValidator creates a Validator.
func NewValidator(tokens store.TokenStore, servers store.ServerStore) *Validator {
	return &Validator{tokens: tokens, servers: servers}
}

func (v *Validator) lookup(ctx context.Context, tokenID string) (*store.Token, error) {
	if tokenID == "" {
		return nil, nil
	}
	tok, err := v.tokens.GetToken(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return tok, nil
}

// Validate reports whether tokenID is known and, if so, its client id.
func (v *Validator) Validate(ctx context.Context, tokenID string) (string, bool, error) {
	tok, err := v.lookup(ctx, tokenID)
	if err != nil || tok == nil {
		return "", false, err
	}
	return tok.ClientID, true, nil
}

// HasServerAccess reports whether the token's allow-list contains serverID.
func (v *Validator) HasServerAccess(ctx context.Context, tokenID, serverID string) (bool, error) {
	tok, err := v.lookup(ctx, tokenID)
	if err != nil || tok == nil {
		return false, err
	}
	return tok.HasServer(serverID), nil
}

// HasScope reports whether the token carries scope.
func (v *Validator) HasScope(ctx context.Context, tokenID, scope string) (bool, error) {
	tok, err := v.lookup(ctx, tokenID)
	if err != nil || tok == nil {
		return false, err
	}
	return tok.HasScope(scope), nil
}

// GenerateToken issues a new token for clientID. A nil serverIDs grants
// every server currently configured.
func (v *Validator) GenerateToken(
	ctx context.Context, clientID string, scopes, serverIDs []string,
) (*store.Token, error) {
	if clientID == "" {
		return nil, errors.New("client id is required")
	}
	if serverIDs == nil {
		servers, err := v.servers.ListServers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list servers: %w", err)
		}
		serverIDs = make([]string, 0, len(servers))
		for _, s := range servers {
			serverIDs = append(serverIDs, s.ID)
		}
	}

	id, err := newTokenID()
	if err != nil {
		return nil, err
	}
	tok := &store.Token{
		ID:        id,
		ClientID:  clientID,
		Scopes:    scopes,
		ServerIDs: serverIDs,
	}
	if err := v.tokens.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return tok, nil
}

// GrantServer appends serverID to every token's allow-list.
func (v *Validator) GrantServer(ctx context.Context, serverID string) error {
	return v.rewriteAll(ctx, func(t *store.Token) bool {
		if t.HasServer(serverID) {
			return false
		}
		t.ServerIDs = append(t.ServerIDs, serverID)
		return true
	})
}

// RevokeServer prunes serverID from every token's allow-list.
func (v *Validator) RevokeServer(ctx context.Context, serverID string) error {
	return v.rewriteAll(ctx, func(t *store.Token) bool {
		if !t.HasServer(serverID) {
			return false
		}
		t.ServerIDs = slices.DeleteFunc(t.ServerIDs, func(id string) bool { return id == serverID })
		return true
	})
}

func (v *Validator) rewriteAll(ctx context.Context, edit func(*store.Token) bool) error {
	tokens, err := v.tokens.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	for i := range tokens {
		t := &tokens[i]
		if !edit(t) {
			continue
		}
		if err := v.tokens.UpdateToken(ctx, t); err != nil {
			return fmt.Errorf("update token %s: %w", t.ClientID, err)
		}
	}
	return nil
}

func newTokenID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}
