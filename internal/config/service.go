package config

import (
	"context"
	"fmt"

	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
)

// Service provides server CRUD with validation on top of the registry.
type Service struct {
	registry *downstream.Registry
	store    store.ServerStore
}

// NewService creates a config Service.
func NewService(reg *downstream.Registry, s store.ServerStore) *Service {
	return &Service{registry: reg, store: s}
}

// CreateServer validates and registers a new server.
func (s *Service) CreateServer(ctx context.Context, srv store.Server) (*downstream.Connection, error) {
	if srv.Transport == "" {
		srv.Transport = store.TransportLocal
	}
	if err := ValidateServer(srv); err != nil {
		return nil, err
	}
	if err := s.checkNameUnique(srv.Name, ""); err != nil {
		return nil, err
	}
	return s.registry.Add(ctx, srv)
}

// UpdateServer validates and updates an existing server.
func (s *Service) UpdateServer(ctx context.Context, srv store.Server) error {
	existing, err := s.store.GetServer(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("server %s: %w", srv.ID, err)
	}
	if srv.Transport == "" {
		srv.Transport = existing.Transport
	}
	if srv.Source == "" {
		srv.Source = existing.Source
	}
	if err := ValidateServer(srv); err != nil {
		return err
	}
	if err := s.checkNameUnique(srv.Name, srv.ID); err != nil {
		return err
	}
	return s.registry.Update(ctx, srv)
}

// DeleteServer removes a server and revokes it from every token.
func (s *Service) DeleteServer(ctx context.Context, id string) error {
	ok, err := s.registry.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// Export serializes the current servers and tokens to a FileConfig.
// Bearer tokens are omitted.
func Export(ctx context.Context, servers store.ServerStore, tokens store.TokenStore) (*FileConfig, error) {
	srvs, err := servers.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	toks, err := tokens.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	cfg := &FileConfig{}
	for _, s := range srvs {
		cfg.Servers = append(cfg.Servers, serverConfig{
			ID: s.ID, Name: s.Name, Transport: s.Transport,
			Command: s.Command, Args: s.Args, Env: s.Env,
			InputParams: s.InputParams, URL: s.URL,
			AutoStart: s.AutoStart, Disabled: s.Disabled,
			ToolPermissions: s.ToolPermissions,
		})
	}
	for _, t := range toks {
		cfg.Tokens = append(cfg.Tokens, tokenConfig{
			ID: t.ID, ClientID: t.ClientID,
			Scopes: t.Scopes, ServerIDs: t.ServerIDs,
		})
	}
	return cfg, nil
}

func (s *Service) checkNameUnique(name, excludeID string) error {
	id, ok := s.registry.ResolveByName(name)
	if ok && id != excludeID {
		return fmt.Errorf("server name %q: %w", name, store.ErrAlreadyExists)
	}
	return nil
}
