package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
	"gopkg.in/yaml.v3"
)

// SourceYAML tags rows created from the config file.
const SourceYAML = "yaml"

// FileConfig represents the top-level mcpmux.yaml structure.
type FileConfig struct {
	Servers []serverConfig `yaml:"servers"`
	Tokens  []tokenConfig  `yaml:"tokens"`
}

type serverConfig struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Transport       string            `yaml:"transport"`
	Command         string            `yaml:"command,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	InputParams     map[string]string `yaml:"input_params,omitempty"`
	URL             string            `yaml:"url,omitempty"`
	BearerToken     string            `yaml:"bearer_token,omitempty"`
	AutoStart       bool              `yaml:"auto_start"`
	Disabled        bool              `yaml:"disabled"`
	ToolPermissions map[string]bool   `yaml:"tool_permissions,omitempty"`
}

type tokenConfig struct {
	ID        string   `yaml:"id"`
	ClientID  string   `yaml:"client_id"`
	Scopes    []string `yaml:"scopes,omitempty"`
	ServerIDs []string `yaml:"server_ids,omitempty"`
}

func (c serverConfig) server() store.Server {
	transport := c.Transport
	if transport == "" {
		transport = store.TransportLocal
	}
	return store.Server{
		ID:              c.ID,
		Name:            c.Name,
		Transport:       transport,
		Command:         c.Command,
		Args:            c.Args,
		Env:             c.Env,
		InputParams:     c.InputParams,
		URL:             c.URL,
		BearerToken:     c.BearerToken,
		AutoStart:       c.AutoStart,
		Disabled:        c.Disabled,
		ToolPermissions: c.ToolPermissions,
		Source:          SourceYAML,
	}
}

// LoadFile reads, parses, and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Apply upserts servers through the registry and tokens into the store.
// Items from YAML are tagged with source="yaml". Stale yaml-sourced rows
// that no longer appear in the file are removed. Servers go through the
// registry so new ones are granted to existing tokens; tokens are applied
// afterwards so a token without server_ids sees every server.
func Apply(ctx context.Context, reg *downstream.Registry, servers store.ServerStore, tokens store.TokenStore, cfg *FileConfig) error {
	if err := applyServers(ctx, reg, servers, cfg.Servers); err != nil {
		return err
	}
	return applyTokens(ctx, tokens, servers, cfg.Tokens)
}

func applyServers(ctx context.Context, reg *downstream.Registry, servers store.ServerStore, items []serverConfig) error {
	yamlIDs := make(map[string]bool, len(items))
	for _, c := range items {
		yamlIDs[c.ID] = true
		srv := c.server()

		if conn, ok := reg.ResolveByID(c.ID); ok {
			if err := reg.Update(ctx, srv); err != nil {
				return fmt.Errorf("update server %s: %w", c.ID, err)
			}
			if srv.AutoStart && !srv.Disabled && conn.Status() != downstream.StatusRunning {
				reg.StartInBackground(ctx, c.ID)
			}
			continue
		}
		if _, err := reg.Add(ctx, srv); err != nil {
			return fmt.Errorf("add server %s: %w", c.ID, err)
		}
		if srv.AutoStart && !srv.Disabled {
			reg.StartInBackground(ctx, c.ID)
		}
	}
	return pruneStaleServers(ctx, reg, servers, yamlIDs)
}

func pruneStaleServers(ctx context.Context, reg *downstream.Registry, servers store.ServerStore, yamlIDs map[string]bool) error {
	all, err := servers.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers for prune: %w", err)
	}
	for _, s := range all {
		if s.Source == SourceYAML && !yamlIDs[s.ID] {
			slog.Info("pruning stale yaml server", "server", s.Name, "server_id", s.ID)
			if _, err := reg.Remove(ctx, s.ID); err != nil {
				return fmt.Errorf("remove stale server %s: %w", s.ID, err)
			}
		}
	}
	return nil
}

func applyTokens(ctx context.Context, tokens store.TokenStore, servers store.ServerStore, items []tokenConfig) error {
	yamlIDs := make(map[string]bool, len(items))
	for _, c := range items {
		yamlIDs[c.ID] = true
		serverIDs := c.ServerIDs
		if serverIDs == nil {
			ids, err := allServerIDs(ctx, servers)
			if err != nil {
				return err
			}
			serverIDs = ids
		}
		tok := &store.Token{
			ID:        c.ID,
			ClientID:  c.ClientID,
			Scopes:    c.Scopes,
			ServerIDs: serverIDs,
			Source:    SourceYAML,
		}

		_, err := tokens.GetToken(ctx, c.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := tokens.CreateToken(ctx, tok); err != nil {
				return fmt.Errorf("create token for %s: %w", c.ClientID, err)
			}
		case err != nil:
			return fmt.Errorf("get token for %s: %w", c.ClientID, err)
		default:
			if err := tokens.UpdateToken(ctx, tok); err != nil {
				return fmt.Errorf("update token for %s: %w", c.ClientID, err)
			}
		}
	}
	return pruneStaleTokens(ctx, tokens, yamlIDs)
}

func pruneStaleTokens(ctx context.Context, tokens store.TokenStore, yamlIDs map[string]bool) error {
	all, err := tokens.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens for prune: %w", err)
	}
	for _, t := range all {
		if t.Source == SourceYAML && !yamlIDs[t.ID] {
			slog.Info("pruning stale yaml token", "client_id", t.ClientID)
			if err := tokens.DeleteToken(ctx, t.ID); err != nil {
				return fmt.Errorf("delete stale token %s: %w", t.ClientID, err)
			}
		}
	}
	return nil
}

func allServerIDs(ctx context.Context, servers store.ServerStore) ([]string, error) {
	list, err := servers.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	return ids, nil
}
