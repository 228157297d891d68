package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/revittco/mcpmux/internal/store"
)

// ReservedServerName is owned by the host pseudo-backend.
const ReservedServerName = "mcpmux"

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness.
func validate(cfg *FileConfig) error {
	var errs []string

	ids := make(map[string]bool, len(cfg.Servers))
	names := make(map[string]bool, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: id is required", i))
		}
		if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate id %q", i, s.ID))
		}
		ids[s.ID] = true
		if names[s.Name] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate name %q", i, s.Name))
		}
		names[s.Name] = true
		if err := ValidateServer(s.server()); err != nil {
			errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
		}
	}

	tokenIDs := make(map[string]bool, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: id is required", i))
		}
		if tokenIDs[t.ID] {
			errs = append(errs, fmt.Sprintf("tokens[%d]: duplicate id", i))
		}
		tokenIDs[t.ID] = true
		if t.ClientID == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: client_id is required", i))
		}
		for _, sc := range t.Scopes {
			if err := validateScope(sc); err != nil {
				errs = append(errs, fmt.Sprintf("tokens[%d]: %v", i, err))
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateServer checks one server configuration.
func ValidateServer(s store.Server) error {
	var errs []error
	switch {
	case s.Name == "":
		errs = append(errs, errors.New("name is required"))
	case s.Name == ReservedServerName:
		errs = append(errs, fmt.Errorf("name %q is reserved", s.Name))
	case strings.Contains(s.Name, "/"):
		errs = append(errs, fmt.Errorf("name %q must not contain '/'", s.Name))
	}

	switch s.Transport {
	case store.TransportLocal, "":
		if s.Command == "" {
			errs = append(errs, errors.New("command is required for local transport"))
		}
	case store.TransportRemote, store.TransportRemoteStreaming:
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("url is required for %s transport", s.Transport))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q (must be local, remote, or remote-streaming)", s.Transport))
	}
	return errors.Join(errs...)
}

func validateScope(scope string) error {
	switch scope {
	case store.ScopeServerManagement, store.ScopeLogManagement, store.ScopeApplication:
		return nil
	default:
		return fmt.Errorf("invalid scope %q", scope)
	}
}
