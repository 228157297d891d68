package config

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
	"github.com/revittco/mcpmux/internal/store/sqlite"
)

type noFactory struct{}

func (noFactory) Connect(context.Context, store.Server) (downstream.Client, error) {
	return nil, errors.New("not connectable in tests")
}

func newTestRegistry(t *testing.T) (*downstream.Registry, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/config.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := downstream.NewRegistry(db, noFactory{}, downstream.WithAccessPolicy(auth.NewValidator(db, db)))
	return reg, db
}

const sampleYAML = `
servers:
  - id: files
    name: files
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "{ROOT}"]
    input_params:
      ROOT: /tmp
    tool_permissions:
      delete_file: false
  - id: search
    name: search
    transport: remote
    url: https://search.example.com/sse
    bearer_token: s3cret
tokens:
  - id: mcpmux_desktop
    client_id: desktop
    scopes: [application]
  - id: mcpmux_ci
    client_id: ci
    scopes: [log_management]
    server_ids: [search]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Servers) != 2 || len(cfg.Tokens) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	srv := cfg.Servers[0].server()
	if srv.Transport != store.TransportLocal || srv.Source != SourceYAML {
		t.Errorf("server defaults = %+v", srv)
	}
	if srv.ToolEnabled("delete_file") {
		t.Error("delete_file should be disabled")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "servers:\n  - name: a\n    command: x\n", "id is required"},
		{"reserved name", "servers:\n  - id: a\n    name: mcpmux\n    command: x\n", "reserved"},
		{"slash in name", "servers:\n  - id: a\n    name: a/b\n    command: x\n", "must not contain"},
		{"duplicate name", "servers:\n  - id: a\n    name: x\n    command: x\n  - id: b\n    name: x\n    command: x\n", "duplicate name"},
		{"local without command", "servers:\n  - id: a\n    name: a\n", "command is required"},
		{"remote without url", "servers:\n  - id: a\n    name: a\n    transport: remote\n", "url is required"},
		{"bad transport", "servers:\n  - id: a\n    name: a\n    transport: carrier-pigeon\n", "invalid transport"},
		{"token without client", "tokens:\n  - id: t\n", "client_id is required"},
		{"bad scope", "tokens:\n  - id: t\n    client_id: c\n    scopes: [root]\n", "invalid scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if !strings.Contains(verr.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", verr.Error(), tt.want)
			}
		})
	}
}

func TestParseCollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte("servers:\n  - name: mcpmux\n  - id: b\n    name: b\n    transport: nope\n"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if len(verr.Errors) < 3 {
		t.Errorf("errors = %v, want at least 3", verr.Errors)
	}
}

func TestApply(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()

	// A pre-existing api token should be granted servers added from yaml.
	existing := &store.Token{ID: "mcpmux_existing", ClientID: "existing", ServerIDs: []string{}}
	if err := db.CreateToken(ctx, existing); err != nil {
		t.Fatalf("create token: %v", err)
	}

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Apply(ctx, reg, db, db, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, ok := reg.ResolveByName("files"); !ok {
		t.Fatal("files not registered")
	}
	got, err := db.GetServer(ctx, "search")
	if err != nil {
		t.Fatalf("get search: %v", err)
	}
	if got.Source != SourceYAML || got.BearerToken != "s3cret" {
		t.Errorf("search = %+v", got)
	}

	tests := []struct {
		id   string
		want []string
	}{
		{"mcpmux_existing", []string{"files", "search"}},
		{"mcpmux_desktop", []string{"files", "search"}},
		{"mcpmux_ci", []string{"search"}},
	}
	for _, tt := range tests {
		tok, err := db.GetToken(ctx, tt.id)
		if err != nil {
			t.Fatalf("get token %s: %v", tt.id, err)
		}
		if diff := cmp.Diff(tt.want, tok.ServerIDs); diff != "" {
			t.Errorf("%s server ids (-want +got):\n%s", tt.id, diff)
		}
	}

	// Re-applying with one server and token dropped prunes them.
	trimmed := &FileConfig{Servers: cfg.Servers[:1], Tokens: cfg.Tokens[:1]}
	if err := Apply(ctx, reg, db, db, trimmed); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if _, ok := reg.ResolveByID("search"); ok {
		t.Error("stale server still registered")
	}
	if _, err := db.GetToken(ctx, "mcpmux_ci"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale token err = %v, want ErrNotFound", err)
	}
	tok, err := db.GetToken(ctx, "mcpmux_existing")
	if err != nil {
		t.Fatalf("existing token pruned: %v", err)
	}
	if diff := cmp.Diff([]string{"files"}, tok.ServerIDs); diff != "" {
		t.Errorf("existing token server ids (-want +got):\n%s", diff)
	}
}

func TestServiceCreateServer(t *testing.T) {
	reg, db := newTestRegistry(t)
	svc := NewService(reg, db)
	ctx := context.Background()

	if _, err := svc.CreateServer(ctx, store.Server{Name: "files", Command: "npx"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateServer(ctx, store.Server{Name: "files", Command: "npx"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate err = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.CreateServer(ctx, store.Server{Name: ReservedServerName, Command: "npx"}); err == nil {
		t.Error("reserved name accepted")
	}
	if err := svc.DeleteServer(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete missing err = %v, want ErrNotFound", err)
	}
}

func TestServiceUpdateServer(t *testing.T) {
	reg, db := newTestRegistry(t)
	svc := NewService(reg, db)
	ctx := context.Background()

	a, _ := svc.CreateServer(ctx, store.Server{Name: "a", Command: "x"})
	if _, err := svc.CreateServer(ctx, store.Server{Name: "b", Command: "x"}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	srv := a.Server()
	srv.Name = "b"
	if err := svc.UpdateServer(ctx, srv); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("rename onto b err = %v, want ErrAlreadyExists", err)
	}
	srv.Name = "renamed"
	if err := svc.UpdateServer(ctx, srv); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if id, ok := reg.ResolveByName("renamed"); !ok || id != srv.ID {
		t.Errorf("resolve renamed = %q, %v", id, ok)
	}
}

func TestExport(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()
	cfg, _ := Parse([]byte(sampleYAML))
	if err := Apply(ctx, reg, db, db, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	out, err := Export(ctx, db, db)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Servers) != 2 || len(out.Tokens) != 2 {
		t.Fatalf("export = %+v", out)
	}
	for _, s := range out.Servers {
		if s.BearerToken != "" {
			t.Errorf("bearer token exported for %s", s.Name)
		}
	}
}
