package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/revittco/mcpmux/internal/store"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"MCPMUX_MODE", "MCPMUX_HTTP_ADDR", "MCPMUX_AGE_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("MCPMUX_DB_DSN", "/tmp/x/mcpmux.db")
	t.Setenv("MCPMUX_FANOUT_TIMEOUT", "")
	t.Setenv("MCPMUX_REQUIRE_TOKEN_FOR_READS", "true")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Mode != "stdio" || cfg.HTTPAddr != "127.0.0.1:3282" {
		t.Errorf("mode/addr = %q %q", cfg.Mode, cfg.HTTPAddr)
	}
	if cfg.AgeKeyPath != "/tmp/x/mcpmux.db.age" {
		t.Errorf("age key = %q", cfg.AgeKeyPath)
	}
	if cfg.FanoutTimeout != 30*time.Second || !cfg.RequireTokenForReads {
		t.Errorf("timeout/strict = %v %v", cfg.FanoutTimeout, cfg.RequireTokenForReads)
	}
}

func TestLoadConfigBadTimeout(t *testing.T) {
	t.Setenv("MCPMUX_FANOUT_TIMEOUT", "soon")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for bad timeout")
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := &Config{Mode: "stdio"}
	if err := applyFlags(cfg, []string{"--mode=http", "--addr=:9000"}); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.Mode != "http" || cfg.HTTPAddr != ":9000" {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := applyFlags(cfg, []string{"--mode=grpc"}); err == nil {
		t.Error("invalid mode accepted")
	}
	if err := applyFlags(cfg, []string{"--verbose"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestParseServerAdd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want store.Server
	}{
		{
			name: "local",
			args: []string{"files", "npx", "-y", "server-fs", "--root=/tmp"},
			want: store.Server{
				Name: "files", Transport: store.TransportLocal, Source: "cli",
				Command: "npx", Args: []string{"-y", "server-fs", "--root=/tmp"},
			},
		},
		{
			name: "remote",
			args: []string{"search", "--url=https://s.example/sse", "--bearer=abc"},
			want: store.Server{
				Name: "search", Transport: store.TransportRemote, Source: "cli",
				URL: "https://s.example/sse", BearerToken: "abc",
			},
		},
		{
			name: "streaming",
			args: []string{"--streaming", "--auto-start", "search", "--url=https://s.example/mcp"},
			want: store.Server{
				Name: "search", Transport: store.TransportRemoteStreaming, Source: "cli",
				URL: "https://s.example/mcp", AutoStart: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseServerAdd(tt.args)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("server (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := parseServerAdd(nil); err == nil {
		t.Error("empty args accepted")
	}
}

func TestParseTokenCreate(t *testing.T) {
	req, err := parseTokenCreate([]string{"desktop", "--scopes=application, log_management", "--servers=a"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"application", "log_management"}, req.scopes); diff != "" {
		t.Errorf("scopes (-want +got):\n%s", diff)
	}
	if req.clientID != "desktop" || len(req.serverIDs) != 1 {
		t.Errorf("req = %+v", req)
	}

	req, err = parseTokenCreate([]string{"ci"})
	if err != nil || req.serverIDs != nil {
		t.Errorf("default servers = %v, %v", req.serverIDs, err)
	}

	_, err = parseTokenCreate([]string{"ci", "--scopes=root"})
	if err == nil || !strings.Contains(err.Error(), "invalid scope") {
		t.Errorf("bad scope err = %v", err)
	}
}

func TestPrintServers(t *testing.T) {
	var b strings.Builder
	printServers(&b, []store.Server{{ID: "1", Name: "files", Transport: store.TransportLocal, Command: "npx", Args: []string{"-y"}}})
	if !strings.Contains(b.String(), "npx -y") {
		t.Errorf("output = %q", b.String())
	}
}
