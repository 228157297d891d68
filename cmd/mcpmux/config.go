package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/revittco/mcpmux/internal/secrets"
	"github.com/revittco/mcpmux/internal/store/sqlite"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Mode                 string        // "stdio" or "http"
	HTTPAddr             string        // "127.0.0.1:3282"
	DBDSN                string        // sqlite file path
	AgeKeyPath           string        // path to age identity file
	ConfigFile           string        // path to mcpmux.yaml
	DisplayRules         string        // optional JS display rule script
	LogLevel             slog.Level    // slog level
	FanoutTimeout        time.Duration // per-backend list timeout, 0 disables
	Token                string        // default token for stdio callers
	RequireTokenForReads bool
}

// defaultDataPath returns ~/.mcpmux/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".mcpmux", filename)
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Mode:         envOr("MCPMUX_MODE", "stdio"),
		HTTPAddr:     envOr("MCPMUX_HTTP_ADDR", "127.0.0.1:3282"),
		DBDSN:        envOr("MCPMUX_DB_DSN", defaultDataPath("mcpmux.db")),
		AgeKeyPath:   envOr("MCPMUX_AGE_KEY", ""),
		ConfigFile:   envOr("MCPMUX_CONFIG", defaultDataPath("mcpmux.yaml")),
		DisplayRules: envOr("MCPMUX_DISPLAY_RULES", ""),
		LogLevel:     parseLogLevel(envOr("MCPMUX_LOG_LEVEL", "info")),
		Token:        envOr("MCPMUX_TOKEN", ""),
	}
	if cfg.AgeKeyPath == "" {
		cfg.AgeKeyPath = cfg.DBDSN + ".age"
	}

	timeout, err := time.ParseDuration(envOr("MCPMUX_FANOUT_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("MCPMUX_FANOUT_TIMEOUT: %w", err)
	}
	cfg.FanoutTimeout = timeout

	if v := envOr("MCPMUX_REQUIRE_TOKEN_FOR_READS", ""); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("MCPMUX_REQUIRE_TOKEN_FOR_READS: %w", err)
		}
		cfg.RequireTokenForReads = strict
	}
	return cfg, nil
}

// applyFlags parses --mode=X and --addr=X flags from the args list.
func applyFlags(cfg *Config, args []string) error {
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--mode="):
			cfg.Mode = strings.TrimPrefix(arg, "--mode=")
		case strings.HasPrefix(arg, "--addr="):
			cfg.HTTPAddr = strings.TrimPrefix(arg, "--addr=")
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}
	switch cfg.Mode {
	case "stdio", "http":
		return nil
	default:
		return fmt.Errorf("invalid mode %q (must be stdio or http)", cfg.Mode)
	}
}

// openStore opens the sqlite database with bearer tokens sealed by the
// age key, creating both on first use.
func openStore(ctx context.Context, cfg *Config) (*sqlite.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	enc, err := secrets.LoadOrCreateKey(cfg.AgeKeyPath)
	if err != nil {
		return nil, err
	}
	db, err := sqlite.New(ctx, cfg.DBDSN, sqlite.WithCipher(enc))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
