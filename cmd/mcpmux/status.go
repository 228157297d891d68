package main

import (
	"context"
	"fmt"

	"github.com/revittco/mcpmux/internal/store"
)

func cmdStatus() error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	servers, err := db.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	tokens, err := db.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	_, auditTotal, err := db.QueryAuditRecords(ctx, store.AuditFilter{Limit: 1})
	if err != nil {
		return fmt.Errorf("query audit records: %w", err)
	}

	var autoStart, disabled int
	for _, s := range servers {
		if s.AutoStart {
			autoStart++
		}
		if s.Disabled {
			disabled++
		}
	}

	fmt.Printf("mcpmux status (db: %s)\n", cfg.DBDSN)
	fmt.Printf("  Servers:       %d (%d auto-start, %d disabled)\n", len(servers), autoStart, disabled)
	fmt.Printf("  Tokens:        %d\n", len(tokens))
	fmt.Printf("  Audit records: %d\n", auditTotal)
	return nil
}
