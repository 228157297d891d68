package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/store"
)

func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mcpmux token <create|list|delete> [args...]")
	}

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

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "create":
		req, err := parseTokenCreate(rest)
		if err != nil {
			return err
		}
		tok, err := auth.NewValidator(db, db).GenerateToken(ctx, req.clientID, req.scopes, req.serverIDs)
		if err != nil {
			return err
		}
		fmt.Println(tok.ID)

	case "list":
		tokens, err := db.ListTokens(ctx)
		if err != nil {
			return fmt.Errorf("list tokens: %w", err)
		}
		printTokens(os.Stdout, tokens)

	case "delete":
		if len(rest) < 1 {
			return fmt.Errorf("usage: mcpmux token delete <token>")
		}
		if err := db.DeleteToken(ctx, rest[0]); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		fmt.Println("Token deleted")

	default:
		return fmt.Errorf("unknown token command: %s\nUsage: mcpmux token <create|list|delete>", sub)
	}
	return nil
}

type tokenRequest struct {
	clientID  string
	scopes    []string
	serverIDs []string // nil grants every server
}

// parseTokenCreate reads `<client-id> [--scopes=a,b] [--servers=x,y]`.
func parseTokenCreate(args []string) (tokenRequest, error) {
	var req tokenRequest
	req.scopes = []string{}
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--scopes="):
			req.scopes = splitList(strings.TrimPrefix(arg, "--scopes="))
		case strings.HasPrefix(arg, "--servers="):
			req.serverIDs = splitList(strings.TrimPrefix(arg, "--servers="))
		case strings.HasPrefix(arg, "--"):
			return req, fmt.Errorf("unknown flag: %s", arg)
		case req.clientID == "":
			req.clientID = arg
		default:
			return req, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if req.clientID == "" {
		return req, fmt.Errorf("usage: mcpmux token create <client-id> [--scopes=a,b] [--servers=id,id]")
	}
	for _, sc := range req.scopes {
		switch sc {
		case store.ScopeServerManagement, store.ScopeLogManagement, store.ScopeApplication:
		default:
			return req, fmt.Errorf("invalid scope %q", sc)
		}
	}
	return req, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printTokens(w io.Writer, tokens []store.Token) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tCLIENT\tSCOPES\tSERVERS\tSOURCE")
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.ClientID, strings.Join(t.Scopes, ","), len(t.ServerIDs), t.Source)
	}
	_ = tw.Flush()
}
