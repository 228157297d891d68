package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/config"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/store"
)

func cmdServer(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mcpmux server <list|add|remove> [args...]")
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

	// Edits go through a stopped registry so the gateway's grant and
	// revoke policy applies.
	reg := downstream.NewRegistry(db, downstream.NewMCPFactory(version),
		downstream.WithAccessPolicy(auth.NewValidator(db, db)))
	if err := reg.LoadStopped(ctx); err != nil {
		return err
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "list":
		servers, err := db.ListServers(ctx)
		if err != nil {
			return fmt.Errorf("list servers: %w", err)
		}
		printServers(os.Stdout, servers)

	case "add":
		srv, err := parseServerAdd(rest)
		if err != nil {
			return err
		}
		conn, err := config.NewService(reg, db).CreateServer(ctx, srv)
		if err != nil {
			return err
		}
		fmt.Printf("Server %q added (id %s)\n", conn.Name(), conn.ID())

	case "remove":
		if len(rest) < 1 {
			return fmt.Errorf("usage: mcpmux server remove <id|name>")
		}
		id := rest[0]
		if byName, ok := reg.ResolveByName(id); ok {
			id = byName
		}
		if err := config.NewService(reg, db).DeleteServer(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Server %q removed\n", rest[0])

	default:
		return fmt.Errorf("unknown server command: %s\nUsage: mcpmux server <list|add|remove>", sub)
	}
	return nil
}

// parseServerAdd reads either
//
//	<name> --url=<url> [--streaming] [--bearer=<token>]
//	<name> <command> [args...]
func parseServerAdd(args []string) (store.Server, error) {
	srv := store.Server{Transport: store.TransportLocal, Source: "cli"}
	var positional []string
	for _, arg := range args {
		switch {
		case len(positional) >= 2:
			// Everything after the command belongs to the subprocess.
			positional = append(positional, arg)
		case strings.HasPrefix(arg, "--url="):
			srv.URL = strings.TrimPrefix(arg, "--url=")
			if srv.Transport == store.TransportLocal {
				srv.Transport = store.TransportRemote
			}
		case arg == "--streaming":
			srv.Transport = store.TransportRemoteStreaming
		case strings.HasPrefix(arg, "--bearer="):
			srv.BearerToken = strings.TrimPrefix(arg, "--bearer=")
		case arg == "--auto-start":
			srv.AutoStart = true
		case strings.HasPrefix(arg, "--"):
			return srv, fmt.Errorf("unknown flag: %s", arg)
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) == 0 {
		return srv, fmt.Errorf("usage: mcpmux server add <name> (<command> [args...] | --url=<url> [--streaming])")
	}
	srv.Name = positional[0]
	if len(positional) > 1 {
		srv.Command = positional[1]
		srv.Args = positional[2:]
	}
	return srv, nil
}

func printServers(w io.Writer, servers []store.Server) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTRANSPORT\tTARGET\tAUTO-START\tDISABLED")
	for _, s := range servers {
		target := s.URL
		if s.Transport == store.TransportLocal {
			target = strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\n",
			s.ID, s.Name, s.Transport, target, s.AutoStart, s.Disabled)
	}
	_ = tw.Flush()
}
