package main

import (
	"fmt"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mcpmux: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Parse subcommand from args
	subcmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "token":
		return cmdToken(args)
	case "server":
		return cmdServer(args)
	case "status":
		return cmdStatus()
	case "version":
		fmt.Println(version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nUsage: mcpmux [serve|token|server|status|version]", subcmd)
	}
}
