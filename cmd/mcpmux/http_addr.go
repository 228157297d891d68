package main

import (
	"net"
	"strings"
)

// endpointURL converts an HTTP listen address into the URL clients
// should use for path.
//
//	:3282            -> http://localhost:3282/mcp
//	127.0.0.1:3282   -> http://127.0.0.1:3282/mcp
//	[::1]:3282       -> http://[::1]:3282/mcp
func endpointURL(addr, path string) string {
	a := strings.TrimSpace(addr)
	base := "http://localhost"
	switch {
	case a == "":
	case strings.HasPrefix(a, "http://"), strings.HasPrefix(a, "https://"):
		base = strings.TrimRight(a, "/")
	default:
		if host, port, err := net.SplitHostPort(a); err == nil {
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "localhost"
			}
			base = "http://" + net.JoinHostPort(host, port)
		} else {
			base = "http://" + a
		}
	}
	return base + path
}
