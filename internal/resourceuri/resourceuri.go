// Package resourceuri translates between backend-native resource URIs and
// the gateway's canonical resource://<server>/<path> form.
package resourceuri

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// Scheme prefixes every canonical URI.
const Scheme = "resource://"

// ErrInvalid is returned for URIs that are not canonical.
var ErrInvalid = errors.New("invalid resource uri")

// Canonical builds the gateway address for a path on serverName.
func Canonical(serverName, path string) string {
	return Scheme + serverName + "/" + path
}

// Parse splits a canonical URI into server name and path.
func Parse(uri string) (serverName, path string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalid, uri)
	}
	serverName, path, ok = strings.Cut(rest, "/")
	if !ok || serverName == "" || path == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalid, uri)
	}
	return serverName, path, nil
}

// SplitNative separates a native URI into its protocol prefix (including
// "://") and the remainder. URIs without a scheme return an empty protocol.
func SplitNative(uri string) (protocol, path string) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || !validScheme(scheme) {
		return "", uri
	}
	return scheme + "://", rest
}

// validScheme reports whether s is an RFC 3986 scheme name.
func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// ToCanonical maps a backend's native URI into the canonical space.
func ToCanonical(serverName, nativeURI string) (canonical, protocol string) {
	protocol, path := SplitNative(nativeURI)
	return Canonical(serverName, path), protocol
}

// Candidates lists native URIs to try for a read, most specific first:
// remembered protocol + path, bare path, then resource:// + path.
func Candidates(protocol, path string) []string {
	out := make([]string, 0, 3)
	add := func(s string) {
		for _, c := range out {
			if c == s {
				return
			}
		}
		out = append(out, s)
	}
	if protocol != "" {
		add(protocol + path)
	}
	add(path)
	add(Scheme + path)
	return out
}

// MatchTemplate finds the first canonical template (in sorted key order)
// that matches uri and returns its remembered protocol.
func MatchTemplate(templates map[string]string, uri string) (string, bool) {
	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		tpl, err := uritemplate.New(k)
		if err != nil {
			continue
		}
		if tpl.Match(uri) != nil {
			return templates[k], true
		}
	}
	return "", false
}
