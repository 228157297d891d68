package downstream

import (
	"os"
	"regexp"
	"sort"

	"github.com/revittco/mcpmux/internal/store"
)

// placeholderRe matches {NAME} and ${NAME}.
var placeholderRe = regexp.MustCompile(`\$?\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolvePlaceholders substitutes placeholders in val from the given
// sources in order. Unresolved placeholders are left verbatim.
func ResolvePlaceholders(val string, sources ...func(string) (string, bool)) string {
	return placeholderRe.ReplaceAllStringFunc(val, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		for _, src := range sources {
			if v, ok := src(name); ok {
				return v
			}
		}
		return m
	})
}

func mapSource(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// ResolveCommand expands placeholders in a local server's command, args
// and env. Lookup order is input params, server env, then the process
// environment.
func ResolveCommand(srv store.Server) (string, []string, map[string]string) {
	sources := []func(string) (string, bool){
		mapSource(srv.InputParams),
		mapSource(srv.Env),
		os.LookupEnv,
	}

	command := ResolvePlaceholders(srv.Command, sources...)
	args := make([]string, len(srv.Args))
	for i, a := range srv.Args {
		args[i] = ResolvePlaceholders(a, sources...)
	}
	env := make(map[string]string, len(srv.Env))
	for k, v := range srv.Env {
		env[k] = ResolvePlaceholders(v, sources...)
	}
	return command, args, env
}

// EnvList renders env as sorted KEY=VALUE pairs. The stdio transport
// appends these to the inherited process environment.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
