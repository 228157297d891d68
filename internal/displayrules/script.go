package displayrules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptTimeout = 250 * time.Millisecond

// Script is an Engine backed by a JavaScript file. The script may define
// any of these global functions:
//
//	displayName(name, owner, kind) -> string
//	description(description, owner, kind) -> string
//	inputSchema(schema, toolName, owner) -> object
type Script struct {
	mu          sync.Mutex
	vm          *goja.Runtime
	displayName goja.Callable
	description goja.Callable
	inputSchema goja.Callable
	timeout     time.Duration
}

// LoadScript compiles the display-rule script at path.
func LoadScript(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read display rules: %w", err)
	}
	return NewScript(path, string(src))
}

// NewScript compiles src and resolves its hook functions.
func NewScript(name, src string) (*Script, error) {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compile display rules: %w", err)
	}
	vm := goja.New()
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("run display rules: %w", err)
	}

	s := &Script{vm: vm, timeout: defaultScriptTimeout}
	s.displayName = lookupFunc(vm, "displayName")
	s.description = lookupFunc(vm, "description")
	s.inputSchema = lookupFunc(vm, "inputSchema")
	if s.displayName == nil && s.description == nil && s.inputSchema == nil {
		return nil, fmt.Errorf("display rules %s define no hooks", name)
	}
	return s, nil
}

func lookupFunc(vm *goja.Runtime, name string) goja.Callable {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return fn
}

// call runs fn under the runtime lock with an interrupt deadline.
func (s *Script) call(fn goja.Callable, args ...any) (goja.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := time.AfterFunc(s.timeout, func() { s.vm.Interrupt("display rule timed out") })
	defer func() {
		timer.Stop()
		s.vm.ClearInterrupt()
	}()

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = s.vm.ToValue(a)
	}
	return fn(goja.Undefined(), vals...)
}

func (s *Script) ApplyDisplayRules(name, description, owner string, kind Kind) (string, string) {
	outName, outDesc := name, description
	if s.displayName != nil {
		v, err := s.call(s.displayName, name, owner, string(kind))
		if err != nil {
			slog.Warn("display rule displayName failed", "server", owner, "name", name, "error", err)
		} else if str, ok := exportString(v); ok && str != "" {
			outName = str
		}
	}
	if s.description != nil {
		v, err := s.call(s.description, description, owner, string(kind))
		if err != nil {
			slog.Warn("display rule description failed", "server", owner, "name", name, "error", err)
		} else if str, ok := exportString(v); ok {
			outDesc = str
		}
	}
	return outName, outDesc
}

func (s *Script) ApplyRulesToSchema(schema json.RawMessage, originalName, owner string) json.RawMessage {
	if s.inputSchema == nil || len(schema) == 0 {
		return schema
	}
	var in map[string]any
	if err := json.Unmarshal(schema, &in); err != nil {
		return schema
	}
	v, err := s.call(s.inputSchema, in, originalName, owner)
	if err != nil {
		slog.Warn("display rule inputSchema failed", "server", owner, "tool", originalName, "error", err)
		return schema
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return schema
	}
	out, err := json.Marshal(v.Export())
	if err != nil {
		return schema
	}
	return out
}

func exportString(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}
