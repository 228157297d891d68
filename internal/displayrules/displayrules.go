// Package displayrules rewrites names, descriptions and input schemas of
// backend items before they leave the gateway.
package displayrules

import "encoding/json"

// Kind identifies the item being rewritten.
type Kind string

const (
	KindTool             Kind = "tool"
	KindResource         Kind = "resource"
	KindResourceTemplate Kind = "resource_template"
	KindPrompt           Kind = "prompt"
)

// Engine applies display rules. Implementations must be safe for
// concurrent use and must return the inputs unchanged on failure.
type Engine interface {
	ApplyDisplayRules(name, description, owner string, kind Kind) (string, string)
	ApplyRulesToSchema(schema json.RawMessage, originalName, owner string) json.RawMessage
}

// Identity leaves everything untouched.
type Identity struct{}

func (Identity) ApplyDisplayRules(name, description, _ string, _ Kind) (string, string) {
	return name, description
}

func (Identity) ApplyRulesToSchema(schema json.RawMessage, _, _ string) json.RawMessage {
	return schema
}
