package audit

import (
	"encoding/json"
	"strings"
)

// metaKey carries per-call metadata, including the caller's bearer token.
const metaKey = "_meta"

// redactPatterns are key substrings that always trigger redaction.
var redactPatterns = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"bearer",
	"api_key",
	"apikey",
	"cookie",
	"credential",
}

const redactedValue = "[REDACTED]"

// StripMeta drops the top-level _meta object from a params document.
func StripMeta(params json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}
	if _, ok := obj[metaKey]; !ok {
		return params
	}
	delete(obj, metaKey)
	out, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return out
}

// Redact replaces values under sensitive keys with [REDACTED], descending
// into nested objects and arrays. Extra hints extend the key patterns.
func Redact(params json.RawMessage, hints []string) json.RawMessage {
	if len(params) == 0 {
		return params
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return params
	}
	doc, changed := redactValue(doc, hints)
	if !changed {
		return params
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return params
	}
	return out
}

func redactValue(v any, hints []string) (any, bool) {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if shouldRedact(k, hints) {
				t[k] = redactedValue
				changed = true
				continue
			}
			if nv, c := redactValue(child, hints); c {
				t[k] = nv
				changed = true
			}
		}
	case []any:
		for i, child := range t {
			if nv, c := redactValue(child, hints); c {
				t[i] = nv
				changed = true
			}
		}
	}
	return v, changed
}

func shouldRedact(key string, hints []string) bool {
	lower := strings.ToLower(key)
	for _, p := range redactPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, h := range hints {
		if h != "" && strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}
