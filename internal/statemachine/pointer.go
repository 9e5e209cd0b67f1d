package statemachine

import (
	"encoding/json"
	"strconv"
	"strings"
)

// pointerLookup resolves an RFC 6901 JSON Pointer ("/foo/bar/0") against
// a raw JSON document and reports whether the path exists. Chosen over
// dot-path resolution because task context and input payloads are
// arbitrary JSON, including keys that may themselves contain dots, and
// JSON Pointer is the format spec.md §4.D's field-source paths are
// specified in.
func pointerLookup(doc json.RawMessage, pointer string) (json.RawMessage, bool) {
	if len(doc) == 0 {
		return nil, false
	}
	if pointer == "" {
		return doc, true
	}
	if pointer[0] != '/' {
		return nil, false
	}

	var current any
	if err := json.Unmarshal(doc, &current); err != nil {
		return nil, false
	}

	tokens := strings.Split(pointer[1:], "/")
	for _, tok := range tokens {
		tok = unescapeToken(tok)

		switch v := current.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}

	encoded, err := json.Marshal(current)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}
