package provider

import (
	"encoding/json"
	"sort"
	"strings"
)

// ExtractURLs collects every http(s) URL in an arbitrary JSON document:
// bare strings, arrays, and values nested in objects (e.g. {"images":[{"url":...}]}).
// Order follows the document, with object keys visited alphabetically; duplicates are dropped.
func ExtractURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if isHTTPURL(t) && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		}
	}
	walk(doc)
	return out
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

// errorText flattens an upstream error field that may be a string, an object or null.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Detail != nil {
			b, _ := json.Marshal(obj.Detail)
			return string(b)
		}
		return ""
	}
	return string(raw)
}
