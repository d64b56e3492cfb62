package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RenderInput resolves {{key}} placeholders in a step input against the plan
// context. Only string leaves are walked; maps and slices are rebuilt so the
// original input is never mutated. An unresolved placeholder is left literal.
//
// A string that consists of exactly one placeholder resolves to the raw
// context value (which may be a map or number); placeholders embedded in
// longer strings stringify their value.
func RenderInput(input interface{}, ctx map[string]interface{}) interface{} {
	switch val := input.(type) {
	case string:
		return renderString(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = RenderInput(v, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			out[i] = RenderInput(v, ctx)
		}
		return out
	default:
		return input
	}
}

func renderString(s string, ctx map[string]interface{}) interface{} {
	// Whole-string placeholder: return the raw value to preserve its type.
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		inner := strings.TrimSpace(s[2 : len(s)-2])
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			if v, ok := LookupPath(ctx, inner); ok {
				return v
			}
			return s
		}
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		key := strings.TrimSpace(rest[start+2 : end])
		if v, ok := LookupPath(ctx, key); ok {
			b.WriteString(stringify(v))
		} else {
			// Leave the literal placeholder in place; not a failure.
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}

// LookupPath resolves a dotted path ("A_result.echoed.msg") into nested maps.
func LookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	if ctx == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}
