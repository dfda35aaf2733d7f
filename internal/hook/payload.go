package hook

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is a free-form worker or tool document. Accessors never fail:
// missing or mistyped fields read as their zero value.
type Payload map[string]any

// Has reports whether key is present.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Truthy reports whether key holds a non-empty, non-zero, non-false value.
func (p Payload) Truthy(key string) bool {
	return Truthy(p[key])
}

// Number reads key as a float. Numeric strings are accepted.
func (p Payload) Number(key string) float64 {
	return number(p[key])
}

// Int reads key as an integer, truncating fractions.
func (p Payload) Int(key string) int {
	return int(p.Number(key))
}

// String reads key as a string; scalars are formatted.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64, int, int64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Strings reads key as a list of strings. A single string yields a one
// element list; non-string entries are skipped.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map reads key as a nested payload.
func (p Payload) Map(key string) Payload {
	switch v := p[key].(type) {
	case map[string]any:
		return Payload(v)
	case Payload:
		return v
	default:
		return nil
	}
}

// Records reads key as a list of nested payloads, skipping other entries.
func (p Payload) Records(key string) []Payload {
	items, ok := p[key].([]any)
	if !ok {
		if typed, ok := p[key].([]map[string]any); ok {
			out := make([]Payload, len(typed))
			for i, item := range typed {
				out[i] = Payload(item)
			}
			return out
		}
		return nil
	}
	out := make([]Payload, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Payload(m))
		}
	}
	return out
}

// Len returns the element count of a list, map, or string value.
func (p Payload) Len(key string) int {
	switch v := p[key].(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	case map[string]any:
		return len(v)
	case string:
		return len(v)
	default:
		return 0
	}
}

// Truthy applies loose truthiness to a decoded JSON value.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0 && !math.IsNaN(v)
	case int:
		return v != 0
	case int64:
		return v != 0
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func number(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
