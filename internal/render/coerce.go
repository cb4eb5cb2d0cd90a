package render

import (
	"encoding/json"
	"strconv"

	"github.com/noetl/noetl/internal/value"
)

// coerceScalar implements the post-render coercion chain SPEC_FULL.md §3.3
// grounds on original_source/noetl/render.py: a fully-interpolated string is
// first tried as JSON (so "42", "true", "[1,2]", "{\"a\":1}" recover their
// original type), then as a bare numeric/boolean literal, and otherwise
// passed through as a plain string.
func coerceScalar(s string) value.Value {
	var native interface{}
	if err := json.Unmarshal([]byte(s), &native); err == nil {
		return value.FromNative(native)
	}

	if b, err := strconv.ParseBool(s); err == nil {
		return value.Bool(b)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f)
	}
	return value.String(s)
}
