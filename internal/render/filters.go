package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/noetl/noetl/internal/value"
)

// applyFilter implements the finite pipe-filter set spec.md §4.D
// names: to_json and b64encode. Unknown filter names are a
// hard error (never silently pass the value through), matching the
// "finite filter set" wording in the spec.
func applyFilter(name string, v value.Value) (value.Value, error) {
	switch name {
	case "to_json":
		b, err := json.Marshal(v.Native())
		if err != nil {
			return value.Null(), fmt.Errorf("to_json: %w", err)
		}
		return value.String(string(b)), nil
	case "b64encode":
		return value.String(base64.StdEncoding.EncodeToString([]byte(v.String()))), nil
	default:
		return value.Null(), fmt.Errorf("unknown filter: %s", name)
	}
}

// resolveGlobal handles the two spec.md §4.D globals that are not ordinary
// context lookups: now() (current UTC instant, RFC3339) and env.NAME
// (process environment, read directly rather than through the context
// tree since it must reflect the worker's actual environment).
func resolveGlobal(path string) (value.Value, bool) {
	if path == "now" || path == "now()" {
		return value.String(time.Now().UTC().Format(time.RFC3339)), true
	}
	if rest, ok := strings.CutPrefix(path, "env."); ok {
		return value.String(os.Getenv(rest)), true
	}
	return value.Null(), false
}
