package render

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/noetl/noetl/internal/value"
)

// celEngine is a compiled-program cache around cel-go, the same shape as
// the teacher's cmd/workflow-runner/condition.Evaluator: a single "ctx"
// DynType variable holding the whole context map, a map[string]cel.Program
// cache guarded by a RWMutex, and a Compile -> Program -> Eval pipeline.
// Unlike the teacher (which exposes "output"/"ctx" as two variables for its
// two-phase step/condition model), NoETL expressions evaluate against one
// flat context tree, so bare identifiers that name a top-level context key
// are rewritten to "ctx.<name>" before compilation — the CEL equivalent of
// the teacher's "$.field" -> "output.field" normalization.
type celEngine struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

func newCELEngine() *celEngine {
	return &celEngine{cache: make(map[string]cel.Program)}
}

var identifier = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// cel keywords/builtins and renderer filter names must never be rewritten
// to a ctx field access.
var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true, "has": true,
	"size": true, "matches": true, "int": true, "string": true, "double": true,
	"bool": true, "bytes": true, "timestamp": true, "duration": true,
	"now": true, "env": true, "to_json": true, "b64encode": true,
}

// normalize rewrites bare identifiers that are top-level keys of ctx into
// "ctx.<key>" field selects, so an expression like "count > 3" compiles
// against a single declared "ctx" variable.
func normalize(expr string, ctx value.Value) string {
	keys := ctx.Keys()
	if len(keys) == 0 {
		return expr
	}
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	return identifier.ReplaceAllStringFunc(expr, func(ident string) string {
		if celReserved[ident] || !known[ident] {
			return ident
		}
		return "ctx." + ident
	})
}

func (e *celEngine) eval(expr string, ctx value.Value) (value.Value, error) {
	normalized := normalize(expr, ctx)

	e.mu.RLock()
	prg, exists := e.cache[normalized]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return value.Null(), err
		}
		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{"ctx": ctx.Native()})
	if err != nil {
		return value.Null(), fmt.Errorf("cel evaluation: %w", err)
	}
	return value.FromNative(out.Value()), nil
}

func (e *celEngine) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("ctx", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return prg, nil
}

// ClearCache drops all compiled programs, exposed for tests and for a
// future playbook-reload hook.
func (e *celEngine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

func (e *celEngine) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
