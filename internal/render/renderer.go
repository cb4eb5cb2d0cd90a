// Package render implements the Template Renderer subsystem (spec.md §4.D):
// a scoped expression evaluator over the event-derived context. Grounded on
// the teacher's cmd/workflow-runner/condition/evaluator.go (cel-go compiled
// program cache) for the expression backend, and on
// original_source/noetl/render.py for the fast path, filter/global set, and
// post-render coercion chain (SPEC_FULL.md §3.3).
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/noetl/noetl/internal/value"
)

// Mode selects the strict/lenient rendering boundary (spec.md §4.D).
// Strict is used only by the context render endpoint when a request sets
// strict:true; no credential or connection parameter path in this module
// renders templates, in Strict mode or otherwise. Every other call site is
// Lenient.
type Mode int

const (
	Lenient Mode = iota
	Strict
)

var templateExpr = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Renderer evaluates `{{ ... }}` expressions against a typed Value context.
type Renderer struct {
	cel *celEngine
}

func New() *Renderer {
	return &Renderer{cel: newCELEngine()}
}

// RenderString renders a single template string against ctx. A template
// that consists of exactly one `{{ expr }}` with no surrounding text
// returns the rendered value as a typed Value (so numbers/bools/lists
// survive), matching the "type-preserving" requirement of spec.md §4.D.
// Any other template interpolates each match as a string, then applies the
// coercion chain (coerce.go).
func (r *Renderer) RenderString(tmpl string, ctx value.Value, mode Mode) (value.Value, error) {
	matches := templateExpr.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return value.String(tmpl), nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(tmpl) {
		expr := tmpl[matches[0][2]:matches[0][3]]
		return r.evalExpr(expr, ctx, mode, tmpl)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(tmpl[last:m[0]])
		expr := tmpl[m[2]:m[3]]
		v, err := r.evalExpr(expr, ctx, mode, tmpl[m[0]:m[1]])
		if err != nil {
			return value.Null(), err
		}
		sb.WriteString(v.String())
		last = m[1]
	}
	sb.WriteString(tmpl[last:])
	return coerceScalar(sb.String()), nil
}

// evalExpr dispatches a single `{{ }}` body to the bare-path fast path or
// to the full CEL/filter evaluator, and applies the lenient-undefined
// fallback (render to original template text) spec.md §4.D requires.
func (r *Renderer) evalExpr(expr string, ctx value.Value, mode Mode, original string) (value.Value, error) {
	expr = strings.TrimSpace(expr)

	path, filter, hasFilter := splitFilter(expr)

	if v, ok := resolveGlobal(path); ok {
		if hasFilter {
			var err error
			v, err = applyFilter(filter, v)
			if err != nil {
				return r.undefined(mode, original, err)
			}
		}
		return v, nil
	}

	if !hasFilter && isBarePath(path) {
		v, ok := ctx.Get(path)
		if !ok {
			return r.undefined(mode, original, fmt.Errorf("undefined reference: %s", path))
		}
		return v, nil
	}

	v, err := r.cel.eval(path, ctx)
	if err != nil {
		return r.undefined(mode, original, err)
	}
	if hasFilter {
		v, err = applyFilter(filter, v)
		if err != nil {
			return r.undefined(mode, original, err)
		}
	}
	return v, nil
}

func (r *Renderer) undefined(mode Mode, original string, cause error) (value.Value, error) {
	if mode == Strict {
		return value.Null(), fmt.Errorf("render: %w", cause)
	}
	return value.String(original), nil
}

// EvaluateBool renders expr and coerces the result to bool, the helper used
// by the broker/loop engine for `when`/`filter` expressions (always
// lenient per spec.md §4.F/§4.G: "undefined -> include/false"). A non-empty
// expr without `{{ }}` delimiters is evaluated as one expression, so
// `when: "flag"` and `when: "{{ flag }}"` behave alike.
func (r *Renderer) EvaluateBool(expr string, ctx value.Value) (bool, error) {
	if strings.TrimSpace(expr) != "" && !strings.Contains(expr, "{{") {
		expr = "{{ " + expr + " }}"
	}
	v, err := r.RenderString(expr, ctx, Lenient)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

var barePath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// isBarePath reports whether expr is a plain variable path with no
// operators, function calls, or literals — the fast path render.py
// optimizes (SPEC_FULL.md §3.3).
func isBarePath(expr string) bool {
	return barePath.MatchString(expr)
}

// splitFilter splits "path | filter" on the last standalone pipe, skipping
// over `||` (CEL boolean OR): a bare LastIndex(expr, "|") would instead
// split a `when` expression like "a || b" into path="a |" / filter=" b",
// which fails to compile and, in lenient mode, falls back to the literal
// template text — non-empty, so Truthy() is always true regardless of what
// the OR actually evaluates to.
func splitFilter(expr string) (path string, filter string, has bool) {
	for i := len(expr) - 1; i >= 0; i-- {
		if expr[i] != '|' {
			continue
		}
		if i > 0 && expr[i-1] == '|' {
			i--
			continue
		}
		if i+1 < len(expr) && expr[i+1] == '|' {
			continue
		}
		return strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+1:]), true
	}
	return expr, "", false
}

// RenderValue recursively renders every string leaf of a Value tree,
// preserving structure (dicts/lists traversed, scalars coerced) per
// spec.md §4.D "Rendering over nested structures is recursive and
// type-preserving".
func (r *Renderer) RenderValue(v value.Value, ctx value.Value, mode Mode) (value.Value, error) {
	switch v.Kind() {
	case value.KindString:
		return r.RenderString(v.String(), ctx, mode)
	case value.KindList:
		list, _ := v.List()
		out := make([]value.Value, len(list))
		for i, e := range list {
			rendered, err := r.RenderValue(e, ctx, mode)
			if err != nil {
				return value.Null(), err
			}
			out[i] = rendered
		}
		return value.List(out...), nil
	case value.KindMap:
		m, _ := v.Map()
		out := make(map[string]value.Value, len(m))
		for k, e := range m {
			rendered, err := r.RenderValue(e, ctx, mode)
			if err != nil {
				return value.Null(), err
			}
			out[k] = rendered
		}
		return value.Map(out), nil
	default:
		return v, nil
	}
}
