package render

import (
	"testing"
	"time"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() value.Value {
	return value.Map(map[string]value.Value{
		"count":   value.Int(3),
		"name":    value.String("alice"),
		"results": value.Map(map[string]value.Value{"A": value.Int(6)}),
	})
}

func TestRenderStringFastPathPreservesType(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ count }}", testCtx(), Lenient)
	require.NoError(t, err)
	i, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(3), i)
}

func TestRenderStringFastPathNestedPath(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ results.A }}", testCtx(), Lenient)
	require.NoError(t, err)
	i, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(6), i)
}

func TestRenderStringCELExpression(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ count > 2 }}", testCtx(), Lenient)
	require.NoError(t, err)
	b, ok := v.Bool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestRenderStringInterpolatesMultipleAndCoerces(t *testing.T) {
	r := New()
	v, err := r.RenderString("hello {{ name }}, count is {{ count }}", testCtx(), Lenient)
	require.NoError(t, err)
	assert.Equal(t, "hello alice, count is 3", v.String())
}

func TestRenderStringLenientUndefinedFallsBackToOriginal(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ missing.field }}", testCtx(), Lenient)
	require.NoError(t, err)
	assert.Equal(t, "{{ missing.field }}", v.String())
}

func TestRenderStringStrictUndefinedErrors(t *testing.T) {
	r := New()
	_, err := r.RenderString("{{ missing.field }}", testCtx(), Strict)
	assert.Error(t, err)
}

func TestRenderStringToJSONFilter(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ results | to_json }}", testCtx(), Lenient)
	require.NoError(t, err)
	assert.Equal(t, `{"A":6}`, v.String())
}

func TestRenderStringB64EncodeFilter(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ name | b64encode }}", testCtx(), Lenient)
	require.NoError(t, err)
	assert.Equal(t, "YWxpY2U=", v.String())
}

func TestRenderValueRecursesThroughMapsAndLists(t *testing.T) {
	r := New()
	tree := value.Map(map[string]value.Value{
		"greeting": value.String("hi {{ name }}"),
		"items":    value.List(value.String("{{ count }}"), value.String("static")),
	})
	out, err := r.RenderValue(tree, testCtx(), Lenient)
	require.NoError(t, err)

	g, ok := out.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi alice", g.String())

	items, ok := out.Get("items")
	require.True(t, ok)
	list, _ := items.List()
	n, _ := list[0].Int()
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "static", list[1].String())
}

func TestEvaluateBoolCoercesTruthy(t *testing.T) {
	r := New()
	ok, err := r.EvaluateBool("count", testCtx())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateBoolHandlesBooleanOr(t *testing.T) {
	r := New()
	ok, err := r.EvaluateBool("count == 0 || name == \"alice\"", testCtx())
	require.NoError(t, err)
	assert.True(t, ok, "boolean OR must not be mis-split by splitFilter's trailing-pipe heuristic")
}

func TestSplitFilterSkipsBooleanOr(t *testing.T) {
	path, filter, has := splitFilter(`count == 0 || name == "alice"`)
	assert.Equal(t, `count == 0 || name == "alice"`, path)
	assert.Empty(t, filter)
	assert.False(t, has)
}

func TestSplitFilterStillFindsTrailingFilter(t *testing.T) {
	path, filter, has := splitFilter("items | to_json")
	assert.True(t, has)
	assert.Equal(t, "items", path)
	assert.Equal(t, "to_json", filter)
}

func TestNowGlobalReturnsRFC3339(t *testing.T) {
	r := New()
	v, err := r.RenderString("{{ now }}", testCtx(), Strict)
	require.NoError(t, err)
	assert.NotEmpty(t, v.String())
	_, perr := time.Parse(time.RFC3339, v.String())
	assert.NoError(t, perr)
}
