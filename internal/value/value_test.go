package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNativeRoundTrip(t *testing.T) {
	native := map[string]interface{}{
		"n":     float64(3),
		"items": []interface{}{"a", "b"},
		"nested": map[string]interface{}{
			"flag": true,
		},
	}

	v := FromNative(native)
	require.Equal(t, KindMap, v.Kind())

	n, ok := v.Get("n")
	require.True(t, ok)
	f, ok := n.Float()
	require.True(t, ok)
	assert.Equal(t, float64(3), f)

	item, ok := v.Get("items.1")
	require.True(t, ok)
	assert.Equal(t, "b", item.String())

	flag, ok := v.Get("nested.flag")
	require.True(t, ok)
	b, ok := flag.Bool()
	require.True(t, ok)
	assert.True(t, b)

	_, ok = v.Get("missing.path")
	assert.False(t, ok)
}

func TestMergePrefersExisting(t *testing.T) {
	base := Map(map[string]Value{"a": Int(1)})
	other := Map(map[string]Value{"a": Int(2), "b": Int(3)})

	merged := Merge(base, other, true)
	a, _ := merged.Get("a")
	av, _ := a.Int()
	assert.Equal(t, int64(1), av)

	b, _ := merged.Get("b")
	bv, _ := b.Int()
	assert.Equal(t, int64(3), bv)
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := Map(map[string]Value{"a": Int(1)})
	extended := base.With("b", Int(2))

	_, ok := base.Get("b")
	assert.False(t, ok)

	bv, ok := extended.Get("b")
	require.True(t, ok)
	i, _ := bv.Int()
	assert.Equal(t, int64(2), i)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Null().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(1).Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, String("x").Truthy())
	assert.False(t, List().Truthy())
	assert.True(t, List(Int(1)).Truthy())
}
