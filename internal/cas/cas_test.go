package cas

import (
	"context"
	"strings"
	"testing"

	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffloadLeavesSmallResultsInline(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	result := value.String("small")
	out, err := Offload(ctx, s, result, 1024)
	require.NoError(t, err)
	assert.Equal(t, result, out)
}

func TestOffloadReplacesLargeResultsWithAPointer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	big := value.String(strings.Repeat("x", 2048))
	out, err := Offload(ctx, s, big, 16)
	require.NoError(t, err)

	m, ok := out.Map()
	require.True(t, ok)
	ref, ok := m[RefKey]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ref.String(), "sha256:"))
}

func TestOffloadIsIdempotentForIdenticalContent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	big := value.String(strings.Repeat("y", 2048))
	out1, err := Offload(ctx, s, big, 16)
	require.NoError(t, err)
	out2, err := Offload(ctx, s, big, 16)
	require.NoError(t, err)

	m1, _ := out1.Map()
	m2, _ := out2.Map()
	assert.Equal(t, m1[RefKey].String(), m2[RefKey].String())
}

func TestResolveRoundTripsThroughOffload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := value.Map(map[string]value.Value{
		"items": value.List(value.Int(1), value.Int(2), value.Int(3)),
	})
	offloaded, err := Offload(ctx, s, original, 4)
	require.NoError(t, err)
	_, wasOffloaded := offloaded.Map()
	require.True(t, wasOffloaded)

	resolved, err := Resolve(ctx, s, offloaded)
	require.NoError(t, err)

	resolvedItems, ok := resolved.Get("items")
	require.True(t, ok)
	list, ok := resolvedItems.List()
	require.True(t, ok)
	assert.Len(t, list, 3)
}

func TestResolvePassesThroughNonReferenceValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v := value.Map(map[string]value.Value{"status": value.String("ok")})
	out, err := Resolve(ctx, s, v)
	require.NoError(t, err)
	assert.Equal(t, v, out)
}

func TestResolveErrorsOnUnknownReference(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ref := value.Map(map[string]value.Value{RefKey: value.String("sha256:deadbeef")})
	_, err := Resolve(ctx, s, ref)
	require.Error(t, err)
}
