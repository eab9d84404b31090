package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}

	keyA, err := DeriveKey(a)
	require.NoError(t, err)
	keyB, err := DeriveKey(b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestDeriveKey_NestedMapOrder(t *testing.T) {
	a := map[string]any{
		"region": map[string]any{"lon": 10.18, "lat": 36.8},
		"scale":  30,
	}
	b := map[string]any{
		"scale":  30,
		"region": map[string]any{"lat": 36.8, "lon": 10.18},
	}

	keyA, err := DeriveKey(a)
	require.NoError(t, err)
	keyB, err := DeriveKey(b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestDeriveKey_SequenceOfMappings(t *testing.T) {
	a := []any{map[string]any{"b": 2, "a": 1}}
	b := []any{map[string]any{"a": 1, "b": 2}}
	c := []any{map[string]any{"a": 1, "b": 2}, map[string]any{"c": 3}}

	keyA, err := DeriveKey(a)
	require.NoError(t, err)
	keyB, err := DeriveKey(b)
	require.NoError(t, err)
	keyC, err := DeriveKey(c)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.NotEqual(t, keyA, keyC)
}

func TestDeriveKey_SequenceOrderMatters(t *testing.T) {
	keyA, err := DeriveKey([]any{1, 2, 3})
	require.NoError(t, err)
	keyB, err := DeriveKey([]any{3, 2, 1})
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

func TestDeriveKey_Sensitivity(t *testing.T) {
	base := map[string]any{
		"analysis_type": "ndvi",
		"collection_id": "COPERNICUS/S2_SR",
		"scale":         30,
		"region":        map[string]any{"lat": 36.8, "lon": 10.18},
	}
	baseKey, err := DeriveKey(base)
	require.NoError(t, err)

	variants := []map[string]any{
		{"analysis_type": "evi", "collection_id": "COPERNICUS/S2_SR", "scale": 30, "region": map[string]any{"lat": 36.8, "lon": 10.18}},
		{"analysis_type": "ndvi", "collection_id": "COPERNICUS/S2_SR", "scale": 10, "region": map[string]any{"lat": 36.8, "lon": 10.18}},
		{"analysis_type": "ndvi", "collection_id": "COPERNICUS/S2_SR", "scale": 30, "region": map[string]any{"lat": 36.9, "lon": 10.18}},
	}

	seen := map[string]bool{baseKey: true}
	for _, v := range variants {
		key, err := DeriveKey(v)
		require.NoError(t, err)
		assert.False(t, seen[key], "leaf change should change the key: %v", v)
		seen[key] = true
	}
}

func TestDeriveKey_StringPassthrough(t *testing.T) {
	// A raw string is hashed verbatim, not JSON-quoted, so a pre-built
	// key component derives the same key as its unquoted form.
	key1, err := DeriveKey("ndvi|sfax|30")
	require.NoError(t, err)
	key2, err := DeriveKey("ndvi|sfax|30")
	require.NoError(t, err)

	assert.Equal(t, key1, key2)
	assert.True(t, strings.HasPrefix(key1, KeyPrefix))

	quoted, err := DeriveKey([]any{"ndvi|sfax|30"})
	require.NoError(t, err)
	assert.NotEqual(t, key1, quoted)
}

func TestDeriveKey_Format(t *testing.T) {
	key, err := DeriveKey(map[string]any{"a": 1})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(key, "cache:"))
	digest := strings.TrimPrefix(key, "cache:")
	assert.Len(t, digest, 64)
	assert.Equal(t, strings.ToLower(digest), digest)
}

func TestDeriveKey_NonSerializable(t *testing.T) {
	_, err := DeriveKey(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, cacheerr.IsType(err, cacheerr.TypeSerialization))
}

func TestDeriveKey_EquivalentStructAndMap(t *testing.T) {
	type params struct {
		Region string `json:"region"`
		Scale  int    `json:"scale"`
	}

	fromStruct, err := DeriveKey(params{Region: "X", Scale: 30})
	require.NoError(t, err)
	fromMap, err := DeriveKey(map[string]any{"scale": 30, "region": "X"})
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
}
