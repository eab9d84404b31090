// Package cache implements the result cache in front of the remote
// earth-observation compute service: deterministic key derivation, a
// Redis-backed entry store with popularity tracking, and a filesystem
// cache for exported raster artifacts.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// KeyPrefix namespaces every derived key in the store.
const KeyPrefix = "cache:"

// DeriveKey turns any JSON-representable value into a deterministic cache
// key. Mappings are canonicalized by sorting keys at every nesting level,
// so two structurally equal parameter bags produce the same key regardless
// of construction order. Strings pass through verbatim, which lets callers
// hand in pre-built key material. Values that cannot be represented as
// JSON are rejected with a serialization error.
func DeriveKey(value any) (string, error) {
	serialized, err := canonicalSerialize(value)
	if err != nil {
		return "", cacheerr.NewSerializationError("derive_key", "", err)
	}
	sum := sha256.Sum256([]byte(serialized))
	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}

// canonicalSerialize produces the canonical textual form that gets hashed.
// The round-trip through json.Unmarshal normalizes arbitrary Go values
// (structs, typed maps, ints vs floats) into a generic JSON tree before
// the sorted re-encoding.
func canonicalSerialize(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", err
	}

	var sb strings.Builder
	writeCanonical(&sb, tree)
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			sb.Write(encoded)
			sb.WriteByte(':')
			writeCanonical(sb, v[k])
		}
		sb.WriteByte('}')

	case []any:
		sb.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, elem)
		}
		sb.WriteByte(']')

	default:
		// Scalars survived the round-trip, so this cannot fail.
		encoded, _ := json.Marshal(v)
		sb.Write(encoded)
	}
}
