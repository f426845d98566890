// Package delta implements the structural diff/patch codec used to compute,
// serialize, apply, invert, and compose per-document deltas between states
// of an arbitrary BSON document.
//
// Documents are represented with the canonical tagged value model described
// by the engine's design notes: null, bool, int64, float64, string, byte
// slices, arrays, maps keyed by string, ObjectIDs, and timestamps. Rather
// than wrap every value in an explicit sum-type struct, this package keeps
// values as plain `any` holding one of those concrete Go types — the same
// representation `bson.Marshal`/`bson.Unmarshal` already produce — and
// exposes Kind/KindOf to classify a value when code needs to branch on it.
package delta

import (
	"bytes"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind classifies a canonical value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindMap
	KindObjectID
	KindTimestamp
	KindUnknown
)

// Document is a top-level BSON document, always map-shaped.
type Document = map[string]any

// KindOf classifies a canonical value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int, int32, int64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string:
		return KindString
	case []byte, primitive.Binary:
		return KindBytes
	case []any, primitive.A:
		return KindArray
	case map[string]any, primitive.M, primitive.D:
		return KindMap
	case primitive.ObjectID:
		return KindObjectID
	case primitive.DateTime, primitive.Timestamp:
		return KindTimestamp
	default:
		return KindUnknown
	}
}

// asMap normalizes any of the map-shaped BSON representations to map[string]any.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case primitive.M:
		return map[string]any(m), true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

// asArray normalizes any of the array-shaped BSON representations to []any.
func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case primitive.A:
		return []any(a), true
	default:
		return nil, false
	}
}

// Equal reports whether two canonical values are structurally identical.
func Equal(a, b any) bool {
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if aa, ok := asArray(a); ok {
		ba, ok := asArray(b)
		if !ok || len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(normalizeScalar(a), normalizeScalar(b))
}

// normalizeScalar collapses the numeric zoo (int32/int64/float32/float64)
// down to a couple of comparable forms so diffing doesn't report a change
// for a field that round-tripped through a different numeric BSON type.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

// Clone deep-copies a canonical value.
func Clone(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, mv := range m {
			out[k] = Clone(mv)
		}
		return out
	}
	if a, ok := asArray(v); ok {
		out := make([]any, len(a))
		for i, av := range a {
			out[i] = Clone(av)
		}
		return out
	}
	if b, ok := v.([]byte); ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return v
}
