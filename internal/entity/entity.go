// Package entity holds the dynamic record representation shared by the
// whole engine: one remote record is a nested map mirroring the API's JSON,
// addressed through dotted field paths with optional-chaining semantics.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Entity is one record of a remote type as returned by the admin API,
// including to-one association sub-objects and to-many association arrays.
// Values are the usual dynamic JSON set: nil, bool, int64/float64, string,
// []any and map[string]any.
type Entity = map[string]any

// ErrPathMiss is returned by GetPath when a strict (non null-safe) segment
// addresses a key that does not exist, or descends into a non-object.
var ErrPathMiss = errors.New("entity path miss")

// GetPath walks a dotted path like "manufacturer.name" through the entity
// tree and returns the addressed value.
//
// A segment suffixed with '?' ("manufacturer?.name") is null-safe: if the
// value at that segment is absent or null, the whole path evaluates to nil
// without error. A strict segment on an absent key fails with ErrPathMiss.
// Reaching an explicit null mid-path also yields nil; the record simply has
// no data below that point. Array indexing is not supported, traversal of
// arrays belongs to scripts.
func GetPath(root Entity, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathMiss)
	}

	var current any = root
	for _, seg := range strings.Split(path, ".") {
		nullSafe := strings.HasSuffix(seg, "?")
		key := strings.TrimSuffix(seg, "?")

		obj, ok := current.(map[string]any)
		if !ok {
			if current == nil {
				// a previous hop already resolved to null
				return nil, nil
			}
			return nil, fmt.Errorf("%w: segment %q is not an object", ErrPathMiss, key)
		}

		val, exists := obj[key]
		if !exists {
			if nullSafe {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: no field %q in path %q", ErrPathMiss, key, path)
		}
		current = val
	}

	return current, nil
}

// SetPath assigns value at the dotted path, creating intermediate objects
// as needed. Null-safe marks on segments are ignored on write. An existing
// leaf at the path is overwritten; an existing non-object intermediate is
// replaced by an object so deeper writes always succeed.
//
// A nil value is dropped without touching the tree: injection must never
// materialize objects that contain only nulls.
func SetPath(root Entity, path string, value any) {
	if path == "" || value == nil {
		return
	}

	segments := strings.Split(path, ".")
	current := root
	for i, seg := range segments {
		key := strings.TrimSuffix(seg, "?")
		if i == len(segments)-1 {
			current[key] = value
			return
		}

		child, ok := current[key].(map[string]any)
		if !ok {
			child = make(map[string]any, 1)
			current[key] = child
		}
		current = child
	}
}

// DeepCopy returns a structurally independent copy of the entity. Scripts
// get a copy so a transform can never mutate the data the engine's
// projection or injection step reads afterwards.
func DeepCopy(root Entity) Entity {
	out := make(Entity, len(root))
	for k, v := range root {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopy(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
