package configtree

import (
	"encoding/json"
	"strconv"
	"strings"
)

// cloneMap returns a deep copy of a nested map[string]any tree so callers
// can't mutate a Tree's internals through a returned reference.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// mergeInto merges src over dst in place, recursing into nested maps so a
// deeper layer only overrides the specific keys it sets rather than
// replacing whole subtrees (spec §4.9 layering).
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			existing, _ := dst[k].(map[string]any)
			if existing == nil {
				existing = make(map[string]any)
			}
			mergeInto(existing, sub)
			dst[k] = existing
			continue
		}
		dst[k] = cloneValue(v)
	}
}

// lookup resolves a dotted path against a nested map tree.
func lookup(tree map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := any(tree)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes value at a dotted path into tree, creating intermediate
// maps as needed.
func setPath(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := tree
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
}

// flatten turns a nested map tree into a dotted-path -> leaf-value map.
func flatten(tree map[string]any, prefix string) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(sub, path) {
				out[sk] = sv
			}
			continue
		}
		out[path] = v
	}
	return out
}

// unflatten is the inverse of flatten: it turns a dotted-path -> leaf-value
// map back into a nested map[string]any tree.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for path, v := range flat {
		setPath(out, path, v)
	}
	return out
}

// diffPaths returns the dotted paths whose effective value changed between
// before and after, the payload of the single set_all change event (spec
// §4.9).
func diffPaths(before, after map[string]any) map[string]any {
	flatBefore := flatten(before, "")
	flatAfter := flatten(after, "")

	changed := make(map[string]any)
	for path, v := range flatAfter {
		old, existed := flatBefore[path]
		if !existed || !equalLeaf(old, v) {
			changed[path] = v
		}
	}
	for path := range flatBefore {
		if _, ok := flatAfter[path]; !ok {
			changed[path] = nil
		}
	}
	return changed
}

func equalLeaf(a, b any) bool {
	// Values arrive from JSON/viper decoding, so numeric types may differ
	// (int vs float64) even when logically equal; compare via string form
	// to keep set_all(get_all()) a true no-op (spec §8).
	return toComparable(a) == toComparable(b)
}

func toComparable(v any) string {
	switch vv := v.(type) {
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	default:
		b, _ := json.Marshal(vv)
		return string(b)
	}
}

// marshalTOMLCompatible serializes the merged tree for persistence. JSON is
// used rather than viper's native write path since the persisted-overrides
// file only ever needs to be read back by this package, and JSON keeps the
// round trip exact for the idempotence requirement in spec §8.
func marshalTOMLCompatible(m map[string]any) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
