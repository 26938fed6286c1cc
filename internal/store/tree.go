package store

import (
	"reflect"
	"sort"
)

func sortStrings(s []string) { sort.Strings(s) }

// prune drops empty maps recursively; an empty result becomes nil.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if pc := prune(child); pc == nil {
			delete(m, k)
		} else {
			m[k] = pc
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// getAt walks segs from root without copying.
func getAt(root map[string]any, segs []string) any {
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// setAt writes v (already normalized) at segs. Writing nil removes the node and
// any ancestors left empty. Leaf ancestors are replaced by maps.
func setAt(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	if v == nil {
		removeAt(root, segs)
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func removeAt(m map[string]any, segs []string) {
	if len(segs) == 1 {
		delete(m, segs[0])
		return
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return
	}
	removeAt(child, segs[1:])
	if len(child) == 0 {
		delete(m, segs[0])
	}
}

func childKeys(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
