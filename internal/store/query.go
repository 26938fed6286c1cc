package store

import (
	"sort"
	"strings"
)

// Query selects and orders the children of a node. With OrderByChild empty the
// children are ordered by key and the bounds compare against keys. Children
// missing the ordered field are dropped once any bound is set.
type Query struct {
	OrderByChild string
	StartAt      any
	EndAt        any
	EqualTo      any
	LimitToFirst int
	LimitToLast  int
}

func (q Query) bounded() bool {
	return q.StartAt != nil || q.EndAt != nil || q.EqualTo != nil
}

// runQuery applies q to the value stored at the queried node.
func runQuery(node any, q Query) []Child {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	type entry struct {
		Child
		sortKey any
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		var sortKey any = k
		if q.OrderByChild != "" {
			sortKey = childField(v, q.OrderByChild)
		}
		if q.bounded() {
			if sortKey == nil {
				continue
			}
			if q.EqualTo != nil && compareValues(sortKey, q.EqualTo) != 0 {
				continue
			}
			if q.StartAt != nil && compareValues(sortKey, q.StartAt) < 0 {
				continue
			}
			if q.EndAt != nil && compareValues(sortKey, q.EndAt) > 0 {
				continue
			}
		}
		entries = append(entries, entry{Child: Child{Key: k, Value: deepCopy(v)}, sortKey: sortKey})
	}

	sort.Slice(entries, func(i, j int) bool {
		if c := compareValues(entries[i].sortKey, entries[j].sortKey); c != 0 {
			return c < 0
		}
		return entries[i].Key < entries[j].Key
	})

	if q.LimitToFirst > 0 && len(entries) > q.LimitToFirst {
		entries = entries[:q.LimitToFirst]
	}
	if q.LimitToLast > 0 && len(entries) > q.LimitToLast {
		entries = entries[len(entries)-q.LimitToLast:]
	}

	out := make([]Child, len(entries))
	for i, e := range entries {
		out[i] = e.Child
	}
	return out
}

// childField reads a slash-separated path inside v.
func childField(v any, path string) any {
	cur := v
	for _, seg := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// typeRank orders mixed values: nil, false, true, numbers, strings, objects.
func typeRank(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 2
		}
		return 1
	case float64, int, int64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 3:
		fa, fb := asFloat(a), asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 4:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}
