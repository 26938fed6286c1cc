// Package store is the hierarchical keyed datastore every component reads and
// writes through. Values are JSON-shaped: maps, strings, float64 numbers, bools
// and slices. A map with no children does not exist.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrTxAborted   = errors.New("transaction aborted after too many conflicts")
	ErrInvalidPath = errors.New("invalid path")
)

// Change describes one committed write. Before and After are the full values
// at Path on each side of the write; nil means absent.
type Change struct {
	Path   string
	Before any
	After  any
}

// TxFunc receives the current value (nil when absent) and returns the value to
// commit. Returning an error aborts without writing. It may run more than once
// and must not call back into the store.
type TxFunc func(current any) (any, error)

// Child is one entry of a Query result.
type Child struct {
	Key   string
	Value any
}

type Store interface {
	Get(ctx context.Context, path string) (any, error)
	Keys(ctx context.Context, path string) ([]string, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, values map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
	Transaction(ctx context.Context, path string, fn TxFunc) (any, error)
	Query(ctx context.Context, path string, q Query) ([]Child, error)
	Watch(fn func(Change)) (cancel func())
	Close() error
}

// Join builds a path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the segments of a cleaned path. The root path has none.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func cleanPath(path string) (string, error) {
	segs := Split(path)
	for _, seg := range segs {
		if seg == "" || strings.ContainsAny(seg, ".#$[]") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segs, "/"), nil
}

func cleanWritePath(path string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}
	return p, nil
}

// cleanUpdate validates every key of a multi-path update. Overlapping paths
// are rejected since their order would be ambiguous.
func cleanUpdate(values map[string]any) (map[string]any, []string, error) {
	out := make(map[string]any, len(values))
	paths := make([]string, 0, len(values))
	for raw, v := range values {
		p, err := cleanWritePath(raw)
		if err != nil {
			return nil, nil, err
		}
		nv, err := Normalize(v)
		if err != nil {
			return nil, nil, fmt.Errorf("normalize %s: %w", p, err)
		}
		out[p] = nv
		paths = append(paths, p)
	}
	sortStrings(paths)
	for i := 1; i < len(paths); i++ {
		if isUnder(paths[i], paths[i-1]) {
			return nil, nil, fmt.Errorf("%w: overlapping update paths %q and %q", ErrInvalidPath, paths[i-1], paths[i])
		}
	}
	return out, paths, nil
}

// isUnder reports whether path equals parent or lies beneath it.
func isUnder(path, parent string) bool {
	if parent == "" || path == parent {
		return true
	}
	return strings.HasPrefix(path, parent+"/")
}

// NewPushKey returns a time-ordered child key.
func NewPushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Normalize converts v to its JSON-shaped form and prunes empty maps. Structs
// go through their json tags.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

// Decode converts a JSON-shaped value into dst.
func Decode(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// watcherSet holds change subscribers in registration order.
type watcherSet struct {
	mu     sync.RWMutex
	fns    map[int]func(Change)
	nextID int
}

func (w *watcherSet) add(fn func(Change)) func() {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

// emit runs every watcher for each change. Callers hold no store lock.
func (w *watcherSet) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	w.mu.RLock()
	ids := make([]int, 0, len(w.fns))
	for id := range w.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, w.fns[id])
	}
	w.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}
