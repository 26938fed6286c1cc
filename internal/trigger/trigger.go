// Package trigger routes committed store changes to handlers registered
// against path patterns such as account/{uid}/profile.
package trigger

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"famtool-server/internal/metrics"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

type Kind int

const (
	Created Kind = iota + 1
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one matched target. Before is unknown (nil) when the write landed
// below the target; After is then re-read from the store.
type Event struct {
	Path   string
	Params map[string]string
	Kind   Kind
	Before any
	After  any
}

func (e Event) Param(name string) string { return e.Params[name] }

type Handler func(ctx context.Context, ev Event) error

type filter int

const (
	onCreate filter = iota
	onUpdate
	onDelete
	onWrite
)

type route struct {
	name     string
	segments []string
	filter   filter
	handler  Handler
}

type Options struct {
	// Async runs each invocation on its own goroutine.
	Async   bool
	Timeout time.Duration
}

type Dispatcher struct {
	st      store.Store
	logger  zerolog.Logger
	async   bool
	timeout time.Duration

	mu     sync.RWMutex
	routes []route

	wg      sync.WaitGroup
	cancel  func()
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(st store.Store, logger zerolog.Logger, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		st:      st,
		logger:  logger.With().Str("component", "trigger").Logger(),
		async:   opts.Async,
		timeout: opts.Timeout,
		baseCtx: ctx,
		stop:    stop,
	}
}

func (d *Dispatcher) OnCreate(name, pattern string, h Handler) { d.add(name, pattern, onCreate, h) }
func (d *Dispatcher) OnUpdate(name, pattern string, h Handler) { d.add(name, pattern, onUpdate, h) }
func (d *Dispatcher) OnDelete(name, pattern string, h Handler) { d.add(name, pattern, onDelete, h) }

// OnWrite fires on create, update and delete, including writes below the
// target.
func (d *Dispatcher) OnWrite(name, pattern string, h Handler) { d.add(name, pattern, onWrite, h) }

func (d *Dispatcher) add(name, pattern string, f filter, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{name: name, segments: store.Split(pattern), filter: f, handler: h})
}

// Start subscribes to the store's change feed.
func (d *Dispatcher) Start() {
	d.cancel = d.st.Watch(d.handleChange)
}

// Stop unsubscribes and waits for in-flight handlers until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		return ctx.Err()
	}
}

// Wait blocks until every in-flight handler returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) handleChange(c store.Change) {
	d.mu.RLock()
	routes := append([]route(nil), d.routes...)
	d.mu.RUnlock()

	changed := store.Split(c.Path)
	for _, r := range routes {
		if len(r.segments) >= len(changed) {
			params, ok := matchPrefix(r.segments, changed)
			if !ok {
				continue
			}
			for _, ev := range expand(r.segments[len(changed):], changed, params, c.Before, c.After) {
				if r.accepts(ev.Kind) {
					d.invoke(r, ev)
				}
			}
			continue
		}

		if r.filter != onWrite {
			continue
		}
		params, ok := matchPrefix(r.segments, changed[:len(r.segments)])
		if !ok {
			continue
		}
		d.invokeReread(r, store.Join(changed[:len(r.segments)]...), params)
	}
}

func (r route) accepts(k Kind) bool {
	switch r.filter {
	case onCreate:
		return k == Created
	case onUpdate:
		return k == Updated
	case onDelete:
		return k == Deleted
	}
	return true
}

// matchPrefix matches the first len(concrete) pattern segments.
func matchPrefix(pattern, concrete []string) (map[string]string, bool) {
	params := make(map[string]string)
	if len(pattern) < len(concrete) {
		return nil, false
	}
	for i, seg := range concrete {
		p := pattern[i]
		if name, ok := paramName(p); ok {
			params[name] = seg
			continue
		}
		if p != seg {
			return nil, false
		}
	}
	return params, true
}

func paramName(seg string) (string, bool) {
	if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

// expand walks the rest of the pattern through both sides of a change and
// returns one event per target whose value changed.
func expand(rest, prefix []string, params map[string]string, before, after any) []Event {
	if len(rest) == 0 {
		kind, ok := kindOf(before, after)
		if !ok {
			return nil
		}
		return []Event{{
			Path:   store.Join(prefix...),
			Params: copyParams(params),
			Kind:   kind,
			Before: before,
			After:  after,
		}}
	}

	seg := rest[0]
	name, isParam := paramName(seg)
	var keys []string
	if isParam {
		keys = unionKeys(before, after)
	} else {
		keys = []string{seg}
	}

	var out []Event
	for _, k := range keys {
		next := copyParams(params)
		if isParam {
			next[name] = k
		}
		out = append(out, expand(rest[1:], append(append([]string(nil), prefix...), k), next, child(before, k), child(after, k))...)
	}
	return out
}

func kindOf(before, after any) (Kind, bool) {
	switch {
	case before == nil && after == nil:
		return 0, false
	case before == nil:
		return Created, true
	case after == nil:
		return Deleted, true
	case reflect.DeepEqual(before, after):
		return 0, false
	}
	return Updated, true
}

func child(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func unionKeys(a, b any) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, v := range []any{a, b} {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for k := range m {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func copyParams(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) invoke(r route, ev Event) {
	d.run(r, func(ctx context.Context) (Event, error) { return ev, nil })
}

func (d *Dispatcher) invokeReread(r route, path string, params map[string]string) {
	d.run(r, func(ctx context.Context) (Event, error) {
		after, err := d.st.Get(ctx, path)
		if err != nil {
			return Event{}, fmt.Errorf("re-read %s: %w", path, err)
		}
		kind := Updated
		if after == nil {
			kind = Deleted
		}
		return Event{Path: path, Params: params, Kind: kind, After: after}, nil
	})
}

func (d *Dispatcher) run(r route, build func(ctx context.Context) (Event, error)) {
	d.wg.Add(1)
	exec := func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
		defer cancel()

		start := time.Now()
		err := d.safeCall(ctx, r, build)
		metrics.TriggerDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
		metrics.TriggerRuns.WithLabelValues(r.name, metrics.Outcome(err)).Inc()
	}
	if d.async {
		go exec()
		return
	}
	exec()
}

func (d *Dispatcher) safeCall(ctx context.Context, r route, build func(ctx context.Context) (Event, error)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
			d.logger.Error().Str("handler", r.name).Interface("panic", p).Msg("trigger handler panicked")
		}
	}()

	ev, err := build(ctx)
	if err != nil {
		d.logger.Error().Err(err).Str("handler", r.name).Msg("trigger event build failed")
		return err
	}
	if err := r.handler(ctx, ev); err != nil {
		d.logger.Error().Err(err).Str("handler", r.name).Str("path", ev.Path).Str("kind", ev.Kind.String()).Msg("trigger handler failed")
		return err
	}
	return nil
}
