package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRedisRetries = 50

// Redis stores the tree in one hash with a field per leaf path. Writes run
// under WATCH/MULTI on that hash, so every mutation is atomic across paths.
// Watchers only see writes made through this process.
type Redis struct {
	client     *redis.Client
	key        string
	maxRetries int
	logger     zerolog.Logger
	watchers   watcherSet
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   *zerolog.Logger
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisFromClient(client, opts.Prefix, opts.Logger), nil
}

func NewRedisFromClient(client *redis.Client, prefix string, logger *zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = "famtool"
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "store.redis").Logger()
	}
	return &Redis{
		client:     client,
		key:        prefix + ":tree",
		maxRetries: defaultRedisRetries,
		logger:     l,
	}
}

type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// readLeaves returns the raw leaf fields at or below path.
func (r *Redis) readLeaves(ctx context.Context, c hashReader, path string) (map[string]string, error) {
	leaves := make(map[string]string)
	match := "*"
	if path != "" {
		raw, err := c.HGet(ctx, r.key, path).Result()
		switch {
		case err == nil:
			leaves[path] = raw
			return leaves, nil
		case !errors.Is(err, redis.Nil):
			return nil, err
		}
		match = globEscaper.Replace(path) + "/*"
	}

	var cursor uint64
	for {
		kv, next, err := c.HScan(ctx, r.key, cursor, match, 512).Result()
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(kv); i += 2 {
			leaves[kv[i]] = kv[i+1]
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return leaves, nil
}

// inflate rebuilds the value at path from its leaf fields.
func inflate(path string, leaves map[string]string) (any, error) {
	if raw, ok := leaves[path]; ok && path != "" {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode leaf %s: %w", path, err)
		}
		return v, nil
	}
	if len(leaves) == 0 {
		return nil, nil
	}
	tree := make(map[string]any)
	for field, raw := range leaves {
		rel := field
		if path != "" {
			rel = strings.TrimPrefix(field, path+"/")
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode leaf %s: %w", field, err)
		}
		setAt(tree, Split(rel), v)
	}
	return prune(tree), nil
}

func flatten(prefix string, v any, out map[string]any) error {
	if m, ok := v.(map[string]any); ok {
		for k, child := range m {
			if err := flatten(Join(prefix, k), child, out); err != nil {
				return err
			}
		}
		return nil
	}
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	out[prefix] = string(data)
	return nil
}

func ancestors(path string) []string {
	segs := Split(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

func (r *Redis) Get(ctx context.Context, path string) (any, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	leaves, err := r.readLeaves(ctx, r.client, p)
	if err != nil {
		return nil, err
	}
	return inflate(p, leaves)
}

func (r *Redis) Keys(ctx context.Context, path string) ([]string, error) {
	v, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return childKeys(v), nil
}

func (r *Redis) Query(ctx context.Context, path string, q Query) ([]Child, error) {
	v, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return runQuery(v, q), nil
}

func (r *Redis) Set(ctx context.Context, path string, value any) error {
	return r.Update(ctx, map[string]any{path: value})
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	return r.Update(ctx, map[string]any{path: nil})
}

func (r *Redis) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewPushKey()
	if err := r.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Redis) Update(ctx context.Context, values map[string]any) error {
	normalized, paths, err := cleanUpdate(values)
	if err != nil {
		return err
	}
	_, err = r.mutate(ctx, paths, func(map[string]any) (map[string]any, error) {
		return normalized, nil
	})
	return err
}

func (r *Redis) Transaction(ctx context.Context, path string, fn TxFunc) (any, error) {
	p, err := cleanWritePath(path)
	if err != nil {
		return nil, err
	}
	afters, err := r.mutate(ctx, []string{p}, func(before map[string]any) (map[string]any, error) {
		next, err := fn(deepCopy(before[p]))
		if err != nil {
			return nil, err
		}
		nv, err := Normalize(next)
		if err != nil {
			return nil, err
		}
		return map[string]any{p: nv}, nil
	})
	if err != nil {
		return nil, err
	}
	return afters[p], nil
}

// mutate reads the current values of paths, asks compute for the new ones and
// commits them atomically, retrying when another writer touched the hash.
func (r *Redis) mutate(ctx context.Context, paths []string, compute func(before map[string]any) (map[string]any, error)) (map[string]any, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		var (
			changes []Change
			afters  map[string]any
		)
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			changes = changes[:0]
			befores := make(map[string]any, len(paths))
			var del []string
			for _, p := range paths {
				leaves, err := r.readLeaves(ctx, tx, p)
				if err != nil {
					return err
				}
				v, err := inflate(p, leaves)
				if err != nil {
					return err
				}
				befores[p] = v
				for field := range leaves {
					del = append(del, field)
				}
			}

			var err error
			afters, err = compute(befores)
			if err != nil {
				return err
			}

			set := make(map[string]any)
			for _, p := range paths {
				after := afters[p]
				if after != nil {
					anc := ancestors(p)
					if len(anc) > 0 {
						found, err := tx.HMGet(ctx, r.key, anc...).Result()
						if err != nil {
							return err
						}
						for i, v := range found {
							if v != nil {
								del = append(del, anc[i])
							}
						}
					}
					if err := flatten(p, after, set); err != nil {
						return err
					}
				}
				if !valuesEqual(befores[p], after) {
					changes = append(changes, Change{Path: p, Before: befores[p], After: deepCopy(after)})
				}
			}
			if len(changes) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(del) > 0 {
					sort.Strings(del)
					pipe.HDel(ctx, r.key, del...)
				}
				if len(set) > 0 {
					pipe.HSet(ctx, r.key, set)
				}
				return nil
			})
			return err
		}, r.key)

		if err == nil {
			r.watchers.emit(changes)
			return afters, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug().Int("attempt", attempt+1).Msg("optimistic write conflict")
			continue
		}
		return nil, err
	}
	return nil, ErrTxAborted
}

func (r *Redis) Watch(fn func(Change)) func() {
	return r.watchers.add(fn)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
