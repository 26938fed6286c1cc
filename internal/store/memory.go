package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Memory keeps the whole tree in process, optionally mirrored to a snapshot
// file that is rewritten after every mutation and loaded on start.
type Memory struct {
	mu   sync.RWMutex
	root map[string]any
	rev  int64

	stateFile    string
	persistMu    sync.Mutex
	persistedRev int64
	logger       zerolog.Logger
	watchers     watcherSet
}

type Options struct {
	StateFile string
	Logger    *zerolog.Logger
}

func NewMemory() *Memory {
	return NewMemoryWithOptions(Options{})
}

func NewMemoryWithOptions(opts Options) *Memory {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "store.memory").Logger()
	}
	s := &Memory{
		root:      make(map[string]any),
		stateFile: opts.StateFile,
		logger:    logger,
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			s.logger.Error().Err(err).Str("file", s.stateFile).Msg("snapshot load failed")
		}
	}
	return s
}

type persistedTree struct {
	Version int            `json:"version"`
	Tree    map[string]any `json:"tree"`
	SavedAt int64          `json:"savedAt"`
}

func (s *Memory) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedTree
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported snapshot version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tree, ok := prune(file.Tree).(map[string]any); ok {
		s.root = tree
	}
	return nil
}

// snapshotLocked serializes the tree while the write lock is held.
func (s *Memory) snapshotLocked() ([]byte, int64) {
	if s.stateFile == "" {
		return nil, 0
	}
	file := persistedTree{Version: 1, Tree: s.root, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot marshal failed")
		return nil, 0
	}
	return append(data, '\n'), s.rev
}

func (s *Memory) persist(data []byte, rev int64) {
	if data == nil {
		return
	}
	path := s.stateFile

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// A later revision may already be on disk.
	if rev <= s.persistedRev {
		return
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.logger.Error().Err(err).Str("dir", dir).Msg("snapshot mkdir failed")
		return
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot create temp failed")
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		s.logger.Error().Err(err).Msg("snapshot chmod temp failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		s.logger.Error().Err(err).Msg("snapshot write temp failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		s.logger.Error().Err(err).Msg("snapshot sync temp failed")
		return
	}
	if err := tmp.Close(); err != nil {
		s.logger.Error().Err(err).Msg("snapshot close temp failed")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		s.logger.Error().Err(err).Msg("snapshot rename failed")
		return
	}
	s.persistedRev = rev
}

func (s *Memory) Get(_ context.Context, path string) (any, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(getAt(s.root, Split(p))), nil
}

func (s *Memory) Keys(_ context.Context, path string) ([]string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return childKeys(getAt(s.root, Split(p))), nil
}

func (s *Memory) Query(_ context.Context, path string, q Query) ([]Child, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runQuery(getAt(s.root, Split(p)), q), nil
}

func (s *Memory) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *Memory) Delete(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewPushKey()
	if err := s.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Update applies every path under one lock acquisition.
func (s *Memory) Update(_ context.Context, values map[string]any) error {
	normalized, paths, err := cleanUpdate(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	changes := make([]Change, 0, len(paths))
	for _, p := range paths {
		segs := Split(p)
		before := deepCopy(getAt(s.root, segs))
		after := deepCopy(normalized[p])
		setAt(s.root, segs, after)
		if !valuesEqual(before, after) {
			changes = append(changes, Change{Path: p, Before: before, After: deepCopy(after)})
		}
	}
	var data []byte
	var rev int64
	if len(changes) > 0 {
		s.rev++
		data, rev = s.snapshotLocked()
	}
	s.mu.Unlock()

	s.persist(data, rev)
	s.watchers.emit(changes)
	return nil
}

func (s *Memory) Transaction(_ context.Context, path string, fn TxFunc) (any, error) {
	p, err := cleanWritePath(path)
	if err != nil {
		return nil, err
	}
	segs := Split(p)

	s.mu.Lock()
	before := deepCopy(getAt(s.root, segs))
	next, err := fn(deepCopy(before))
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	after, err := Normalize(next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	setAt(s.root, segs, deepCopy(after))

	var changes []Change
	var data []byte
	var rev int64
	if !valuesEqual(before, after) {
		changes = []Change{{Path: p, Before: before, After: deepCopy(after)}}
		s.rev++
		data, rev = s.snapshotLocked()
	}
	s.mu.Unlock()

	s.persist(data, rev)
	s.watchers.emit(changes)
	return after, nil
}

func (s *Memory) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

func (s *Memory) Close() error { return nil }
