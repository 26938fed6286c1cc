package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Persistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "state.json")

	s1 := NewMemoryWithOptions(Options{StateFile: stateFile})
	require.NoError(t, s1.Set(ctx, "account/u1/profile", map[string]any{"email": "a@example.com", "account_type": "free"}))

	info, err := os.Stat(stateFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s2 := NewMemoryWithOptions(Options{StateFile: stateFile})
	v, err := s2.Get(ctx, "account/u1/profile/email")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", v)

	other, err := s2.Get(ctx, "account/u2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemory_Persistence_PersistsUpdates(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "nested", "state.json")

	s1 := NewMemoryWithOptions(Options{StateFile: stateFile})
	require.NoError(t, s1.Set(ctx, "limits/photos/count", 1))
	_, err := s1.Transaction(ctx, "limits/photos/count", func(cur any) (any, error) {
		return cur.(float64) + 1, nil
	})
	require.NoError(t, err)
	require.NoError(t, s1.Delete(ctx, "limits/photos/count"))
	require.NoError(t, s1.Set(ctx, "limits/videos/count", 4))

	s2 := NewMemoryWithOptions(Options{StateFile: stateFile})
	photos, err := s2.Get(ctx, "limits/photos")
	require.NoError(t, err)
	assert.Nil(t, photos)
	videos, err := s2.Get(ctx, "limits/videos/count")
	require.NoError(t, err)
	assert.Equal(t, float64(4), videos)
}

func TestMemory_Persistence_IgnoresCorruptFile(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0o600))

	s := NewMemoryWithOptions(Options{StateFile: stateFile})
	v, err := s.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, v)
}
