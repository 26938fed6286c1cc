package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedis_Behavior(t *testing.T) {
	addr := os.Getenv("FAMTOOL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FAMTOOL_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "famtool-test-" + uuid.NewString()
	s, err := NewRedis(ctx, RedisOptions{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Del(context.Background(), s.key).Err()
		_ = s.Close()
	})

	exerciseStore(t, s)
}

func TestInflateFlatten(t *testing.T) {
	tree := map[string]any{
		"profile": map[string]any{
			"email":  "a@example.com",
			"limits": map[string]any{"photos": map[string]any{"count": float64(1)}},
		},
		"tags": []any{"x", "y"},
	}

	flat := make(map[string]any)
	require.NoError(t, flatten("account/u1", tree, flat))
	require.Equal(t, `"a@example.com"`, flat["account/u1/profile/email"])
	require.Equal(t, `["x","y"]`, flat["account/u1/tags"])

	leaves := make(map[string]string, len(flat))
	for k, v := range flat {
		leaves[k] = v.(string)
	}
	got, err := inflate("account/u1", leaves)
	require.NoError(t, err)
	require.Equal(t, tree, got)

	leaf, err := inflate("account/u1/profile/email", map[string]string{"account/u1/profile/email": `"a@example.com"`})
	require.NoError(t, err)
	require.Equal(t, "a@example.com", leaf)
}

func TestGlobEscaper(t *testing.T) {
	require.Equal(t, `a\*b\?c\[d\]`, globEscaper.Replace("a*b?c[d]"))
}
