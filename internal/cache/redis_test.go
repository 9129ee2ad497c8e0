package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestSetGetJSON(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, client.SetJSON(ctx, "key", payload{Name: "a", Count: 3}, time.Minute))

	var got payload
	found, err := client.GetJSON(ctx, "key", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Name: "a", Count: 3}, got)

	// TTL applied.
	assert.Greater(t, mr.TTL("key"), time.Duration(0))

	// Missing key reports absent, not an error.
	found, err = client.GetJSON(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndexOperations(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.IndexAdd(ctx, "idx", "a", 1))
	require.NoError(t, client.IndexAdd(ctx, "idx", "b", 2))
	require.NoError(t, client.IndexAdd(ctx, "idx", "c", 3))

	n, err := client.IndexLen(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	oldest, err := client.IndexOldest(ctx, "idx", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, oldest)

	newest, err := client.IndexNewest(ctx, "idx", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, newest)

	require.NoError(t, client.IndexRemove(ctx, "idx", "a", "b"))
	n, err = client.IndexLen(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScanKeys(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetJSON(ctx, "wm:index:a", 1, 0))
	require.NoError(t, client.SetJSON(ctx, "wm:index:b", 1, 0))
	require.NoError(t, client.SetJSON(ctx, "other", 1, 0))

	keys, err := client.ScanKeys(ctx, "wm:index:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wm:index:a", "wm:index:b"}, keys)
}
