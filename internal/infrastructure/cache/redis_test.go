package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb, zap.NewNop()), mr
}

func TestRedisClient_SetGet(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", map[string]int{"a": 1}, 0))

	var out map[string]int
	require.NoError(t, client.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	_, err := client.GetRaw(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisClient_Update(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	err := client.Update(ctx, "counter", func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	got, err := mr.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	err = client.Update(ctx, "counter", func(current []byte) ([]byte, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("counter"))
}

func TestRedisClient_UpdatePropagatesError(t *testing.T) {
	client, _ := newTestClient(t)
	boom := errors.New("boom")

	err := client.Update(context.Background(), "k", func([]byte) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRedisClient_UpdateConcurrent(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Update(ctx, "list", func(current []byte) ([]byte, error) {
				return append(current, 'x'), nil
			})
		}()
	}
	wg.Wait()

	got, err := mr.Get("list")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}
