package testpipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/server"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startServer runs a server with persistence disabled on an ephemeral port
func startServer(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.Persistence.AOF.Enabled = false
	cfg.Persistence.RDB.Enabled = false

	db, err := storage.NewShardedMapStorage(cfg.Storage.Shards)
	require.NoError(t, err)

	engine, err := server.NewEngine(db, cfg, zap.NewNop())
	require.NoError(t, err)

	srv := server.NewServer(engine, config.ServerConfig{Host: "127.0.0.1", Port: "0"}, zap.NewNop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx) //nolint:errcheck
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		engine.Shutdown()
	})

	return srv.Addr().String()
}

func newClient(t *testing.T, addr string) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPipelining(t *testing.T) {
	rdb := newClient(t, startServer(t))

	ctx := context.Background()

	count := 10_000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		val := fmt.Sprintf("val_%d", i)
		pipe.Set(ctx, key, val, 0)
	}

	getResults := make([]*redis.StringCmd, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		getResults[i] = pipe.Get(ctx, key)
	}

	start := time.Now()
	_, err := pipe.Exec(ctx)
	elapsed := time.Since(start)

	assert.NoError(t, err, "Pipeline execution failed")
	t.Logf("Pipeline executed in %v", elapsed)

	for i := 0; i < count; i++ {
		expected := fmt.Sprintf("val_%d", i)
		val, err := getResults[i].Result()

		assert.NoError(t, err)
		assert.Equal(t, expected, val, "Key %d mismatch", i)
	}

	size, err := rdb.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(count), size)
}

func TestClientCommands(t *testing.T) {
	rdb := newClient(t, startServer(t))
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "session", "abc", time.Minute).Err())
	ttl, err := rdb.TTL(ctx, "session").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

	_, err = rdb.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)

	n, err := rdb.Incr(ctx, "hits").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, rdb.RPush(ctx, "queue", "a", "b", "c").Err())
	items, err := rdb.LRange(ctx, "queue", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)

	require.NoError(t, rdb.HSet(ctx, "user:1", "name", "ann", "age", "30").Err())
	fields, err := rdb.HGetAll(ctx, "user:1").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "ann", "age": "30"}, fields)

	added, err := rdb.SAdd(ctx, "tags", "go", "kv", "go").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	err = rdb.LPush(ctx, "session", "x").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")

	keys, err := rdb.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session", "hits", "queue", "user:1", "tags"}, keys)

	info, err := rdb.Info(ctx, "keyspace").Result()
	require.NoError(t, err)
	assert.Contains(t, info, "db0:keys=5")
}
