package server

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/persistence"
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, cfg *config.Config, shards uint) *Engine {
	t.Helper()

	s, err := storage.NewShardedMapStorage(shards)
	require.NoError(t, err)

	eng, err := NewEngine(s, cfg, zap.NewNop())
	require.NoError(t, err)
	return eng
}

func TestEngine_AOFPropagatesAbsoluteExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.AOF.Enabled = true
	cfg.Persistence.AOF.Filename = filepath.Join(t.TempDir(), "appendonly.aof")
	cfg.Persistence.AOF.Fsync = "always"

	e := newEngine(t, cfg, 4)

	e.Execute("SET", makeCommand("plain", "v"))
	e.Execute("SET", makeCommand("ttl", "v", "EX", "100", "NX"))
	e.Execute("RPUSH", makeCommand("list", "a", "b"))
	e.Execute("SET", makeCommand("other", "v"))
	e.Execute("EXPIRE", makeCommand("other", "50"))
	// a read, a failed write and a SET NX on an existing key are not logged
	e.Execute("GET", makeCommand("plain"))
	e.Execute("SET", makeCommand("bad", "v", "XX", "NX"))
	e.Execute("SET", makeCommand("plain", "w", "NX"))
	e.Shutdown()

	var logged []resp.Command
	n, err := persistence.ReplayFile(cfg.Persistence.AOF.Filename, zap.NewNop(), func(cmd resp.Command) {
		logged = append(logged, cmd)
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)

	names := make([]string, len(logged))
	for i, cmd := range logged {
		names[i] = cmd.Name
	}
	assert.Equal(t, []string{"SET", "SET", "RPUSH", "SET", "PEXPIREAT"}, names)

	ttlCmd := logged[1]
	require.Len(t, ttlCmd.Args, 5)
	assert.Equal(t, "PXAT", string(ttlCmd.Args[2]))
	at, err := strconv.ParseInt(string(ttlCmd.Args[3]), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(100*time.Second).UnixMilli(), at, 5000)
	assert.Equal(t, "NX", string(ttlCmd.Args[4]))

	assert.Equal(t, "other", string(logged[4].Args[0]))
}

func TestEngine_AOFRestore(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.AOF.Enabled = true
	cfg.Persistence.AOF.Filename = filepath.Join(t.TempDir(), "appendonly.aof")
	cfg.Persistence.AOF.Fsync = "everysec"

	e := newEngine(t, cfg, 4)
	e.Execute("SET", makeCommand("k", "v", "PX", "100000"))
	e.Execute("INCRBY", makeCommand("counter", "41"))
	e.Execute("INCR", makeCommand("counter"))
	e.Execute("HSET", makeCommand("h", "f", "v"))
	e.Execute("SADD", makeCommand("s", "a", "b"))
	e.Execute("DEL", makeCommand("s"))
	e.Shutdown()

	restored := newEngine(t, cfg, 2)
	defer restored.Shutdown()

	assert.Equal(t, "v", string(restored.Execute("GET", makeCommand("k")).String))
	pttl := restored.Execute("PTTL", makeCommand("k")).Integer
	assert.True(t, pttl > 90000 && pttl <= 100000, "got %d", pttl)

	assert.Equal(t, "42", string(restored.Execute("GET", makeCommand("counter")).String))
	assert.Equal(t, "v", string(restored.Execute("HGET", makeCommand("h", "f")).String))
	assert.Equal(t, int64(0), restored.Execute("EXISTS", makeCommand("s")).Integer)
	assert.Equal(t, int64(3), restored.Execute("DBSIZE", nil).Integer)
}

func TestEngine_AOFOrderMatchesApplyOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.AOF.Enabled = true
	cfg.Persistence.AOF.Filename = filepath.Join(t.TempDir(), "appendonly.aof")
	cfg.Persistence.AOF.Fsync = "no"

	e := newEngine(t, cfg, 1)

	const (
		writers = 8
		appends = 1000
	)

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			defer wg.Done()
			for i := 0; i < appends; i++ {
				e.Execute("APPEND", makeCommand("k", strconv.Itoa(w*100000+i)+","))
				e.Execute("RPUSH", makeCommand("l", strconv.Itoa(w*100000+i)))
			}
		}()
	}
	wg.Wait()

	live := e.Execute("GET", makeCommand("k")).String
	liveList := bulkStrings(e.Execute("LRANGE", makeCommand("l", "0", "-1")))
	e.Shutdown()

	restored := newEngine(t, cfg, 4)
	defer restored.Shutdown()

	assert.Equal(t, string(live), string(restored.Execute("GET", makeCommand("k")).String))
	assert.Equal(t, liveList, bulkStrings(restored.Execute("LRANGE", makeCommand("l", "0", "-1"))))
}

func TestEngine_RDBSaveAndRestore(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.RDB.Enabled = true
	cfg.Persistence.RDB.Filename = filepath.Join(t.TempDir(), "dump.rdb")
	cfg.Persistence.RDB.Interval = 0

	e := newEngine(t, cfg, 4)
	e.Execute("MSET", makeCommand("a", "1", "b", "2"))
	e.Execute("RPUSH", makeCommand("l", "x", "y"))
	e.Execute("SET", makeCommand("gone", "v", "PX", "1"))

	assert.Equal(t, "OK", string(e.Execute("SAVE", nil).String))

	res := e.Execute("BGSAVE", makeCommand("SCHEDULE"))
	assert.Equal(t, "Background saving started", string(res.String))
	res = e.Execute("BGSAVE", makeCommand("NOW"))
	assert.Equal(t, "ERR syntax error", string(res.String))

	e.Shutdown()

	restored := newEngine(t, cfg, 8)
	defer restored.Shutdown()

	assert.Equal(t, "1", string(restored.Execute("GET", makeCommand("a")).String))
	assert.Equal(t, []string{"x", "y"}, bulkStrings(restored.Execute("LRANGE", makeCommand("l", "0", "-1"))))
	assert.True(t, restored.Execute("GET", makeCommand("gone")).IsNull)
}

func TestEngine_RestoreFailsOnCorruptedSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.RDB.Enabled = true
	cfg.Persistence.RDB.Filename = filepath.Join(t.TempDir(), "dump.rdb")
	require.NoError(t, os.WriteFile(cfg.Persistence.RDB.Filename, []byte("not a snapshot"), 0o644))

	s, err := storage.NewShardedMapStorage(1)
	require.NoError(t, err)

	_, err = NewEngine(s, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestEngine_ActiveExpireCycle(t *testing.T) {
	cfg := testConfig()
	cfg.GC.SamplesPerCheck = 2
	cfg.GC.MaxRounds = 3
	cfg.GC.MatchThreshold = 0.25

	e := newEngine(t, cfg, 1)
	defer e.Shutdown()

	// nothing to expire, a single round
	assert.Equal(t, 1, e.activeExpireCycle())

	for i := 0; i < 50; i++ {
		e.Execute("SET", makeCommand("k"+strconv.Itoa(i), "v", "PX", "1"))
	}
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 3, e.activeExpireCycle(), "rounds are bounded")
	assert.Equal(t, uint64(6), e.Storage().Expired())
}

func TestEngine_ActiveExpireCycleSkewedShards(t *testing.T) {
	cfg := testConfig()
	cfg.GC = config.DefaultGCConfig()
	cfg.GC.Enabled = false

	e := newEngine(t, cfg, 4)
	defer e.Shutdown()

	// all expiring keys hash to shard 0
	for i, n := 0, 0; n < 100; i++ {
		key := "k" + strconv.Itoa(i)
		if xxhash.Sum64String(key)&3 != 0 {
			continue
		}
		e.Execute("SET", makeCommand(key, "v", "PX", "1"))
		n++
	}
	time.Sleep(10 * time.Millisecond)

	// 5 full rounds of 20 plus the round that finds nothing
	assert.Equal(t, 6, e.activeExpireCycle())
	assert.Equal(t, uint64(100), e.Storage().Expired())
}

func TestEngine_GCLoop(t *testing.T) {
	cfg := testConfig()
	cfg.GC = config.DefaultGCConfig()
	cfg.GC.Interval = 5 * time.Millisecond

	e := newEngine(t, cfg, 4)
	defer e.Shutdown()

	for i := 0; i < 100; i++ {
		e.Execute("SET", makeCommand("k"+strconv.Itoa(i), "v", "PX", "20"))
	}
	e.Execute("SET", makeCommand("keep", "v"))

	assert.Eventually(t, func() bool {
		return e.Storage().Expired() == 100
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "v", string(e.Execute("GET", makeCommand("keep")).String))
}

func TestEngine_Metrics(t *testing.T) {
	e := setupEngine(t)

	e.Execute("PING", nil)
	e.Execute("GET", makeCommand("k"))
	e.Execute("GET", nil)
	e.Execute("NOPE", nil)

	assert.Equal(t, int64(4), e.Metrics().TotalCommands(), "unknown commands are processed too")

	var buf bytes.Buffer
	e.Metrics().WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, `moonkv_commands_total{cmd="get"} 2`)
	assert.Contains(t, out, `moonkv_command_errors_total{cmd="get"} 1`)
	assert.Contains(t, out, "moonkv_unknown_commands_total 1")
}
