package storage

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStorage_Concurrency(t *testing.T) {
	s := NewMapStorage()
	const workers = 50
	const opsPerWorker = 20000

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for j := 0; j < opsPerWorker; j++ {
				key := fmt.Sprintf("key-%d", r.Intn(50))
				val := []byte(fmt.Sprintf("val-%d", j))

				switch r.Intn(5) {
				case 0:
					_, _ = s.Set(key, val, SetOptions{TTL: time.Duration(r.Intn(3)) * time.Millisecond})
				case 1:
					_, _, _ = s.Get(key)
				case 2:
					s.Delete(key)
				case 3:
					s.Expiry(key)
				case 4:
					s.DeleteExpired(10)
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestMapStorage_ConcurrentPushes(t *testing.T) {
	s := NewMapStorage()
	const workers = 8
	const pushes = 1000

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < pushes; j++ {
				_, err := s.LPush("list", []byte("x"))
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()

	n, err := s.LLen("list")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*pushes), n)
}

func TestMapStorage_SetOptions(t *testing.T) {
	s := NewMapStorage()

	res, err := s.Set("k", []byte("v1"), SetOptions{XX: true})
	require.NoError(t, err)
	assert.False(t, res.Written, "XX must not create a key")

	res, err = s.Set("k", []byte("v1"), SetOptions{NX: true})
	require.NoError(t, err)
	assert.True(t, res.Written)

	res, err = s.Set("k", []byte("v2"), SetOptions{NX: true})
	require.NoError(t, err)
	assert.False(t, res.Written, "NX must not overwrite")

	res, err = s.Set("k", []byte("v3"), SetOptions{XX: true, Get: true})
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Equal(t, []byte("v1"), res.Old)

	val, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v3"), val)
}

func TestMapStorage_SetKeepTTL(t *testing.T) {
	s := NewMapStorage()

	_, err := s.Set("k", []byte("v"), SetOptions{TTL: time.Hour})
	require.NoError(t, err)

	_, err = s.Set("k", []byte("v2"), SetOptions{KeepTTL: true})
	require.NoError(t, err)
	_, status := s.Expiry("k")
	assert.Equal(t, ExpActive, status)

	_, err = s.Set("k", []byte("v3"), SetOptions{})
	require.NoError(t, err)
	_, status = s.Expiry("k")
	assert.Equal(t, ExpNoTimeout, status, "plain SET clears the TTL")
}

func TestMapStorage_SetGetWrongType(t *testing.T) {
	s := NewMapStorage()
	_, err := s.RPush("l", []byte("a"))
	require.NoError(t, err)

	_, err = s.Set("l", []byte("v"), SetOptions{Get: true})
	assert.ErrorIs(t, err, ErrWrongType)

	// without GET the list is overwritten
	_, err = s.Set("l", []byte("v"), SetOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeString, s.Type("l"))
}

func TestMapStorage_Copies(t *testing.T) {
	s := NewMapStorage()

	in := []byte("hello")
	_, err := s.Set("k", in, SetOptions{})
	require.NoError(t, err)
	in[0] = 'X'

	out, _, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out[0] = 'Y'
	again, _, _ := s.Get("k")
	assert.Equal(t, "hello", string(again))
}

func TestMapStorage_LazyExpiry(t *testing.T) {
	s := NewMapStorage()

	_, err := s.Set("k", []byte("v"), SetOptions{TTL: 20 * time.Millisecond})
	require.NoError(t, err)

	ttl, status := s.Expiry("k")
	assert.Equal(t, ExpActive, status)
	assert.Greater(t, ttl, time.Duration(0))

	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Exists("k"))

	_, status = s.Expiry("k")
	assert.Equal(t, ExpNotFound, status)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(1), s.Expired())
}

func TestMapStorage_DeleteCountsUnreclaimed(t *testing.T) {
	s := NewMapStorage()

	_, err := s.Set("k", []byte("v"), SetOptions{TTL: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))
}

func TestMapStorage_ExpireAndPersist(t *testing.T) {
	s := NewMapStorage()

	assert.False(t, s.Expire("missing", time.Second))
	assert.Equal(t, int64(0), s.Persist("missing"))

	_, err := s.Set("k", []byte("v"), SetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Persist("k"), "no TTL to remove")

	assert.True(t, s.Expire("k", time.Minute))
	assert.Equal(t, int64(1), s.Persist("k"))
	_, status := s.Expiry("k")
	assert.Equal(t, ExpNoTimeout, status)

	assert.True(t, s.Expire("k", -time.Second))
	assert.False(t, s.Exists("k"), "a non-positive ttl deletes the key")

	_, err = s.Set("k", []byte("v"), SetOptions{})
	require.NoError(t, err)
	assert.True(t, s.ExpireAt("k", time.Now().Add(time.Hour).UnixNano()))
	ttl, status := s.Expiry("k")
	assert.Equal(t, ExpActive, status)
	assert.InDelta(t, float64(time.Hour), float64(ttl), float64(time.Second))
}

func TestMapStorage_DeleteExpired(t *testing.T) {
	s := NewMapStorage()

	assert.Equal(t, 0.0, s.DeleteExpired(20))

	for i := 0; i < 10; i++ {
		_, err := s.Set(fmt.Sprintf("short-%d", i), []byte("v"), SetOptions{TTL: time.Millisecond})
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := s.Set(fmt.Sprintf("long-%d", i), []byte("v"), SetOptions{TTL: time.Hour})
		require.NoError(t, err)
	}

	time.Sleep(5 * time.Millisecond)

	ratio := s.DeleteExpired(100)
	assert.InDelta(t, 0.5, ratio, 0.001)
	assert.Equal(t, 10, s.Len())
	assert.Equal(t, uint64(10), s.Expired())
	assert.Equal(t, 0.0, s.DeleteExpired(100))
}

func TestMapStorage_IncrBy(t *testing.T) {
	s := NewMapStorage()

	n, err := s.IncrBy("c", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.IncrBy("c", -7)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)

	_, err = s.Set("c", []byte("9223372036854775807"), SetOptions{})
	require.NoError(t, err)
	_, err = s.IncrBy("c", 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = s.Set("s", []byte("abc"), SetOptions{})
	require.NoError(t, err)
	_, err = s.IncrBy("s", 1)
	assert.ErrorIs(t, err, ErrNotInteger)

	_, err = s.SAdd("set", []byte("a"))
	require.NoError(t, err)
	_, err = s.IncrBy("set", 1)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestMapStorage_AppendStrLen(t *testing.T) {
	s := NewMapStorage()

	n, err := s.Append("k", []byte("Hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.Append("k", []byte(" World"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	n, err = s.StrLen("k")
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	n, err = s.StrLen("missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMapStorage_Keys(t *testing.T) {
	s := NewMapStorage()

	for _, k := range []string{"user:1", "user:2", "admin:1"} {
		_, err := s.Set(k, []byte("v"), SetOptions{})
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{"user:1", "user:2"}, s.Keys("user:*"))
	assert.ElementsMatch(t, []string{"user:1", "user:2", "admin:1"}, s.Keys("*"))
	assert.Empty(t, s.Keys("nobody*"))

	s.Flush()
	assert.Equal(t, 0, s.Len())
}

func TestMapStorage_ExportImport(t *testing.T) {
	src := NewMapStorage()

	_, err := src.Set("str", []byte("v"), SetOptions{TTL: time.Hour})
	require.NoError(t, err)
	_, err = src.RPush("list", []byte("a"), []byte("b"))
	require.NoError(t, err)
	_, err = src.SAdd("set", []byte("x"))
	require.NoError(t, err)
	_, err = src.HSet("hash", []byte("f"), []byte("v"))
	require.NoError(t, err)
	_, err = src.Set("gone", []byte("v"), SetOptions{TTL: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	records := src.Export()
	assert.Len(t, records, 4)

	dst := NewMapStorage()
	dst.Import(records)

	assert.Equal(t, 4, dst.Len())

	list, err := dst.LRange("list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)

	_, status := dst.Expiry("str")
	assert.Equal(t, ExpActive, status)

	val, ok, err := dst.HGet("hash", []byte("f"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}

func FuzzMapStorage(f *testing.F) {
	s := NewMapStorage()

	f.Add("key1", []byte("val1"))
	f.Add("special", []byte("!@#$%^&*()"))
	f.Add("", []byte{})

	f.Fuzz(func(t *testing.T, key string, val []byte) {
		_, err := s.Set(key, val, SetOptions{})
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		v, ok, err := s.Get(key)
		if err != nil || !ok || string(v) != string(val) {
			t.Errorf("Get failed after Set: key=%q, val=%q", key, val)
		}
	})
}
