package storage

import (
	"errors"
	"math/bits"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MaxShards is the upper bound for the number of shards
const MaxShards = 256

// ShardedMapStorage is a thread-safe key-value storage,
// divided into segments (shards) to reduce contention for locking.
// All operations on one key go to the same shard, so per-key atomicity holds
type ShardedMapStorage struct {
	shards    []*MapStorage
	shardMask uint64
}

// NewShardedMapStorage creates a new instance of ShardedMapStorage.
// The requestedShards parameter must be a power of two for efficient allocation.
func NewShardedMapStorage(requestedShards uint) (*ShardedMapStorage, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > MaxShards {
		return nil, errors.New("requested shards must be less or equal than 256")
	}

	s := &ShardedMapStorage{
		shards:    make([]*MapStorage, requestedShards),
		shardMask: uint64(requestedShards - 1),
	}

	for i := range s.shards {
		s.shards[i] = NewMapStorage()
	}

	return s, nil
}

// getShardIndex returns index of shard by key
func (s *ShardedMapStorage) getShardIndex(key string) uint64 {
	return xxhash.Sum64String(key) & s.shardMask
}

func (s *ShardedMapStorage) shard(key string) *MapStorage {
	return s.shards[s.getShardIndex(key)]
}

// Get returns the value and true if the key is found. Otherwise, nil, false.
func (s *ShardedMapStorage) Get(key string) ([]byte, bool, error) {
	return s.shard(key).Get(key)
}

// Set writes the value based on the options.
func (s *ShardedMapStorage) Set(key string, value []byte, options SetOptions) (SetResult, error) {
	return s.shard(key).Set(key, value, options)
}

func (s *ShardedMapStorage) IncrBy(key string, delta int64) (int64, error) {
	return s.shard(key).IncrBy(key, delta)
}

func (s *ShardedMapStorage) Append(key string, value []byte) (int64, error) {
	return s.shard(key).Append(key, value)
}

func (s *ShardedMapStorage) StrLen(key string) (int64, error) {
	return s.shard(key).StrLen(key)
}

// Delete deletes the key. Returns true if the key existed and was deleted.
func (s *ShardedMapStorage) Delete(key string) bool {
	return s.shard(key).Delete(key)
}

func (s *ShardedMapStorage) Exists(key string) bool {
	return s.shard(key).Exists(key)
}

func (s *ShardedMapStorage) Type(key string) DataType {
	return s.shard(key).Type(key)
}

func (s *ShardedMapStorage) Expire(key string, ttl time.Duration) bool {
	return s.shard(key).Expire(key, ttl)
}

func (s *ShardedMapStorage) ExpireAt(key string, at int64) bool {
	return s.shard(key).ExpireAt(key, at)
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (s *ShardedMapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	return s.shard(key).Expiry(key)
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (s *ShardedMapStorage) Persist(key string) int64 {
	return s.shard(key).Persist(key)
}

// Keys visits the shards one after another; keys written meanwhile may or may not be seen
func (s *ShardedMapStorage) Keys(pattern string) []string {
	var keys []string
	for _, shard := range s.shards {
		shard.mu.RLock()
		keys = shard.appendKeys(keys, pattern, now())
		shard.mu.RUnlock()
	}
	return keys
}

func (s *ShardedMapStorage) Len() int {
	n := 0
	for _, shard := range s.shards {
		n += shard.Len()
	}
	return n
}

func (s *ShardedMapStorage) Flush() {
	for _, shard := range s.shards {
		shard.Flush()
	}
}

// Expired returns the number of keys removed because their TTL passed
func (s *ShardedMapStorage) Expired() uint64 {
	var n uint64
	for _, shard := range s.shards {
		n += shard.Expired()
	}
	return n
}

// DeleteExpired samples up to limit keys with a TTL in every shard and deletes the expired ones.
// The result is the expired share of all sampled keys; shards without TTL keys do not dilute it
func (s *ShardedMapStorage) DeleteExpired(limit int) float64 {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex // protects expired and checked
		expired int
		checked int
	)

	wg.Add(len(s.shards))

	for _, shard := range s.shards {
		go func(m *MapStorage) {
			defer wg.Done()

			e, c := m.deleteExpired(limit)

			mu.Lock()
			expired += e
			checked += c
			mu.Unlock()
		}(shard)
	}

	wg.Wait()

	if checked == 0 {
		return 0.0
	}
	return float64(expired) / float64(checked)
}

// Export holds the read lock of every shard while copying,
// so the records form one point-in-time view of the whole keyspace
func (s *ShardedMapStorage) Export() []Record {
	for _, shard := range s.shards {
		shard.mu.RLock()
	}
	defer func() {
		for _, shard := range s.shards {
			shard.mu.RUnlock()
		}
	}()

	ts := now()

	var records []Record
	for _, shard := range s.shards {
		records = shard.appendRecords(records, ts)
	}
	return records
}

// Import routes every record to its shard
func (s *ShardedMapStorage) Import(records []Record) {
	buckets := make([][]Record, len(s.shards))
	for _, rec := range records {
		idx := s.getShardIndex(rec.Key)
		buckets[idx] = append(buckets[idx], rec)
	}

	for i, bucket := range buckets {
		if len(bucket) > 0 {
			s.shards[i].Import(bucket)
		}
	}
}

func (s *ShardedMapStorage) LPush(key string, values ...[]byte) (int64, error) {
	return s.shard(key).LPush(key, values...)
}

func (s *ShardedMapStorage) RPush(key string, values ...[]byte) (int64, error) {
	return s.shard(key).RPush(key, values...)
}

func (s *ShardedMapStorage) LPop(key string, count int) ([][]byte, error) {
	return s.shard(key).LPop(key, count)
}

func (s *ShardedMapStorage) RPop(key string, count int) ([][]byte, error) {
	return s.shard(key).RPop(key, count)
}

func (s *ShardedMapStorage) LRange(key string, start, stop int64) ([][]byte, error) {
	return s.shard(key).LRange(key, start, stop)
}

func (s *ShardedMapStorage) LIndex(key string, index int64) ([]byte, bool, error) {
	return s.shard(key).LIndex(key, index)
}

func (s *ShardedMapStorage) LLen(key string) (int64, error) {
	return s.shard(key).LLen(key)
}

func (s *ShardedMapStorage) SAdd(key string, members ...[]byte) (int64, error) {
	return s.shard(key).SAdd(key, members...)
}

func (s *ShardedMapStorage) SRem(key string, members ...[]byte) (int64, error) {
	return s.shard(key).SRem(key, members...)
}

func (s *ShardedMapStorage) SMembers(key string) ([][]byte, error) {
	return s.shard(key).SMembers(key)
}

func (s *ShardedMapStorage) SIsMember(key string, member []byte) (bool, error) {
	return s.shard(key).SIsMember(key, member)
}

func (s *ShardedMapStorage) SCard(key string) (int64, error) {
	return s.shard(key).SCard(key)
}

// HSet sets the specified fields to their respective values in the hash stored at key
func (s *ShardedMapStorage) HSet(key string, pairs ...[]byte) (int64, error) {
	return s.shard(key).HSet(key, pairs...)
}

// HGet returns the value associated with field in the hash stored at key
func (s *ShardedMapStorage) HGet(key string, field []byte) ([]byte, bool, error) {
	return s.shard(key).HGet(key, field)
}

// HGetAll returns all fields and values of the hash stored at key
func (s *ShardedMapStorage) HGetAll(key string) ([][]byte, error) {
	return s.shard(key).HGetAll(key)
}

// HDel calculate index shard and delegates all the logic of the work to the MapStorage
func (s *ShardedMapStorage) HDel(key string, fields ...[]byte) (int64, error) {
	return s.shard(key).HDel(key, fields...)
}

// HExists returns if field is an existing field in the hash stored at key
func (s *ShardedMapStorage) HExists(key string, field []byte) (bool, error) {
	return s.shard(key).HExists(key, field)
}

// HLen returns the number of fields contained in the hash stored at key
func (s *ShardedMapStorage) HLen(key string) (int64, error) {
	return s.shard(key).HLen(key)
}

// HKeys returns all field names in the hash stored at key
func (s *ShardedMapStorage) HKeys(key string) ([][]byte, error) {
	return s.shard(key).HKeys(key)
}

// HVals returns all values in the hash stored at key
func (s *ShardedMapStorage) HVals(key string) ([][]byte, error) {
	return s.shard(key).HVals(key)
}

var (
	_ Storage = (*MapStorage)(nil)
	_ Storage = (*ShardedMapStorage)(nil)
)
