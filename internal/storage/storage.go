package storage

import (
	"time"
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	TTL      time.Duration // key lifetime
	ExpireAt int64         // absolute expiration in unix nanoseconds, takes precedence over TTL
	KeepTTL  bool          // if true, retain the existing TTL (ignore TTL field)
	NX       bool          // only set if the key does not exist
	XX       bool          // only set if the key already exists
	Get      bool          // return the previous value; fails with ErrWrongType if it is not a string
}

// SetResult describes the outcome of Set
type SetResult struct {
	Written bool   // the value was stored
	Old     []byte // previous value, only filled when SetOptions.Get is set
	HadOld  bool   // the key held a string before the call
}

// Record is a detached copy of one live entry, used to move the keyspace in and out of snapshots
type Record struct {
	Key      string
	Type     DataType
	ExpireAt int64             // unix nanoseconds, 0 means no TTL
	String   []byte            // TypeString
	Elements [][]byte          // TypeList in order, TypeSet in any order
	Hash     map[string][]byte // TypeHash
}

// Storage is a common interface for working with key-value storages.
// Every method is atomic with respect to other calls on the same key and returns
// copies, never references to stored data
type Storage interface {
	// Get returns the string value and true if the key is found. Otherwise, nil, false
	Get(key string) ([]byte, bool, error)

	// Set writes the value based on the options
	Set(key string, value []byte, options SetOptions) (SetResult, error)

	// IncrBy adds delta to the integer stored at key, a missing key counts as 0
	IncrBy(key string, delta int64) (int64, error)

	// Append appends value to the string at key and returns the new length
	Append(key string, value []byte) (int64, error)

	// StrLen returns the length of the string at key
	StrLen(key string) (int64, error)

	// Delete deletes the key. Returns true if the key was present, even if already expired
	Delete(key string) bool

	// Exists returns true if the key holds a live value
	Exists(key string) bool

	// Type returns the type of the value at key, TypeNone for missing keys
	Type(key string) DataType

	// Expire sets a relative TTL. Returns false if the key does not exist.
	// A non-positive ttl deletes the key
	Expire(key string, ttl time.Duration) bool

	// ExpireAt sets an absolute expiration in unix nanoseconds. Returns false if the key does not exist
	ExpireAt(key string, at int64) bool

	// Expiry returns the remaining lifetime and status as ExpiryStatus
	Expiry(key string) (time.Duration, ExpiryStatus)

	// Persist removes the expiration date of the key, making it eternal.
	// Returns 1 if successful, 0 if the key was not found or had no TTL
	Persist(key string) int64

	// Keys returns all live keys matching a glob-style pattern
	Keys(pattern string) []string

	// Len returns the number of live keys
	Len() int

	// Flush removes every key
	Flush()

	// DeleteExpired randomly selects a limit of keys with a TTL from each shard and
	// deletes the expired ones. Returns expired/sampled over all shards, 0 when nothing was sampled
	DeleteExpired(limit int) float64

	// Expired returns the number of keys removed because their TTL passed, lazily or actively
	Expired() uint64

	// Export returns a point-in-time copy of every live entry
	Export() []Record

	// Import loads records, replacing existing keys. Expired records are skipped
	Import(records []Record)

	// LPush prepends values to the list at key and returns the new length
	LPush(key string, values ...[]byte) (int64, error)

	// RPush appends values to the list at key and returns the new length
	RPush(key string, values ...[]byte) (int64, error)

	// LPop removes and returns up to count elements from the head of the list
	LPop(key string, count int) ([][]byte, error)

	// RPop removes and returns up to count elements from the tail of the list
	RPop(key string, count int) ([][]byte, error)

	// LRange returns the elements between start and stop inclusive.
	// Negative indices count from the end, out of range indices are clamped
	LRange(key string, start, stop int64) ([][]byte, error)

	// LIndex returns the element at index, negative indices count from the end
	LIndex(key string, index int64) ([]byte, bool, error)

	// LLen returns the length of the list at key
	LLen(key string) (int64, error)

	// SAdd adds members to the set at key and returns how many were new
	SAdd(key string, members ...[]byte) (int64, error)

	// SRem removes members from the set at key and returns how many were present
	SRem(key string, members ...[]byte) (int64, error)

	// SMembers returns all members of the set at key
	SMembers(key string) ([][]byte, error)

	// SIsMember returns if member belongs to the set at key
	SIsMember(key string, member []byte) (bool, error)

	// SCard returns the number of members of the set at key
	SCard(key string) (int64, error)

	// HSet sets field/value pairs in the hash stored at key and returns how many fields were new
	HSet(key string, pairs ...[]byte) (int64, error)

	// HGet returns the value associated with field in the hash stored at key
	HGet(key string, field []byte) ([]byte, bool, error)

	// HDel removes fields from the hash stored at key and returns how many were present
	HDel(key string, fields ...[]byte) (int64, error)

	// HGetAll returns all fields and values of the hash stored at key as a flat field, value list
	HGetAll(key string) ([][]byte, error)

	// HExists returns if field is an existing field in the hash stored at key
	HExists(key string, field []byte) (bool, error)

	// HLen returns the number of fields contained in the hash stored at key
	HLen(key string) (int64, error)

	// HKeys returns all field names in the hash stored at key
	HKeys(key string) ([][]byte, error)

	// HVals returns all values in the hash stored at key
	HVals(key string) ([][]byte, error)
}
