package storage

import (
	"bytes"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MapStorage is a thread-safe key-value storage guarded by a single lock.
// ShardedMapStorage composes several of them
type MapStorage struct {
	data    map[string]*Entity // key - value
	expires map[string]int64   // key - expires time nanoseconds
	mu      sync.RWMutex
	expired atomic.Uint64 // keys removed because their TTL passed
}

// NewMapStorage creates a new instance of MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{
		data:    make(map[string]*Entity),
		expires: make(map[string]int64),
	}
}

func now() int64 {
	return time.Now().UnixNano()
}

// live returns the entity stored at key, evicting it first if its TTL has passed.
// The caller must hold the write lock
func (m *MapStorage) live(key string, now int64) (*Entity, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}

	if exp, hasExp := m.expires[key]; hasExp && now >= exp {
		m.remove(key)
		m.expired.Add(1)
		return nil, false
	}

	return e, true
}

// remove drops the key and its TTL. The caller must hold the write lock
func (m *MapStorage) remove(key string) {
	delete(m.data, key)
	delete(m.expires, key)
}

// read runs fn with the live entity under the read lock.
// If the entity has expired it is evicted under the write lock and fn gets nil
func (m *MapStorage) read(key string, fn func(e *Entity)) {
	ts := now()

	m.mu.RLock()
	e, ok := m.data[key]
	if ok {
		if exp, hasExp := m.expires[key]; !hasExp || ts < exp {
			fn(e)
			m.mu.RUnlock()
			return
		}
	}
	m.mu.RUnlock()

	if ok {
		m.mu.Lock()
		// checking again, can be changed while waiting for the lock
		m.live(key, now())
		m.mu.Unlock()
	}

	fn(nil)
}

// collection returns the live entity of type t, creating an empty one if create is set.
// The caller must hold the write lock
func (m *MapStorage) collection(key string, t DataType, create bool, now int64) (*Entity, error) {
	e, ok := m.live(key, now)
	if ok {
		if e.Type != t {
			return nil, ErrWrongType
		}
		return e, nil
	}

	if !create {
		return nil, nil
	}

	e = newEntity(t)
	m.data[key] = e
	return e, nil
}

// dropIfEmpty removes a collection that lost its last element. The caller must hold the write lock
func (m *MapStorage) dropIfEmpty(key string, e *Entity) {
	if e.empty() {
		m.remove(key)
	}
}

// Get returns the value and true if the key is found. Otherwise, nil, false
func (m *MapStorage) Get(key string) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
		err   error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeString {
			err = ErrWrongType
			return
		}
		val = bytes.Clone(e.str())
		found = true
	})

	return val, found, err
}

// Set writes the value based on the options
func (m *MapStorage) Set(key string, value []byte, options SetOptions) (SetResult, error) {
	var res SetResult

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := now()
	e, exists := m.live(key, ts)

	if exists && e.Type == TypeString {
		res.HadOld = true
		if options.Get {
			res.Old = bytes.Clone(e.str())
		}
	} else if exists && options.Get {
		return res, ErrWrongType
	}

	if options.NX && exists {
		return res, nil
	}

	if options.XX && !exists {
		return res, nil
	}

	m.data[key] = &Entity{Type: TypeString, Value: bytes.Clone(value)}

	switch {
	case options.KeepTTL:
		// retain existing expiration; a fresh key has none
	case options.ExpireAt != 0:
		m.expires[key] = options.ExpireAt
	case options.TTL > 0:
		m.expires[key] = ts + int64(options.TTL)
	default:
		// no TTL provided (and not KEEPTTL), so we remove any existing expiration (persist)
		delete(m.expires, key)
	}

	res.Written = true
	return res, nil
}

// IncrBy adds delta to the integer stored at key. The TTL is kept
func (m *MapStorage) IncrBy(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64

	e, ok := m.live(key, now())
	if ok {
		if e.Type != TypeString {
			return 0, ErrWrongType
		}

		n, err := strconv.ParseInt(string(e.str()), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}

	current += delta
	val := strconv.AppendInt(nil, current, 10)

	if ok {
		e.Value = val
	} else {
		m.data[key] = &Entity{Type: TypeString, Value: val}
	}

	return current, nil
}

// Append appends value to the string at key and returns the new length. The TTL is kept
func (m *MapStorage) Append(key string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key, now())
	if !ok {
		m.data[key] = &Entity{Type: TypeString, Value: bytes.Clone(value)}
		return int64(len(value)), nil
	}

	if e.Type != TypeString {
		return 0, ErrWrongType
	}

	// stored slices never leave the storage, so growing in place is safe
	joined := append(e.str(), value...)
	e.Value = joined

	return int64(len(joined)), nil
}

// StrLen returns the length of the string at key, 0 for missing keys
func (m *MapStorage) StrLen(key string) (int64, error) {
	var (
		n   int64
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeString {
			err = ErrWrongType
			return
		}
		n = int64(len(e.str()))
	})

	return n, err
}

// Delete deletes the key. Returns true if the key existed and was deleted.
// A key whose TTL passed but which was not reclaimed yet still counts
func (m *MapStorage) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		m.remove(key)
		return true
	}
	return false
}

// Exists returns true if the key holds a live value
func (m *MapStorage) Exists(key string) bool {
	var ok bool
	m.read(key, func(e *Entity) {
		ok = e != nil
	})
	return ok
}

// Type returns the type of the value at key
func (m *MapStorage) Type(key string) DataType {
	t := TypeNone
	m.read(key, func(e *Entity) {
		if e != nil {
			t = e.Type
		}
	})
	return t
}

// Expire sets the key to expire after ttl. A non-positive ttl deletes the key right away
func (m *MapStorage) Expire(key string, ttl time.Duration) bool {
	ts := now()
	return m.expireAt(key, ts+int64(ttl), ts)
}

// ExpireAt sets the key to expire at the given unix nanoseconds
func (m *MapStorage) ExpireAt(key string, at int64) bool {
	return m.expireAt(key, at, now())
}

func (m *MapStorage) expireAt(key string, at, ts int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key, ts); !ok {
		return false
	}

	if at <= ts {
		m.remove(key)
		return true
	}

	m.expires[key] = at
	return true
}

// Expiry returns the remaining lifetime and status as expiryStatus
func (m *MapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	var (
		ttl    time.Duration
		status = ExpNotFound
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}

		exp, hasExp := m.expires[key]
		if !hasExp {
			status = ExpNoTimeout
			return
		}

		status = ExpActive
		ttl = time.Duration(exp - now())
		if ttl < 0 {
			ttl = 0
		}
	})

	return ttl, status
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (m *MapStorage) Persist(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key, now()); !ok {
		return 0
	}

	if _, hasExp := m.expires[key]; !hasExp {
		return 0
	}

	delete(m.expires, key)
	return 1
}

// Keys returns all live keys matching pattern
func (m *MapStorage) Keys(pattern string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.appendKeys(nil, pattern, now())
}

// appendKeys collects matching live keys. The caller must hold at least the read lock
func (m *MapStorage) appendKeys(dst []string, pattern string, ts int64) []string {
	all := pattern == "*"

	for key := range m.data {
		if exp, hasExp := m.expires[key]; hasExp && ts >= exp {
			continue
		}
		if all || MatchPattern(pattern, key) {
			dst = append(dst, key)
		}
	}

	return dst
}

// Len returns the number of live keys
func (m *MapStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts := now()
	n := len(m.data)
	for _, exp := range m.expires {
		if ts >= exp {
			n--
		}
	}

	return n
}

// Flush removes every key
func (m *MapStorage) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*Entity)
	m.expires = make(map[string]int64)
}

// DeleteExpired randomly selects a limit of keys with a TTL and delete if his TTL has expired
func (m *MapStorage) DeleteExpired(limit int) float64 {
	expired, checked := m.deleteExpired(limit)
	if checked == 0 {
		return 0.0
	}
	return float64(expired) / float64(checked)
}

// deleteExpired samples up to limit keys with a TTL, removes the expired ones
// and returns how many were expired and how many were checked
func (m *MapStorage) deleteExpired(limit int) (expired, checked int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.expires) == 0 || limit <= 0 {
		return 0, 0
	}

	ts := now()

	// go map iteration order is random
	for key, expTime := range m.expires {
		checked++
		if ts >= expTime {
			m.remove(key)
			expired++
		}

		if checked >= limit {
			break
		}
	}

	m.expired.Add(uint64(expired))
	return expired, checked
}

// Expired returns the number of keys removed because their TTL passed
func (m *MapStorage) Expired() uint64 {
	return m.expired.Load()
}

// Export returns a copy of every live entry
func (m *MapStorage) Export() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.appendRecords(nil, now())
}

// appendRecords deep copies live entries. The caller must hold at least the read lock
func (m *MapStorage) appendRecords(dst []Record, ts int64) []Record {
	for key, e := range m.data {
		exp := m.expires[key]
		if exp != 0 && ts >= exp {
			continue
		}

		rec := Record{Key: key, Type: e.Type, ExpireAt: exp}

		switch e.Type {
		case TypeString:
			rec.String = bytes.Clone(e.str())
		case TypeList:
			l := e.list()
			rec.Elements = make([][]byte, l.Len())
			for i := 0; i < l.Len(); i++ {
				rec.Elements[i] = bytes.Clone(l.At(i))
			}
		case TypeSet:
			rec.Elements = make([][]byte, 0, len(e.set()))
			for member := range e.set() {
				rec.Elements = append(rec.Elements, []byte(member))
			}
		case TypeHash:
			rec.Hash = make(map[string][]byte, len(e.hash()))
			for field, val := range e.hash() {
				rec.Hash[field] = bytes.Clone(val)
			}
		}

		dst = append(dst, rec)
	}

	return dst
}

// Import loads records, replacing existing keys
func (m *MapStorage) Import(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := now()
	for i := range records {
		m.importRecord(&records[i], ts)
	}
}

// importRecord stores one record. The caller must hold the write lock
func (m *MapStorage) importRecord(rec *Record, ts int64) {
	if rec.ExpireAt != 0 && ts >= rec.ExpireAt {
		return
	}

	e := newEntity(rec.Type)

	switch rec.Type {
	case TypeString:
		e.Value = bytes.Clone(rec.String)
	case TypeList:
		for _, el := range rec.Elements {
			e.list().PushBack(bytes.Clone(el))
		}
	case TypeSet:
		for _, member := range rec.Elements {
			e.set()[string(member)] = struct{}{}
		}
	case TypeHash:
		for field, val := range rec.Hash {
			e.hash()[field] = bytes.Clone(val)
		}
	default:
		return
	}

	if e.empty() {
		return
	}

	m.data[rec.Key] = e
	if rec.ExpireAt != 0 {
		m.expires[rec.Key] = rec.ExpireAt
	} else {
		delete(m.expires, rec.Key)
	}
}
