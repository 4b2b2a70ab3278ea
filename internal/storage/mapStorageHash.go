package storage

import "bytes"

// HSet sets the specified fields to their respective values in the hash stored at key.
// pairs holds field, value, field, value...; a trailing field without value is ignored
func (m *MapStorage) HSet(key string, pairs ...[]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeHash, true, now())
	if err != nil {
		return 0, err
	}

	h := e.hash()

	var created int64
	for i := 0; i+1 < len(pairs); i += 2 {
		field := string(pairs[i])
		if _, ok := h[field]; !ok {
			created++
		}
		h[field] = bytes.Clone(pairs[i+1])
	}

	m.dropIfEmpty(key, e)
	return created, nil
}

// HGet returns the value associated with field in the hash stored at key
func (m *MapStorage) HGet(key string, field []byte) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
		err   error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeHash {
			err = ErrWrongType
			return
		}

		var v []byte
		if v, found = e.hash()[string(field)]; found {
			val = bytes.Clone(v)
		}
	})

	return val, found, err
}

// HDel removes the fields and returns how many were present
func (m *MapStorage) HDel(key string, fields ...[]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeHash, false, now())
	if err != nil || e == nil {
		return 0, err
	}

	h := e.hash()

	var removed int64
	for _, field := range fields {
		if _, ok := h[string(field)]; ok {
			delete(h, string(field))
			removed++
		}
	}

	m.dropIfEmpty(key, e)
	return removed, nil
}

// HGetAll returns all fields and values of the hash stored at key
func (m *MapStorage) HGetAll(key string) ([][]byte, error) {
	return m.hashView(key, func(h map[string][]byte) [][]byte {
		out := make([][]byte, 0, 2*len(h))
		for field, val := range h {
			out = append(out, []byte(field), bytes.Clone(val))
		}
		return out
	})
}

// HKeys returns all field names in the hash stored at key
func (m *MapStorage) HKeys(key string) ([][]byte, error) {
	return m.hashView(key, func(h map[string][]byte) [][]byte {
		out := make([][]byte, 0, len(h))
		for field := range h {
			out = append(out, []byte(field))
		}
		return out
	})
}

// HVals returns all values in the hash stored at key
func (m *MapStorage) HVals(key string) ([][]byte, error) {
	return m.hashView(key, func(h map[string][]byte) [][]byte {
		out := make([][]byte, 0, len(h))
		for _, val := range h {
			out = append(out, bytes.Clone(val))
		}
		return out
	})
}

// HExists returns if field is an existing field in the hash stored at key
func (m *MapStorage) HExists(key string, field []byte) (bool, error) {
	_, ok, err := m.HGet(key, field)
	return ok, err
}

// HLen returns the number of fields contained in the hash stored at key
func (m *MapStorage) HLen(key string) (int64, error) {
	var (
		n   int64
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeHash {
			err = ErrWrongType
			return
		}
		n = int64(len(e.hash()))
	})

	return n, err
}

func (m *MapStorage) hashView(key string, fn func(h map[string][]byte) [][]byte) ([][]byte, error) {
	out := [][]byte{}

	var err error
	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeHash {
			err = ErrWrongType
			return
		}
		out = fn(e.hash())
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}
