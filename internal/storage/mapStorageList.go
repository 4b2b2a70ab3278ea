package storage

import "bytes"

// LPush prepends values one by one, so the last value ends up at the head
func (m *MapStorage) LPush(key string, values ...[]byte) (int64, error) {
	return m.push(key, values, true)
}

// RPush appends values to the tail of the list
func (m *MapStorage) RPush(key string, values ...[]byte) (int64, error) {
	return m.push(key, values, false)
}

func (m *MapStorage) push(key string, values [][]byte, front bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeList, true, now())
	if err != nil {
		return 0, err
	}

	l := e.list()
	for _, v := range values {
		if front {
			l.PushFront(bytes.Clone(v))
		} else {
			l.PushBack(bytes.Clone(v))
		}
	}

	m.dropIfEmpty(key, e)
	return int64(l.Len()), nil
}

// LPop removes and returns up to count elements from the head. A missing key yields nil
func (m *MapStorage) LPop(key string, count int) ([][]byte, error) {
	return m.pop(key, count, true)
}

// RPop removes and returns up to count elements from the tail. A missing key yields nil
func (m *MapStorage) RPop(key string, count int) ([][]byte, error) {
	return m.pop(key, count, false)
}

func (m *MapStorage) pop(key string, count int, front bool) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeList, false, now())
	if err != nil || e == nil {
		return nil, err
	}

	l := e.list()
	n := min(count, l.Len())

	// popped slices are handed out directly: they are no longer referenced by the list
	out := make([][]byte, n)
	for i := range out {
		if front {
			out[i] = l.PopFront()
		} else {
			out[i] = l.PopBack()
		}
	}

	m.dropIfEmpty(key, e)
	return out, nil
}

// LRange returns the elements between start and stop inclusive
func (m *MapStorage) LRange(key string, start, stop int64) ([][]byte, error) {
	var (
		out [][]byte
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeList {
			err = ErrWrongType
			return
		}

		l := e.list()
		lo, hi := normalizeRange(start, stop, l.Len())

		out = make([][]byte, 0, hi-lo)
		for i := lo; i < hi; i++ {
			out = append(out, bytes.Clone(l.At(i)))
		}
	})

	if out == nil && err == nil {
		out = [][]byte{}
	}

	return out, err
}

// LIndex returns the element at index. Negative indices count from the end
func (m *MapStorage) LIndex(key string, index int64) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
		err   error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeList {
			err = ErrWrongType
			return
		}

		l := e.list()
		n := int64(l.Len())
		if index < 0 {
			index += n
		}
		if index < 0 || index >= n {
			return
		}

		val = bytes.Clone(l.At(int(index)))
		found = true
	})

	return val, found, err
}

// LLen returns the length of the list, 0 for a missing key
func (m *MapStorage) LLen(key string) (int64, error) {
	var (
		n   int64
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeList {
			err = ErrWrongType
			return
		}
		n = int64(e.list().Len())
	})

	return n, err
}

// normalizeRange converts inclusive start/stop indices, possibly negative, into a
// half-open [lo, hi) range clamped to n elements
func normalizeRange(start, stop int64, n int) (int, int) {
	size := int64(n)

	if start < 0 {
		start += size
		if start < 0 {
			start = 0
		}
	}

	if stop < 0 {
		stop += size
	}

	if stop >= size {
		stop = size - 1
	}

	if start > stop || start >= size {
		return 0, 0
	}

	return int(start), int(stop) + 1
}
