package storage

// SAdd adds members to the set and returns how many were not present before
func (m *MapStorage) SAdd(key string, members ...[]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeSet, true, now())
	if err != nil {
		return 0, err
	}

	set := e.set()

	var added int64
	for _, member := range members {
		if _, ok := set[string(member)]; !ok {
			set[string(member)] = struct{}{}
			added++
		}
	}

	m.dropIfEmpty(key, e)
	return added, nil
}

// SRem removes members and returns how many were present
func (m *MapStorage) SRem(key string, members ...[]byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.collection(key, TypeSet, false, now())
	if err != nil || e == nil {
		return 0, err
	}

	set := e.set()

	var removed int64
	for _, member := range members {
		if _, ok := set[string(member)]; ok {
			delete(set, string(member))
			removed++
		}
	}

	m.dropIfEmpty(key, e)
	return removed, nil
}

// SMembers returns all members in no particular order
func (m *MapStorage) SMembers(key string) ([][]byte, error) {
	out := [][]byte{}

	var err error
	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeSet {
			err = ErrWrongType
			return
		}

		out = make([][]byte, 0, len(e.set()))
		for member := range e.set() {
			out = append(out, []byte(member))
		}
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

// SIsMember returns if member belongs to the set
func (m *MapStorage) SIsMember(key string, member []byte) (bool, error) {
	var (
		ok  bool
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeSet {
			err = ErrWrongType
			return
		}
		_, ok = e.set()[string(member)]
	})

	return ok, err
}

// SCard returns the number of members
func (m *MapStorage) SCard(key string) (int64, error) {
	var (
		n   int64
		err error
	)

	m.read(key, func(e *Entity) {
		if e == nil {
			return
		}
		if e.Type != TypeSet {
			err = ErrWrongType
			return
		}
		n = int64(len(e.set()))
	})

	return n, err
}
