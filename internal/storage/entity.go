package storage

type DataType byte

const (
	TypeNone DataType = iota
	TypeString
	TypeList
	TypeSet
	TypeHash
)

// String returns the type name reported by the TYPE command
func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	default:
		return "none"
	}
}

// Entity generic container for value.
// Value holds []byte for strings, *deque for lists, map[string]struct{} for sets
// and map[string][]byte for hashes
type Entity struct {
	Type  DataType
	Value interface{}
}

func newEntity(t DataType) *Entity {
	e := &Entity{Type: t}

	switch t {
	case TypeList:
		e.Value = &deque{}
	case TypeSet:
		e.Value = make(map[string]struct{})
	case TypeHash:
		e.Value = make(map[string][]byte)
	}

	return e
}

func (e *Entity) str() []byte {
	return e.Value.([]byte)
}

func (e *Entity) list() *deque {
	return e.Value.(*deque)
}

func (e *Entity) set() map[string]struct{} {
	return e.Value.(map[string]struct{})
}

func (e *Entity) hash() map[string][]byte {
	return e.Value.(map[string][]byte)
}

// empty reports whether a collection has no elements left. Empty collections are removed from the keyspace
func (e *Entity) empty() bool {
	switch e.Type {
	case TypeList:
		return e.list().Len() == 0
	case TypeSet:
		return len(e.set()) == 0
	case TypeHash:
		return len(e.hash()) == 0
	}
	return false
}
