package storage

import "errors"

var (
	// ErrWrongType is returned when a key holds a value of another type than the operation needs
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned by counters when the stored string is not a base-10 int64
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")

	// ErrOverflow is returned by counters when the result does not fit into int64
	ErrOverflow = errors.New("ERR increment or decrement would overflow")
)
