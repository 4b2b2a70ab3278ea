package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/eternalApril/moonkv/internal/storage"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record field numbers. A snapshot is a stream of length prefixed records
// terminated by a zero length
const (
	fieldKey      protowire.Number = 1
	fieldType     protowire.Number = 2
	fieldExpireAt protowire.Number = 3
	fieldString   protowire.Number = 4
	fieldElement  protowire.Number = 5
	fieldHashPair protowire.Number = 6

	fieldPairName  protowire.Number = 1
	fieldPairValue protowire.Number = 2
)

// maxRecordLen bounds a single record read from disk
const maxRecordLen = 1 << 31

var ErrCorrupted = errors.New("rdb: corrupted snapshot")

// appendRecord encodes rec without the length prefix
func appendRecord(b []byte, rec *storage.Record) []byte {
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, rec.Key)

	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Type))

	if rec.ExpireAt != 0 {
		b = protowire.AppendTag(b, fieldExpireAt, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(rec.ExpireAt))
	}

	switch rec.Type {
	case storage.TypeString:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.String)
	case storage.TypeList, storage.TypeSet:
		for _, el := range rec.Elements {
			b = protowire.AppendTag(b, fieldElement, protowire.BytesType)
			b = protowire.AppendBytes(b, el)
		}
	case storage.TypeHash:
		var pair []byte
		for field, val := range rec.Hash {
			pair = pair[:0]
			pair = protowire.AppendTag(pair, fieldPairName, protowire.BytesType)
			pair = protowire.AppendString(pair, field)
			pair = protowire.AppendTag(pair, fieldPairValue, protowire.BytesType)
			pair = protowire.AppendBytes(pair, val)

			b = protowire.AppendTag(b, fieldHashPair, protowire.BytesType)
			b = protowire.AppendBytes(b, pair)
		}
	}

	return b
}

// decodeRecord parses one record body. The result does not alias b
func decodeRecord(b []byte) (storage.Record, error) {
	var rec storage.Record
	hasKey := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: key: %v", ErrCorrupted, protowire.ParseError(n))
			}
			rec.Key, hasKey = v, true
			b = b[n:]

		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: type: %v", ErrCorrupted, protowire.ParseError(n))
			}
			rec.Type = storage.DataType(v)
			b = b[n:]

		case num == fieldExpireAt && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: expire: %v", ErrCorrupted, protowire.ParseError(n))
			}
			rec.ExpireAt = int64(v)
			b = b[n:]

		case num == fieldString && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: string: %v", ErrCorrupted, protowire.ParseError(n))
			}
			rec.String = append([]byte{}, v...)
			b = b[n:]

		case num == fieldElement && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: element: %v", ErrCorrupted, protowire.ParseError(n))
			}
			rec.Elements = append(rec.Elements, append([]byte{}, v...))
			b = b[n:]

		case num == fieldHashPair && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: hash pair: %v", ErrCorrupted, protowire.ParseError(n))
			}
			field, val, err := decodePair(v)
			if err != nil {
				return rec, err
			}
			if rec.Hash == nil {
				rec.Hash = make(map[string][]byte)
			}
			rec.Hash[field] = val
			b = b[n:]

		default:
			// unknown field, written by a newer version
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %d: %v", ErrCorrupted, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasKey {
		return rec, fmt.Errorf("%w: record without key", ErrCorrupted)
	}

	return rec, nil
}

func decodePair(b []byte) (string, []byte, error) {
	var (
		field string
		val   []byte
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: hash pair: %v", ErrCorrupted, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldPairName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", nil, fmt.Errorf("%w: hash field: %v", ErrCorrupted, protowire.ParseError(n))
			}
			field = v
			b = b[n:]
		case num == fieldPairValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, fmt.Errorf("%w: hash value: %v", ErrCorrupted, protowire.ParseError(n))
			}
			val = append([]byte{}, v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, fmt.Errorf("%w: hash pair field %d: %v", ErrCorrupted, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return field, val, nil
}

// recordWriter writes length prefixed records
type recordWriter struct {
	w       io.Writer
	scratch []byte
	body    []byte
}

func (rw *recordWriter) write(rec *storage.Record) error {
	rw.body = appendRecord(rw.body[:0], rec)
	rw.scratch = protowire.AppendBytes(rw.scratch[:0], rw.body)
	_, err := rw.w.Write(rw.scratch)
	return err
}

// end writes the terminating zero length
func (rw *recordWriter) end() error {
	_, err := rw.w.Write([]byte{0})
	return err
}

// recordReader reads records written by recordWriter
type recordReader struct {
	r   *bufio.Reader
	buf []byte
}

// next returns the next record, or io.EOF after the terminating zero length.
// A stream that stops before the terminator yields ErrCorrupted
func (rr *recordReader) next() (storage.Record, error) {
	size, err := binary.ReadUvarint(rr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return storage.Record{}, fmt.Errorf("%w: missing end marker", ErrCorrupted)
		}
		return storage.Record{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	if size == 0 {
		return storage.Record{}, io.EOF
	}

	if size > maxRecordLen {
		return storage.Record{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupted, size)
	}

	if uint64(cap(rr.buf)) < size {
		rr.buf = make([]byte, size)
	}
	rr.buf = rr.buf[:size]

	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return storage.Record{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return decodeRecord(rr.buf)
}
