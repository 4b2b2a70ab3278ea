package resp

import (
	"errors"
	"strconv"
)

var ErrUnknownType = errors.New("resp: unknown value type")

var (
	crlf      = []byte("\r\n")
	nilBulk   = []byte("$-1\r\n")
	nilArray  = []byte("*-1\r\n")
	emptyBulk = []byte{}
)

// Encode returns the wire form of v
func Encode(v Value) ([]byte, error) {
	return AppendValue(nil, v)
}

// AppendValue appends the wire form of v to dst
func AppendValue(dst []byte, v Value) ([]byte, error) {
	switch v.Type {
	case TypeInteger:
		dst = append(dst, TypeInteger)
		dst = strconv.AppendInt(dst, v.Integer, 10)
		return append(dst, crlf...), nil

	case TypeSimpleString, TypeError:
		dst = append(dst, v.Type)
		// CR and LF would break the framing of single line replies
		for _, c := range v.String {
			if c == '\r' || c == '\n' {
				c = ' '
			}
			dst = append(dst, c)
		}
		return append(dst, crlf...), nil

	case TypeBulkString:
		if v.IsNull {
			return append(dst, nilBulk...), nil
		}
		return appendBulk(dst, v.String), nil

	case TypeArray:
		if v.IsNull {
			return append(dst, nilArray...), nil
		}

		dst = appendHeader(dst, TypeArray, len(v.Array))

		var err error
		for _, el := range v.Array {
			if dst, err = AppendValue(dst, el); err != nil {
				return dst, err
			}
		}
		return dst, nil
	}

	return dst, ErrUnknownType
}

// AppendCommand appends the request form of a command: an array of bulk strings
func AppendCommand(dst []byte, name string, args [][]byte) []byte {
	dst = appendHeader(dst, TypeArray, len(args)+1)
	dst = appendBulk(dst, []byte(name))
	for _, arg := range args {
		dst = appendBulk(dst, arg)
	}
	return dst
}

func appendBulk(dst []byte, b []byte) []byte {
	if b == nil {
		b = emptyBulk
	}
	dst = appendHeader(dst, TypeBulkString, len(b))
	dst = append(dst, b...)
	return append(dst, crlf...)
}

func appendHeader(dst []byte, prefix byte, n int) []byte {
	dst = append(dst, prefix)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, crlf...)
}
