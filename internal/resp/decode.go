package resp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol limits. Anything above them is treated as a malformed frame
const (
	// MaxBulkLen limits the size of a single bulk string (512MB, as redis proto-max-bulk-len)
	MaxBulkLen = 512 * 1024 * 1024

	// MaxArrayLen limits the number of elements in a single array
	MaxArrayLen = 1024 * 1024

	// MaxDepth limits nesting of arrays
	MaxDepth = 32

	// MaxInlineLen limits the length of a simple string or error line
	MaxInlineLen = 64 * 1024

	// maxNumberLen limits the length of a length or integer line
	maxNumberLen = 32
)

var (
	// ErrIncomplete means the buffer ends before the frame does. Feed more bytes and decode again
	ErrIncomplete = errors.New("resp: incomplete frame")

	// ErrProtocol is the root of every framing error. Framing errors are not recoverable
	ErrProtocol = errors.New("resp: protocol error")

	ErrInvalidEnding = fmt.Errorf("%w: invalid line ending", ErrProtocol)
	ErrInvalidLength = fmt.Errorf("%w: invalid length", ErrProtocol)
	ErrNotCommand    = fmt.Errorf("%w: expected array of bulk strings", ErrProtocol)
)

// Decode parses exactly one frame from the head of buf.
// It returns the value and the number of bytes it occupies. When buf holds only
// a prefix of a frame it returns ErrIncomplete and consumes nothing, so the
// caller can append more bytes and call Decode again with the same buffer.
// The returned value never aliases buf
func Decode(buf []byte) (Value, int, error) {
	v, n, err := decode(buf, 0)
	if err != nil {
		return Value{}, 0, err
	}

	return v, n, nil
}

// DecodeCommand decodes one frame and converts it into a Command
func DecodeCommand(buf []byte) (Command, int, error) {
	v, n, err := Decode(buf)
	if err != nil {
		return Command{}, 0, err
	}

	cmd, err := CommandFromValue(v)
	if err != nil {
		return Command{}, 0, err
	}

	return cmd, n, nil
}

// CommandFromValue converts a decoded request into a Command.
// A request must be an array of bulk strings; an empty array yields an empty Command
func CommandFromValue(v Value) (Command, error) {
	if v.Type != TypeArray || v.IsNull {
		return Command{}, ErrNotCommand
	}

	if len(v.Array) == 0 {
		return Command{}, nil
	}

	for _, el := range v.Array {
		if el.Type != TypeBulkString || el.IsNull {
			return Command{}, ErrNotCommand
		}
	}

	args := make([][]byte, len(v.Array)-1)
	for i, el := range v.Array[1:] {
		args[i] = el.String
	}

	return Command{
		Name: strings.ToUpper(string(v.Array[0].String)),
		Args: args,
	}, nil
}

// decode is Decode without the zeroed count on failure: with ErrIncomplete the
// count is the frame length known so far, or 0 when the missing part is a header
func decode(buf []byte, depth int) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrIncomplete
	}

	if depth > MaxDepth {
		return Value{}, 0, fmt.Errorf("%w: nesting deeper than %d", ErrProtocol, MaxDepth)
	}

	switch buf[0] {
	case TypeSimpleString, TypeError:
		line, n, err := readLine(buf[1:], MaxInlineLen)
		if err != nil {
			return Value{}, 0, err
		}

		return Value{Type: buf[0], String: bytes.Clone(line)}, 1 + n, nil

	case TypeInteger:
		num, n, err := readNumber(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}

		return Value{Type: TypeInteger, Integer: num}, 1 + n, nil

	case TypeBulkString:
		size, n, err := readNumber(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}

		if size == -1 {
			return MakeNilBulkString(), 1 + n, nil
		}

		if size < 0 || size > MaxBulkLen {
			return Value{}, 0, fmt.Errorf("%w: bulk length %d", ErrInvalidLength, size)
		}

		start := 1 + n
		end := start + int(size)
		if len(buf) < end+2 {
			return Value{}, end + 2, ErrIncomplete
		}

		if buf[end] != '\r' || buf[end+1] != '\n' {
			return Value{}, 0, ErrInvalidEnding
		}

		data := make([]byte, size)
		copy(data, buf[start:end])

		return Value{Type: TypeBulkString, String: data}, end + 2, nil

	case TypeArray:
		count, n, err := readNumber(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}

		if count == -1 {
			return MakeNilArray(), 1 + n, nil
		}

		if count < 0 || count > MaxArrayLen {
			return Value{}, 0, fmt.Errorf("%w: array length %d", ErrInvalidLength, count)
		}

		pos := 1 + n
		arr := make([]Value, 0, min(count, 1024))
		for i := int64(0); i < count; i++ {
			el, m, err := decode(buf[pos:], depth+1)
			if errors.Is(err, ErrIncomplete) && m > 0 {
				return Value{}, pos + m, err
			}
			if err != nil {
				return Value{}, 0, err
			}

			arr = append(arr, el)
			pos += m
		}

		return Value{Type: TypeArray, Array: arr}, pos, nil
	}

	return Value{}, 0, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, buf[0])
}

// readLine returns the line before CRLF and the number of bytes including CRLF
func readLine(b []byte, limit int) ([]byte, int, error) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		if len(b) > limit+1 {
			return nil, 0, fmt.Errorf("%w: line too long", ErrProtocol)
		}
		return nil, 0, ErrIncomplete
	}

	if idx == 0 || b[idx-1] != '\r' {
		return nil, 0, ErrInvalidEnding
	}

	if idx-1 > limit {
		return nil, 0, fmt.Errorf("%w: line too long", ErrProtocol)
	}

	return b[:idx-1], idx + 1, nil
}

func readNumber(b []byte) (int64, int, error) {
	line, n, err := readLine(b, maxNumberLen)
	if err != nil {
		return 0, 0, err
	}

	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid number %q", ErrProtocol, line)
	}

	return num, n, nil
}
