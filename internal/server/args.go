package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

var (
	errSyntax     = errors.New("ERR syntax error")
	errNotInteger = storage.ErrNotInteger
	errOutOfRange = errors.New("ERR value is out of range, must be positive")
)

// errInvalidExpire builds the error for a non-positive or overflowing expire time
func errInvalidExpire(name string) error {
	return fmt.Errorf("ERR invalid expire time in '%s' command", strings.ToLower(name))
}

// errorReply converts an error into a RESP error. Errors that already carry
// a redis error code are sent as is
func errorReply(err error) resp.Value {
	msg := err.Error()
	if strings.HasPrefix(msg, "ERR ") || strings.HasPrefix(msg, "WRONGTYPE ") {
		return resp.MakeError(msg)
	}
	return resp.MakeError("ERR " + msg)
}

// parseInt parses a signed 64 bit decimal integer
func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

// expireAtFromArg converts an expire argument to absolute unix nanoseconds.
// unit is the size of one argument step; absolute marks timestamps instead of durations
func expireAtFromArg(name string, arg []byte, unit time.Duration, absolute bool, now time.Time) (int64, error) {
	n, err := parseInt(arg)
	if err != nil {
		return 0, err
	}

	if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
		return 0, errInvalidExpire(name)
	}
	ns := n * int64(unit)

	if absolute {
		return ns, nil
	}

	base := now.UnixNano()
	if (ns > 0 && base > math.MaxInt64-ns) || (ns < 0 && base < math.MinInt64-ns) {
		return 0, errInvalidExpire(name)
	}
	return base + ns, nil
}

// setArgs are the parsed options of SET
type setArgs struct {
	opts storage.SetOptions
	// expireArg is the PXAT form of the expiration for the AOF, nil without expiration
	expireArg []byte
}

// parseSetOptions parses NX | XX, GET, EX | PX | EXAT | PXAT | KEEPTTL.
// Conflicting options are a syntax error and nothing reaches the storage
func parseSetOptions(args [][]byte, now time.Time) (setArgs, error) {
	var (
		res        setArgs
		ttlOptions int
	)

	for i := 0; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))

		switch opt {
		case "NX":
			if res.opts.XX {
				return res, errSyntax
			}
			res.opts.NX = true

		case "XX":
			if res.opts.NX {
				return res, errSyntax
			}
			res.opts.XX = true

		case "GET":
			res.opts.Get = true

		case "KEEPTTL":
			ttlOptions++
			res.opts.KeepTTL = true

		case "EX", "PX", "EXAT", "PXAT":
			ttlOptions++
			if i+1 >= len(args) {
				return res, errSyntax
			}
			i++

			n, err := parseInt(args[i])
			if err != nil {
				return res, err
			}
			if n <= 0 {
				return res, errInvalidExpire("set")
			}

			unit := time.Second
			if opt == "PX" || opt == "PXAT" {
				unit = time.Millisecond
			}

			at, err := expireAtFromArg("set", args[i], unit, opt == "EXAT" || opt == "PXAT", now)
			if err != nil {
				return res, err
			}
			res.opts.ExpireAt = at

		default:
			return res, errSyntax
		}

		if ttlOptions > 1 {
			return res, errSyntax
		}
	}

	if res.opts.ExpireAt != 0 {
		res.expireArg = strconv.AppendInt(nil, res.opts.ExpireAt/int64(time.Millisecond), 10)
	}

	return res, nil
}
