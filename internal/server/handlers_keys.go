package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

// del counts keys that were present, including expired keys not reclaimed yet
func del(ctx *commandContext) resp.Value {
	var deleted int64
	for _, key := range ctx.args {
		if ctx.storage.Delete(string(key)) {
			deleted++
		}
	}
	ctx.unchanged = deleted == 0
	return resp.MakeInteger(deleted)
}

// exists counts live keys; a key repeated in the arguments is counted every time
func exists(ctx *commandContext) resp.Value {
	var n int64
	for _, key := range ctx.args {
		if ctx.storage.Exists(string(key)) {
			n++
		}
	}
	return resp.MakeInteger(n)
}

func expire(ctx *commandContext) resp.Value {
	return expireGeneric(ctx, time.Second, false)
}

func pexpire(ctx *commandContext) resp.Value {
	return expireGeneric(ctx, time.Millisecond, false)
}

func expireat(ctx *commandContext) resp.Value {
	return expireGeneric(ctx, time.Second, true)
}

func pexpireat(ctx *commandContext) resp.Value {
	return expireGeneric(ctx, time.Millisecond, true)
}

// expireGeneric sets the TTL and logs the absolute deadline to the AOF as PEXPIREAT
func expireGeneric(ctx *commandContext, unit time.Duration, absolute bool) resp.Value {
	key := ctx.args[0]

	at, err := expireAtFromArg(ctx.name, ctx.args[1], unit, absolute, time.Now())
	if err != nil {
		return errorReply(err)
	}

	if !ctx.storage.ExpireAt(string(key), at) {
		ctx.unchanged = true
		return resp.MakeInteger(0)
	}

	ms := strconv.AppendInt(nil, at/int64(time.Millisecond), 10)
	ctx.propagate = &resp.Command{Name: "PEXPIREAT", Args: [][]byte{key, ms}}

	return resp.MakeInteger(1)
}

func persist(ctx *commandContext) resp.Value {
	return resp.MakeInteger(ctx.storage.Persist(string(ctx.args[0])))
}

// ttl returns the remaining time to live in seconds, rounded to the nearest second
func ttl(ctx *commandContext) resp.Value {
	remaining, status := ctx.storage.Expiry(string(ctx.args[0]))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status))
	}
	return resp.MakeInteger((remaining.Milliseconds() + 500) / 1000)
}

// pttl returns the remaining time to live in milliseconds
func pttl(ctx *commandContext) resp.Value {
	remaining, status := ctx.storage.Expiry(string(ctx.args[0]))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status))
	}
	return resp.MakeInteger(remaining.Milliseconds())
}

func typeCmd(ctx *commandContext) resp.Value {
	return resp.MakeSimpleString(ctx.storage.Type(string(ctx.args[0])).String())
}

func keys(ctx *commandContext) resp.Value {
	found := ctx.storage.Keys(string(ctx.args[0]))

	vals := make([]resp.Value, len(found))
	for i, key := range found {
		vals[i] = resp.MakeBulkString(key)
	}
	return resp.MakeArray(vals)
}

func dbsize(ctx *commandContext) resp.Value {
	return resp.MakeInteger(int64(ctx.storage.Len()))
}

// flushall accepts and ignores the ASYNC and SYNC modifiers
func flushall(ctx *commandContext) resp.Value {
	if len(ctx.args) > 1 {
		return errorReply(errSyntax)
	}
	if len(ctx.args) == 1 {
		switch strings.ToUpper(string(ctx.args[0])) {
		case "ASYNC", "SYNC":
		default:
			return errorReply(errSyntax)
		}
	}

	ctx.storage.Flush()
	return resp.MakeOK()
}
