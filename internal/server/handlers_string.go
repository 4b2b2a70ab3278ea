package server

import (
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

// get returns the value of a key, nil if the key does not exist
func get(ctx *commandContext) resp.Value {
	val, ok, err := ctx.storage.Get(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return resp.MakeNilBulkString()
	}
	return resp.MakeBulkBytes(val)
}

// set SET key value [NX | XX] [GET] [EX seconds | PX milliseconds | EXAT unix-time-seconds | PXAT unix-time-milliseconds | KEEPTTL]
func set(ctx *commandContext) resp.Value {
	key, value := ctx.args[0], ctx.args[1]

	parsed, err := parseSetOptions(ctx.args[2:], time.Now())
	if err != nil {
		return errorReply(err)
	}

	res, err := ctx.storage.Set(string(key), value, parsed.opts)
	if err != nil {
		return errorReply(err)
	}
	ctx.unchanged = !res.Written

	// relative expirations are logged as absolute ones, so a replay ends at the same instant
	if parsed.expireArg != nil {
		args := [][]byte{key, value, []byte("PXAT"), parsed.expireArg}
		if parsed.opts.NX {
			args = append(args, []byte("NX"))
		}
		if parsed.opts.XX {
			args = append(args, []byte("XX"))
		}
		ctx.propagate = &resp.Command{Name: "SET", Args: args}
	}

	if parsed.opts.Get {
		if !res.HadOld {
			return resp.MakeNilBulkString()
		}
		return resp.MakeBulkBytes(res.Old)
	}

	if !res.Written {
		return resp.MakeNilBulkString()
	}

	return resp.MakeOK()
}

func incr(ctx *commandContext) resp.Value {
	return incrBy(ctx, 1)
}

func decr(ctx *commandContext) resp.Value {
	return incrBy(ctx, -1)
}

func incrByCmd(ctx *commandContext) resp.Value {
	delta, err := parseInt(ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	return incrBy(ctx, delta)
}

func decrByCmd(ctx *commandContext) resp.Value {
	delta, err := parseInt(ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	if delta == -delta && delta != 0 {
		// math.MinInt64 cannot be negated
		return errorReply(storage.ErrOverflow)
	}
	return incrBy(ctx, -delta)
}

func incrBy(ctx *commandContext, delta int64) resp.Value {
	n, err := ctx.storage.IncrBy(string(ctx.args[0]), delta)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func appendCmd(ctx *commandContext) resp.Value {
	n, err := ctx.storage.Append(string(ctx.args[0]), ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func strlen(ctx *commandContext) resp.Value {
	n, err := ctx.storage.StrLen(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

// mget returns nil for keys that are missing or do not hold a string
func mget(ctx *commandContext) resp.Value {
	vals := make([]resp.Value, len(ctx.args))
	for i, key := range ctx.args {
		val, ok, err := ctx.storage.Get(string(key))
		if err != nil || !ok {
			vals[i] = resp.MakeNilBulkString()
			continue
		}
		vals[i] = resp.MakeBulkBytes(val)
	}
	return resp.MakeArray(vals)
}

// mset sets every pair. Each key is atomic on its own, the command as a whole is not
func mset(ctx *commandContext) resp.Value {
	if len(ctx.args)%2 != 0 {
		return resp.MakeErrorWrongNumberOfArguments(ctx.name)
	}

	for i := 0; i < len(ctx.args); i += 2 {
		if _, err := ctx.storage.Set(string(ctx.args[i]), ctx.args[i+1], storage.SetOptions{}); err != nil {
			return errorReply(err)
		}
	}
	return resp.MakeOK()
}
