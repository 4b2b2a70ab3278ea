package server

import (
	"github.com/eternalApril/moonkv/internal/resp"
)

// hset HSET key field value [field value ...]
func hset(ctx *commandContext) resp.Value {
	if len(ctx.args)%2 != 1 {
		return resp.MakeErrorWrongNumberOfArguments(ctx.name)
	}

	n, err := ctx.storage.HSet(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func hget(ctx *commandContext) resp.Value {
	val, ok, err := ctx.storage.HGet(string(ctx.args[0]), ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return resp.MakeNilBulkString()
	}
	return resp.MakeBulkBytes(val)
}

func hdel(ctx *commandContext) resp.Value {
	n, err := ctx.storage.HDel(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func hgetall(ctx *commandContext) resp.Value {
	flat, err := ctx.storage.HGetAll(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBulkArray(flat)
}

func hexists(ctx *commandContext) resp.Value {
	ok, err := ctx.storage.HExists(string(ctx.args[0]), ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBool(ok)
}

func hlen(ctx *commandContext) resp.Value {
	n, err := ctx.storage.HLen(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func hkeys(ctx *commandContext) resp.Value {
	fields, err := ctx.storage.HKeys(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBulkArray(fields)
}

func hvals(ctx *commandContext) resp.Value {
	vals, err := ctx.storage.HVals(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBulkArray(vals)
}
