package server

import (
	"github.com/eternalApril/moonkv/internal/resp"
)

func sadd(ctx *commandContext) resp.Value {
	n, err := ctx.storage.SAdd(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func srem(ctx *commandContext) resp.Value {
	n, err := ctx.storage.SRem(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func smembers(ctx *commandContext) resp.Value {
	members, err := ctx.storage.SMembers(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBulkArray(members)
}

func sismember(ctx *commandContext) resp.Value {
	ok, err := ctx.storage.SIsMember(string(ctx.args[0]), ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBool(ok)
}

func scard(ctx *commandContext) resp.Value {
	n, err := ctx.storage.SCard(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}
