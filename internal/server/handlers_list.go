package server

import (
	"github.com/eternalApril/moonkv/internal/resp"
)

func lpush(ctx *commandContext) resp.Value {
	n, err := ctx.storage.LPush(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func rpush(ctx *commandContext) resp.Value {
	n, err := ctx.storage.RPush(string(ctx.args[0]), ctx.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func lpop(ctx *commandContext) resp.Value {
	return popGeneric(ctx, true)
}

func rpop(ctx *commandContext) resp.Value {
	return popGeneric(ctx, false)
}

// popGeneric LPOP/RPOP key [count]. Without count the reply is a single bulk string,
// with count an array; a missing key gives nil in both forms
func popGeneric(ctx *commandContext, front bool) resp.Value {
	if len(ctx.args) > 2 {
		return resp.MakeErrorWrongNumberOfArguments(ctx.name)
	}

	key := string(ctx.args[0])
	withCount := len(ctx.args) == 2
	count := 1

	if withCount {
		n, err := parseInt(ctx.args[1])
		if err != nil {
			return errorReply(errOutOfRange)
		}
		if n < 0 {
			return errorReply(errOutOfRange)
		}
		count = int(min(n, int64(maxPopCount)))
	}

	var (
		popped [][]byte
		err    error
	)
	if front {
		popped, err = ctx.storage.LPop(key, count)
	} else {
		popped, err = ctx.storage.RPop(key, count)
	}
	if err != nil {
		return errorReply(err)
	}

	if !withCount {
		if len(popped) == 0 {
			return resp.MakeNilBulkString()
		}
		return resp.MakeBulkBytes(popped[0])
	}

	if popped == nil {
		return resp.MakeNilArray()
	}
	return resp.MakeBulkArray(popped)
}

// maxPopCount caps the count argument, a list never holds more elements than this
const maxPopCount = 1 << 30

func lrange(ctx *commandContext) resp.Value {
	start, err := parseInt(ctx.args[1])
	if err != nil {
		return errorReply(err)
	}
	stop, err := parseInt(ctx.args[2])
	if err != nil {
		return errorReply(err)
	}

	items, err := ctx.storage.LRange(string(ctx.args[0]), start, stop)
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeBulkArray(items)
}

func llen(ctx *commandContext) resp.Value {
	n, err := ctx.storage.LLen(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}

func lindex(ctx *commandContext) resp.Value {
	index, err := parseInt(ctx.args[1])
	if err != nil {
		return errorReply(err)
	}

	val, ok, err := ctx.storage.LIndex(string(ctx.args[0]), index)
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return resp.MakeNilBulkString()
	}
	return resp.MakeBulkBytes(val)
}
