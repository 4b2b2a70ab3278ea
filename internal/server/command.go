package server

import (
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
)

// commandContext carries everything a handler may touch while executing one command
type commandContext struct {
	name    string   // upper case command name
	args    [][]byte // arguments without the command name
	storage storage.Storage
	engine  *Engine

	// propagate replaces the command written to the AOF, for commands whose
	// effect depends on the time they run (relative TTLs)
	propagate *resp.Command

	// unchanged is set by write commands that left the keyspace as it was
	unchanged bool
}

type command interface {
	execute(ctx *commandContext) resp.Value
}

type commandFunc func(ctx *commandContext) resp.Value

func (c commandFunc) execute(ctx *commandContext) resp.Value {
	return c(ctx)
}
