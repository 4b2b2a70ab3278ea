package server

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
)

// ping returns PONG, or a copy of the argument as a bulk string
func ping(ctx *commandContext) resp.Value {
	switch len(ctx.args) {
	case 0:
		return resp.MakeSimpleString("PONG")
	case 1:
		return resp.MakeBulkBytes(ctx.args[0])
	default:
		return resp.MakeErrorWrongNumberOfArguments(ctx.name)
	}
}

func echo(ctx *commandContext) resp.Value {
	return resp.MakeBulkBytes(ctx.args[0])
}

// quit only replies, the session closes the connection after the reply is flushed
func quit(_ *commandContext) resp.Value {
	return resp.MakeOK()
}

// cmd COMMAND [COUNT | INFO [name ...] | DOCS [name ...]]
func cmd(ctx *commandContext) resp.Value {
	if len(ctx.args) == 0 {
		return getAllCommands()
	}

	sub := strings.ToUpper(string(ctx.args[0]))
	switch sub {
	case "COUNT":
		if len(ctx.args) != 1 {
			return resp.MakeErrorWrongNumberOfArguments("command|count")
		}
		return resp.MakeInteger(int64(len(commandRegistry)))
	case "INFO":
		return getCommandsInfo(ctx.args[1:])
	case "DOCS":
		return getCommandsDocs(ctx.args[1:])
	default:
		return resp.MakeError(fmt.Sprintf("ERR unknown subcommand '%s'. Try COMMAND HELP.", strings.ToLower(sub)))
	}
}

func save(ctx *commandContext) resp.Value {
	if err := ctx.engine.Save(); err != nil {
		return errorReply(err)
	}
	return resp.MakeOK()
}

// bgsave accepts and ignores the SCHEDULE modifier
func bgsave(ctx *commandContext) resp.Value {
	if len(ctx.args) > 1 || (len(ctx.args) == 1 && !strings.EqualFold(string(ctx.args[0]), "SCHEDULE")) {
		return errorReply(errSyntax)
	}

	if err := ctx.engine.BackgroundSave(); err != nil {
		return errorReply(err)
	}
	return resp.MakeSimpleString("Background saving started")
}

var infoSections = []string{"server", "clients", "stats", "persistence", "keyspace"}

// info INFO [section ...]. Without arguments, "all" or "default" every section is returned
func info(ctx *commandContext) resp.Value {
	wanted := make(map[string]bool)
	for _, arg := range ctx.args {
		section := strings.ToLower(string(arg))
		if section == "all" || section == "default" || section == "everything" {
			wanted = nil
			break
		}
		wanted[section] = true
	}

	var sb strings.Builder
	for _, section := range infoSections {
		if len(wanted) > 0 && !wanted[section] {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\r\n")
		}
		ctx.engine.writeInfoSection(&sb, section)
	}

	return resp.MakeBulkString(sb.String())
}

// writeInfoSection renders one INFO section as "# Name" followed by key:value lines
func (e *Engine) writeInfoSection(sb *strings.Builder, section string) {
	line := func(key string, val any) {
		fmt.Fprintf(sb, "%s:%v\r\n", key, val)
	}

	sb.WriteString("# " + strings.ToUpper(section[:1]) + section[1:] + "\r\n")

	switch section {
	case "server":
		line("moonkv_version", Version)
		line("go_version", runtime.Version())
		line("os", runtime.GOOS+" "+runtime.GOARCH)
		line("process_id", os.Getpid())
		line("tcp_port", e.cfg.Server.Port)
		line("uptime_in_seconds", int64(e.metrics.Uptime().Seconds()))
		line("shards", e.cfg.Storage.Shards)

	case "clients":
		line("connected_clients", e.metrics.ConnectedClients())
		line("maxclients", e.cfg.Server.MaxClients)

	case "stats":
		line("total_connections_received", e.metrics.TotalConnections())
		line("total_commands_processed", e.metrics.TotalCommands())
		line("instantaneous_ops_per_sec", fmt.Sprintf("%.2f", e.metrics.OpsPerSec()))
		line("expired_keys", e.storage.Expired())

	case "persistence":
		line("loading", 0)
		line("aof_enabled", boolToInt(e.aof != nil))
		if e.rdb != nil {
			line("rdb_bgsave_in_progress", boolToInt(e.rdb.InProgress()))
			line("rdb_last_save_time", e.rdb.LastSave().Unix())
			status := "ok"
			if e.rdb.LastSaveFailed() {
				status = "err"
			}
			line("rdb_last_bgsave_status", status)
		} else {
			line("rdb_bgsave_in_progress", 0)
		}

	case "keyspace":
		if n := e.storage.Len(); n > 0 {
			line("db0", fmt.Sprintf("keys=%d", n))
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
