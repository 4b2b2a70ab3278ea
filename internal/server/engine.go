package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/metrics"
	"github.com/eternalApril/moonkv/internal/persistence"
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/eternalApril/moonkv/internal/storage"
	"go.uber.org/zap"
)

// Version of the server reported by INFO and the CLI
var Version = "0.4.0"

var errRDBDisabled = errors.New("ERR RDB persistence is disabled")

// Engine coordinates the execution of commands and manages the background tasks of the repository
type Engine struct {
	commands map[string]command // Registry of available commands (the key is the command name in uppercase)
	storage  storage.Storage    // Interface to the underlying KV storage
	cfg      *config.Config     // Configuration engine
	stop     chan struct{}      // Channel for the background loops stop signal
	stopOnce sync.Once          // Ensures that the stop happens only once
	wg       sync.WaitGroup     // Background loops
	aof      *persistence.AOF   // AOF instance, nil when disabled
	rdb      *persistence.RDB   // RDB instance, nil when disabled
	metrics  *metrics.Registry  // Counters behind INFO and /metrics
	seq      writeSequencer     // Orders writes and their AOF records per key
	logger   *zap.Logger
}

// NewEngine initializes the engine, registers the commands, restores the dataset and
// if enabled in the config, starts background cleanup of outdated keys and periodic snapshots
func NewEngine(s storage.Storage, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	engine := &Engine{
		commands: make(map[string]command),
		storage:  s,
		cfg:      cfg,
		stop:     make(chan struct{}),
		metrics:  metrics.New(),
		logger:   logger,
	}
	engine.registerBasicCommand()
	engine.metrics.RegisterKeyspace(s)

	if cfg.Persistence.RDB.Enabled {
		engine.rdb = persistence.NewRDB(cfg.Persistence.RDB.Filename, cfg.Persistence.RDB.Compression, logger)
	}

	if err := engine.restore(); err != nil {
		engine.metrics.Stop()
		return nil, err
	}

	if cfg.Persistence.AOF.Enabled {
		aof, err := persistence.NewAOF(cfg.Persistence.AOF.Filename, cfg.Persistence.AOF.Fsync, logger)
		if err != nil {
			engine.metrics.Stop()
			return nil, err
		}
		engine.aof = aof
	}

	if engine.rdb != nil && cfg.Persistence.RDB.Interval > 0 {
		engine.wg.Add(1)
		go engine.startAutoSave(cfg.Persistence.RDB.Interval)
	}

	if cfg.GC.Enabled {
		engine.wg.Add(1)
		go engine.startGCLoop()
	}

	return engine, nil
}

// restore loads the dataset. The AOF holds every acknowledged write, so when it is
// enabled it wins over the snapshot
func (e *Engine) restore() error {
	if e.cfg.Persistence.AOF.Enabled {
		e.logger.Info("Restoring AOF...", zap.String("file", e.cfg.Persistence.AOF.Filename))

		n, err := persistence.ReplayFile(e.cfg.Persistence.AOF.Filename, e.logger, func(cmd resp.Command) {
			if res, _ := e.dispatch(cmd); res.IsError() {
				e.logger.Warn("AOF command failed on replay",
					zap.String("cmd", cmd.Name),
					zap.ByteString("error", res.String),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("restore aof: %w", err)
		}

		e.logger.Info("AOF restore finished", zap.Int("commands", n))
		return nil
	}

	if e.rdb != nil {
		if _, err := e.rdb.Load(e.storage); err != nil {
			return fmt.Errorf("restore rdb: %w", err)
		}
	}

	return nil
}

func (e *Engine) startAutoSave(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.rdb.BackgroundSave(e.storage); err != nil {
				e.logger.Debug("Auto-save RDB skipped", zap.Error(err))
			}
		case <-e.stop:
			return
		}
	}
}

// startGCLoop triggers the active expiration mechanism
func (e *Engine) startGCLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.GC.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.activeExpireCycle()
		case <-e.stop:
			e.logger.Info("GC stopped")
			return
		}
	}
}

// activeExpireCycle samples keys with a TTL and repeats right away while the share
// of expired keys in the sample stays above the threshold
func (e *Engine) activeExpireCycle() int {
	maxRounds := max(e.cfg.GC.MaxRounds, 1)

	rounds := 0
	for rounds < maxRounds {
		ratio := e.storage.DeleteExpired(e.cfg.GC.SamplesPerCheck)
		rounds++

		if ratio > 0 && e.logger.Core().Enabled(zap.DebugLevel) {
			e.logger.Debug("GC delete expired", zap.Float64("expired_ratio", ratio), zap.Int("round", rounds))
		}

		if ratio <= e.cfg.GC.MatchThreshold {
			break
		}

		select {
		case <-e.stop:
			return rounds
		default:
		}
	}
	return rounds
}

// register adds a new command to the engine. The command name is uppercase
func (e *Engine) register(name string, cmd command) {
	name = strings.ToUpper(name)
	if _, ok := commandRegistry[name]; !ok {
		panic("server: command without metadata: " + name)
	}
	e.commands[name] = cmd
}

// registerBasicCommand fills the registry with standard commands
func (e *Engine) registerBasicCommand() {
	// connection
	e.register("PING", commandFunc(ping))
	e.register("ECHO", commandFunc(echo))
	e.register("QUIT", commandFunc(quit))
	e.register("COMMAND", commandFunc(cmd))

	// generic
	e.register("DEL", commandFunc(del))
	e.register("EXISTS", commandFunc(exists))
	e.register("EXPIRE", commandFunc(expire))
	e.register("PEXPIRE", commandFunc(pexpire))
	e.register("EXPIREAT", commandFunc(expireat))
	e.register("PEXPIREAT", commandFunc(pexpireat))
	e.register("PERSIST", commandFunc(persist))
	e.register("TTL", commandFunc(ttl))
	e.register("PTTL", commandFunc(pttl))
	e.register("TYPE", commandFunc(typeCmd))
	e.register("KEYS", commandFunc(keys))
	e.register("DBSIZE", commandFunc(dbsize))
	e.register("FLUSHALL", commandFunc(flushall))

	// string
	e.register("GET", commandFunc(get))
	e.register("SET", commandFunc(set))
	e.register("INCR", commandFunc(incr))
	e.register("DECR", commandFunc(decr))
	e.register("INCRBY", commandFunc(incrByCmd))
	e.register("DECRBY", commandFunc(decrByCmd))
	e.register("APPEND", commandFunc(appendCmd))
	e.register("STRLEN", commandFunc(strlen))
	e.register("MGET", commandFunc(mget))
	e.register("MSET", commandFunc(mset))

	// list
	e.register("LPUSH", commandFunc(lpush))
	e.register("RPUSH", commandFunc(rpush))
	e.register("LPOP", commandFunc(lpop))
	e.register("RPOP", commandFunc(rpop))
	e.register("LRANGE", commandFunc(lrange))
	e.register("LLEN", commandFunc(llen))
	e.register("LINDEX", commandFunc(lindex))

	// set
	e.register("SADD", commandFunc(sadd))
	e.register("SREM", commandFunc(srem))
	e.register("SMEMBERS", commandFunc(smembers))
	e.register("SISMEMBER", commandFunc(sismember))
	e.register("SCARD", commandFunc(scard))

	// hash
	e.register("HSET", commandFunc(hset))
	e.register("HGET", commandFunc(hget))
	e.register("HDEL", commandFunc(hdel))
	e.register("HGETALL", commandFunc(hgetall))
	e.register("HEXISTS", commandFunc(hexists))
	e.register("HLEN", commandFunc(hlen))
	e.register("HKEYS", commandFunc(hkeys))
	e.register("HVALS", commandFunc(hvals))

	// server
	e.register("INFO", commandFunc(info))
	e.register("SAVE", commandFunc(save))
	e.register("BGSAVE", commandFunc(bgsave))
}

// Dispatch validates and executes one command and returns its reply.
// Successful write commands are appended to the AOF
func (e *Engine) Dispatch(cmd resp.Command) resp.Value {
	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", cmd.Name),
			zap.Int("args_count", len(cmd.Args)),
		)
	}

	if e.aof != nil {
		// the store change and the AOF append happen under the same key lock
		if meta, ok := commandRegistry[cmd.Name]; ok && meta.isWrite() && meta.checkArity(len(cmd.Args)) {
			unlock := e.seq.lock(meta, cmd.Args)
			defer unlock()
		}
	}

	res, ctx := e.dispatch(cmd)

	if _, known := e.commands[cmd.Name]; !known {
		if cmd.Name != "" {
			e.metrics.UnknownCommand()
		}
		return res
	}

	e.metrics.Command(cmd.Name)
	if res.IsError() {
		e.metrics.CommandError(cmd.Name)
		return res
	}

	if e.aof != nil && ctx != nil && !ctx.unchanged && commandRegistry[cmd.Name].isWrite() {
		logged := cmd
		if ctx.propagate != nil {
			logged = *ctx.propagate
		}
		if err := e.aof.Append(logged); err != nil {
			e.logger.Error("Failed to append command to AOF", zap.String("cmd", cmd.Name), zap.Error(err))
		}
	}

	return res
}

// Execute finds the command by name and executes it with the passed arguments.
// If the command is not found, returns an error in the RESP format
func (e *Engine) Execute(name string, args [][]byte) resp.Value {
	return e.Dispatch(resp.Command{Name: strings.ToUpper(name), Args: args})
}

// dispatch runs the command without side channels. The context is nil when the
// command did not reach a handler
func (e *Engine) dispatch(cmd resp.Command) (resp.Value, *commandContext) {
	if cmd.Name == "" {
		return resp.MakeError("ERR no command given"), nil
	}

	handler, ok := e.commands[cmd.Name]
	if !ok {
		return resp.MakeError(fmt.Sprintf("ERR unknown command '%s'", cmd.Name)), nil
	}

	if !commandRegistry[cmd.Name].checkArity(len(cmd.Args)) {
		return resp.MakeErrorWrongNumberOfArguments(cmd.Name), nil
	}

	ctx := &commandContext{
		name:    cmd.Name,
		args:    cmd.Args,
		storage: e.storage,
		engine:  e,
	}

	return handler.execute(ctx), ctx
}

// Save writes a snapshot in the foreground
func (e *Engine) Save() error {
	if e.rdb == nil {
		return errRDBDisabled
	}
	return e.rdb.Save(e.storage)
}

// BackgroundSave starts a snapshot unless one is already running
func (e *Engine) BackgroundSave() error {
	if e.rdb == nil {
		return errRDBDisabled
	}
	return e.rdb.BackgroundSave(e.storage)
}

// Metrics returns the registry the engine reports to
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// Storage returns the keyspace the engine works on
func (e *Engine) Storage() storage.Storage {
	return e.storage
}

// Shutdown shuts down the engine and its background services correctly:
// loops stop, a final snapshot is written and the AOF is synced
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
		e.logger.Info("Background processes stopped")

		if e.rdb != nil {
			e.rdb.Wait()
			if err := e.rdb.Save(e.storage); err != nil {
				e.logger.Error("Final RDB save failed", zap.Error(err))
			}
		}

		if e.aof != nil {
			if err := e.aof.Close(); err != nil {
				e.logger.Error("AOF close failed", zap.Error(err))
			}
		}

		e.metrics.Stop()
	})
}
