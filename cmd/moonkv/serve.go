package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/logger"
	"github.com/eternalApril/moonkv/internal/server"
	"github.com/eternalApril/moonkv/internal/storage"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the moonkv server",
	Long: `Start the moonkv server. The configuration is read from config.yaml in the
directory given by --config (or the working directory), then overridden by
environment variables MOONKV_<KEY> (e.g. MOONKV_SERVER_PORT=6380) and finally by flags.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

// addServeFlags registers one flag per config key a user commonly overrides.
// Defaults come from the config layer, flags only win when they are set
func addServeFlags(cmd *cobra.Command) {
	def := config.Default()
	flags := cmd.Flags()

	flags.String("config", "", wrapString("Directory containing config.yaml"))

	flags.String(config.FlagName("server.host"), def.Server.Host, wrapString("Address to listen on"))
	flags.String(config.FlagName("server.port"), def.Server.Port, wrapString("Port to listen on"))
	flags.Int(config.FlagName("server.max_clients"), def.Server.MaxClients, wrapString("Maximum number of connected clients, 0 means unlimited"))
	flags.Uint(config.FlagName("storage.shards"), def.Storage.Shards, wrapString("Number of keyspace shards, a power of 2 up to 256"))

	flags.String(config.FlagName("log.level"), def.Log.Level, wrapString("Log level (debug, info, warn, error)"))
	flags.String(config.FlagName("log.format"), def.Log.Format, wrapString("Log format (json, console)"))

	flags.Bool(config.FlagName("persistence.aof.enabled"), def.Persistence.AOF.Enabled, wrapString("Log every write to the append-only file"))
	flags.String(config.FlagName("persistence.aof.filename"), def.Persistence.AOF.Filename, wrapString("Path of the append-only file"))
	flags.String(config.FlagName("persistence.aof.fsync"), def.Persistence.AOF.Fsync, wrapString("AOF fsync policy (always, everysec, no)"))
	flags.Bool(config.FlagName("persistence.rdb.enabled"), def.Persistence.RDB.Enabled, wrapString("Write periodic snapshots"))
	flags.String(config.FlagName("persistence.rdb.filename"), def.Persistence.RDB.Filename, wrapString("Path of the snapshot file"))
	flags.Duration(config.FlagName("persistence.rdb.interval"), def.Persistence.RDB.Interval, wrapString("Time between automatic snapshots, 0 disables them"))

	flags.Bool(config.FlagName("metrics.enabled"), def.Metrics.Enabled, wrapString("Expose Prometheus metrics over HTTP"))
	flags.String(config.FlagName("metrics.addr"), def.Metrics.Addr, wrapString("Address of the metrics endpoint"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.BindFlags(cmd.Flags()); err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, level, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("moonkv starting",
		zap.String("version", server.Version),
		zap.String("port", cfg.Server.Port),
		zap.Uint("shards", cfg.Storage.Shards),
		zap.String("config_file", config.ConfigFile()),
	)

	if config.ConfigFile() != "" {
		config.Watch(func(next *config.Config, e fsnotify.Event) {
			if err := logger.SetLevel(level, next.Log.Level); err != nil {
				log.Warn("config reload: bad log level", zap.Error(err))
				return
			}
			log.Info("config reloaded", zap.String("file", e.Name), zap.String("log_level", next.Log.Level))
		}, func(err error) {
			log.Warn("config reload rejected", zap.Error(err))
		})
	}

	db, err := storage.NewShardedMapStorage(cfg.Storage.Shards)
	if err != nil {
		log.Error("cant initialize storage", zap.Error(err))
		return err
	}

	engine, err := server.NewEngine(db, cfg, log)
	if err != nil {
		log.Error("cant initialize engine", zap.Error(err))
		return err
	}
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := engine.Metrics().Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(engine, cfg.Server, log)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("listener error", zap.Error(err))
		return err
	}

	log.Info("moonkv stopped")
	return nil
}
