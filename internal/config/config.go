package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of environment variables overriding config keys, e.g. MOONKV_SERVER_PORT
const EnvPrefix = "MOONKV"

// Config represents the root configuration structure for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	GC          GCConfig          `mapstructure:"gc" yaml:"gc"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig holds the network settings
type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       string `mapstructure:"port" yaml:"port"`
	MaxClients int    `mapstructure:"max_clients" yaml:"max_clients"` // 0 means unlimited
}

// StorageConfig defines the internal structure of the storage engine
type StorageConfig struct {
	Shards uint `mapstructure:"shards" yaml:"shards"`
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json, console
}

// PersistenceConfig defines settings of AOF and RDB methods
type PersistenceConfig struct {
	AOF AOFConfig `mapstructure:"aof" yaml:"aof"`
	RDB RDBConfig `mapstructure:"rdb" yaml:"rdb"`
}

// AOFConfig defines settings of AOF method
type AOFConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Filename string `mapstructure:"filename" yaml:"filename"`
	Fsync    string `mapstructure:"fsync" yaml:"fsync"` // always, everysec, no
}

// RDBConfig defines settings of RDB method
type RDBConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Filename    string        `mapstructure:"filename" yaml:"filename"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`       // 0 disables periodic saves
	Compression string        `mapstructure:"compression" yaml:"compression"` // none, zstd
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Load reads the configuration from a file and overrides it with environment variables.
// Flags bound with BindFlags take precedence over both
func Load(path string) (*Config, error) {
	loadEnvFiles()
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath(".")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	return current()
}

// Default returns the configuration made of defaults only
func Default() *Config {
	v := viper.New()
	setDefaultsOn(v)

	var cfg Config
	_ = v.Unmarshal(&cfg) //nolint:errcheck
	return &cfg
}

// BindFlags binds command line flags to config keys. Flag names are the keys
// with dots and underscores replaced by dashes, so "server-max-clients"
// overrides "server.max_clients". Other flags are left alone
func BindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key, ok := FlagKey(f.Name)
		if !ok {
			return
		}
		err = viper.BindPFlag(key, f)
	})
	return err
}

// FlagKey returns the config key a flag name stands for
func FlagKey(flag string) (string, bool) {
	for key := range defaults {
		if FlagName(key) == flag {
			return key, true
		}
	}
	return "", false
}

// FlagName returns the flag name for a config key
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Watch reloads the config file on change and passes the new config to onChange.
// Invalid configs are reported to onError and not applied
func Watch(onChange func(cfg *Config, e fsnotify.Event), onError func(err error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := current()
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg, e)
	})
	viper.WatchConfig()
}

// ConfigFile returns the path of the config file in use, empty when running on defaults
func ConfigFile() string {
	return viper.ConfigFileUsed()
}

func current() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFiles loads .env and .env.local into the process environment.
// Variables already set are not overridden, so .env.local is read first to win over .env
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file) //nolint:errcheck
		}
	}
}

// Validate rejects inconsistent values
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}

	if c.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients must be >= 0, got %d", c.Server.MaxClients)
	}

	if bits.OnesCount(c.Storage.Shards) != 1 || c.Storage.Shards > 256 {
		return fmt.Errorf("storage.shards must be a power of 2 up to 256, got %d", c.Storage.Shards)
	}

	if err := c.GC.Validate(); err != nil {
		return err
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Persistence.AOF.Fsync {
	case "always", "everysec", "no":
	default:
		return fmt.Errorf("persistence.aof.fsync must be always, everysec or no, got %q", c.Persistence.AOF.Fsync)
	}

	if c.Persistence.AOF.Enabled && c.Persistence.AOF.Filename == "" {
		return errors.New("persistence.aof.filename must not be empty")
	}

	if c.Persistence.RDB.Enabled && c.Persistence.RDB.Filename == "" {
		return errors.New("persistence.rdb.filename must not be empty")
	}

	if c.Persistence.RDB.Interval < 0 {
		return fmt.Errorf("persistence.rdb.interval must be >= 0, got %s", c.Persistence.RDB.Interval)
	}

	switch c.Persistence.RDB.Compression {
	case "none", "zstd":
	default:
		return fmt.Errorf("persistence.rdb.compression must be none or zstd, got %q", c.Persistence.RDB.Compression)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must not be empty")
	}

	return nil
}

func setDefaults() {
	setDefaultsOn(viper.GetViper())
}

// setDefaultsOn populates viper with fallback values if they are not provided via file or ENV
func setDefaultsOn(v *viper.Viper) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}

var defaults = map[string]any{
	// Server
	"server.host":        "0.0.0.0",
	"server.port":        "6380",
	"server.max_clients": 10000,

	// Storage
	"storage.shards": 32,

	// GC
	"gc.enabled":           true,
	"gc.interval":          "100ms",
	"gc.samples_per_check": 20,
	"gc.match_threshold":   0.25,
	"gc.max_rounds":        16,

	// Logger
	"log.level":  "info",
	"log.format": "json",

	// Persistence
	"persistence.aof.enabled":  false,
	"persistence.aof.filename": "appendonly.aof",
	"persistence.aof.fsync":    "everysec",

	"persistence.rdb.enabled":     true,
	"persistence.rdb.filename":    "dump.rdb",
	"persistence.rdb.interval":    "5m",
	"persistence.rdb.compression": "zstd",

	// Metrics
	"metrics.enabled": false,
	"metrics.addr":    "127.0.0.1:9121",
}
