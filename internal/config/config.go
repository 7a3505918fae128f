package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Backend names accepted by store.backend
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Backfill modes accepted by engine.backfill
const (
	BackfillNone       = ""
	BackfillEphemeral  = "ephemeral"
	BackfillPersistent = "persistent"
)

// Dump styles accepted by engine.dump_style
const (
	DumpNested     = "nested"
	DumpSideLoaded = "side_loaded"
)

// EnvPrefix namespaces environment overrides, e.g. WEAVE_STORE_URL
const EnvPrefix = "WEAVE"

// Config represents the weave configuration
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Engine EngineConfig `mapstructure:"engine"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects and addresses the storage backend
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// URL is a DSN for sql backends, an address for redis
	URL         string `mapstructure:"url"`
	Prefix      string `mapstructure:"prefix"`
	TablePrefix string `mapstructure:"table_prefix"`
	Region      string `mapstructure:"region"`
}

// EngineConfig tunes query execution and dumping
type EngineConfig struct {
	DumpDepth int    `mapstructure:"dump_depth"`
	DumpStyle string `mapstructure:"dump_style"`
	Simulate  bool   `mapstructure:"simulate"`
	Backfill  string `mapstructure:"backfill"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.url", "")
	v.SetDefault("store.prefix", "weave:")
	v.SetDefault("store.table_prefix", "")
	v.SetDefault("store.region", "")
	v.SetDefault("engine.dump_depth", 4)
	v.SetDefault("engine.dump_style", DumpNested)
	v.SetDefault("engine.simulate", false)
	v.SetDefault("engine.backfill", BackfillNone)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load loads the configuration from weave.yml or weave.yaml in the working
// directory, falling back to defaults when neither exists
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads the configuration from path, or searches the working
// directory when path is empty. WEAVE_* environment variables override
// file values.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weave")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres, BackendRedis:
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required for the %s backend", cfg.Store.Backend)
		}
	case BackendDynamoDB:
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite, postgres, redis, dynamodb, got: %s", cfg.Store.Backend)
	}

	if cfg.Engine.DumpDepth < 0 {
		return fmt.Errorf("engine.dump_depth must not be negative, got: %d", cfg.Engine.DumpDepth)
	}

	switch cfg.Engine.DumpStyle {
	case DumpNested, DumpSideLoaded:
	default:
		return fmt.Errorf("engine.dump_style must be nested or side_loaded, got: %s", cfg.Engine.DumpStyle)
	}

	switch cfg.Engine.Backfill {
	case BackfillNone, BackfillEphemeral, BackfillPersistent:
	default:
		return fmt.Errorf("engine.backfill must be empty, ephemeral or persistent, got: %s", cfg.Engine.Backfill)
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// NewLogger builds the zap logger described by cfg
func (cfg LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
