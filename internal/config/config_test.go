package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func chdir(t *testing.T, dir string) {
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoad(t *testing.T) {
	// Test loading with no config file (should use defaults)
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "weave:", cfg.Store.Prefix)
	assert.Equal(t, 4, cfg.Engine.DumpDepth)
	assert.Equal(t, DumpNested, cfg.Engine.DumpStyle)
	assert.False(t, cfg.Engine.Simulate)
	assert.Equal(t, BackfillNone, cfg.Engine.Backfill)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadWithConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	configContent := `
store:
  backend: postgres
  url: postgres://localhost/weave
  table_prefix: dev_
engine:
  dump_depth: 2
  dump_style: side_loaded
  simulate: true
  backfill: ephemeral
log:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile("weave.yaml", []byte(configContent), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/weave", cfg.Store.URL)
	assert.Equal(t, "dev_", cfg.Store.TablePrefix)
	assert.Equal(t, 2, cfg.Engine.DumpDepth)
	assert.Equal(t, DumpSideLoaded, cfg.Engine.DumpStyle)
	assert.True(t, cfg.Engine.Simulate)
	assert.Equal(t, BackfillEphemeral, cfg.Engine.Backfill)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoadFileExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: redis\n  url: localhost:6379\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.URL)
}

func TestLoadFileMissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("WEAVE_STORE_BACKEND", "sqlite")
	t.Setenv("WEAVE_STORE_URL", "file:test.db")
	t.Setenv("WEAVE_ENGINE_DUMP_DEPTH", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "file:test.db", cfg.Store.URL)
	assert.Equal(t, 7, cfg.Engine.DumpDepth)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:  StoreConfig{Backend: BackendMemory},
			Engine: EngineConfig{DumpDepth: 4, DumpStyle: DumpNested},
			Log:    LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "dynamodb needs no url", mutate: func(c *Config) { c.Store.Backend = BackendDynamoDB }},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "mongo" }, wantErr: true},
		{name: "sql without url", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, wantErr: true},
		{name: "negative depth", mutate: func(c *Config) { c.Engine.DumpDepth = -1 }, wantErr: true},
		{name: "side loaded dumps", mutate: func(c *Config) { c.Engine.DumpStyle = DumpSideLoaded }},
		{name: "unknown dump style", mutate: func(c *Config) { c.Engine.DumpStyle = "flat" }, wantErr: true},
		{name: "unknown backfill", mutate: func(c *Config) { c.Engine.Backfill = "always" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := validateConfig(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := LogConfig{Level: "warn"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}
