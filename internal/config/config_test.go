package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "reference/enums", cfg.EnumsDir)
	assert.True(t, cfg.Bootstrap)
	assert.True(t, cfg.UUIDDefault)
	assert.False(t, cfg.AdvisoryLock)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Pool.ConnMaxLifetime)
	assert.Error(t, cfg.RequireDB())
}

func TestFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityforge.yaml")
	src := `port: "9090"
db_url: postgres://file
schema: tenant_a
advisory_lock: true
protected_tables: [audit_log]
log:
  format: json
  level: debug
pool:
  max_open_conns: 3
  conn_max_lifetime: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	t.Setenv("ENTITYFORGE_DB_URL", "postgres://env")
	t.Setenv("ENTITYFORGE_LOG_LEVEL", "warn")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://env", cfg.DBURL, "окружение важнее файла")
	assert.Equal(t, "tenant_a", cfg.Schema)
	assert.True(t, cfg.AdvisoryLock)
	assert.Equal(t, []string{"audit_log"}, cfg.ProtectedTables)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Pool.MaxOpenConns)
	assert.Equal(t, time.Minute, cfg.Pool.ConnMaxLifetime)
	assert.NoError(t, cfg.RequireDB())

	opts := cfg.PoolOptions()
	assert.Equal(t, 3, opts.MaxOpenConns)
	assert.Equal(t, "tenant_a", opts.Schema, "DDL и каталог в одной схеме")
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Port: "8080", Schema: "public", Log: LogConfig{Format: "text", Level: "info"}}
	require.NoError(t, base.Validate())

	tests := map[string]func(c *Config){
		"empty port":  func(c *Config) { c.Port = "" },
		"bad format":  func(c *Config) { c.Log.Format = "xml" },
		"bad level":   func(c *Config) { c.Log.Level = "loud" },
		"bad schema":  func(c *Config) { c.Schema = "a;drop" },
		"digit first": func(c *Config) { c.Schema = "1abc" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Log: LogConfig{Format: "json", Level: "warn"}}
	log := cfg.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", "entity", "Book")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), out)
	assert.Contains(t, out, `"entity":"Book"`)
}
