package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPartitions, cfg.Database.Partitions)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "users", cfg.Database.Table)
	assert.Equal(t, DefaultSecondaryLimit, cfg.Secondary.Limit)
	assert.Empty(t, cfg.Secondary.URL)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rangeview.yaml")
	yml := `
web:
  listen_port: 18080
database:
  driver: postgres
  dsn: postgres://localhost/app?sslmode=disable
  partitions: 5
  concurrent: true
  query_timeout: 3s
secondary:
  url: postgres://neon/app
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, LoadFile(cfg, path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 18080, cfg.Web.ListenPort)
	assert.Equal(t, DefaultRateLimitPerMinute, cfg.Web.RateLimitPerMinute, "missing keys keep defaults")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Database.Partitions)
	assert.True(t, cfg.Database.Concurrent)
	assert.Equal(t, 3*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, "users", cfg.Database.Table)
	assert.Equal(t, "postgres://neon/app", cfg.Secondary.URL)
}

func TestLoadFileErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Error(t, LoadFile(cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web: [unclosed"), 0o644))
	assert.Error(t, LoadFile(cfg, path))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RANGEVIEW_WEB_LISTEN_PORT", "12345")
	t.Setenv("RANGEVIEW_DATABASE_PARTITIONS", "7")
	t.Setenv("RANGEVIEW_DATABASE_SNAPSHOT_READS", "true")
	t.Setenv("RANGEVIEW_DATABASE_QUERY_TIMEOUT", "250ms")
	t.Setenv("DB_URL", "postgres://legacy/db")

	cfg := NewDefaultConfig()
	require.NoError(t, ApplyEnv(cfg, EnvPrefix))

	assert.Equal(t, 12345, cfg.Web.ListenPort)
	assert.Equal(t, 7, cfg.Database.Partitions)
	assert.True(t, cfg.Database.SnapshotReads)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.QueryTimeout)
	assert.Equal(t, "postgres://legacy/db", cfg.Secondary.URL)
	// untouched
	assert.Equal(t, "data/rangeview.sq3", cfg.Database.DSN)
	assert.Equal(t, DefaultTable, cfg.Database.Table)
}

func TestApplyEnvLegacyBinding(t *testing.T) {
	t.Setenv("DB", "/tmp/legacy.sq3")
	cfg := NewDefaultConfig()
	require.NoError(t, ApplyEnv(cfg, EnvPrefix))
	assert.Equal(t, "/tmp/legacy.sq3", cfg.Database.DSN)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "RANGEVIEW_WEB_LISTEN_PORT", EnvName(EnvPrefix, "web.listen_port"))
	assert.Equal(t, "RANGEVIEW_SENTRY_DSN", EnvName(EnvPrefix, "sentry_dsn"))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*MainConfig){
		"port":      func(c *MainConfig) { c.Web.ListenPort = 80 },
		"ssl":       func(c *MainConfig) { c.Web.SSL = true },
		"driver":    func(c *MainConfig) { c.Database.Driver = "mysql" },
		"table":     func(c *MainConfig) { c.Database.Table = "users; --" },
		"zero k":    func(c *MainConfig) { c.Database.Partitions = 0 },
		"huge k":    func(c *MainConfig) { c.Database.Partitions = MaxPartitions + 1 },
		"workers":   func(c *MainConfig) { c.Database.Concurrent = true; c.Database.Workers = 0 },
		"timeout":   func(c *MainConfig) { c.Database.QueryTimeout = -time.Second },
		"rate":      func(c *MainConfig) { c.Web.RateLimitPerMinute = -1 },
		"sec table": func(c *MainConfig) { c.Secondary.URL = "postgres://x"; c.Secondary.Table = "1bad" },
		"sec limit": func(c *MainConfig) { c.Secondary.URL = "postgres://x"; c.Secondary.Limit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("users"))
	assert.True(t, ValidIdentifier("_users_2"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("2users"))
	assert.False(t, ValidIdentifier(`users"`))
	assert.False(t, ValidIdentifier("public.users"))
}
