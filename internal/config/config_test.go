package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"ADDR", "DATABASE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME",
	"CACHE_DRIVER", "REDIS_URL", "DYNAMODB_TABLE", "AWS_REGION",
	"SECRET_KEY", "SECRET_KEY_PARAM", "LOG_LEVEL", "ACCESS_TOKEN_EXP_MINUTES",
	"RATE_LIMIT_LOGIN_PER_MIN", "RATE_LIMIT_SEND_PER_MIN",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.Path)
	assert.Equal(t, CacheRedis, cfg.Cache.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, time.Hour, cfg.Auth.TokenLifetime)
	assert.Equal(t, 5, cfg.RateLimit.LoginPerMin)
	assert.Equal(t, 30, cfg.RateLimit.SendPerMin)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_CHAT_SECRET", "from-env")

	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 3s
database:
  url: postgres://u:p@db:5432/chat
cache:
  driver: dynamodb
  dynamodb_table: chat-kv
auth:
  secret: ${TEST_CHAT_SECRET}
  token_lifetime: 15m
rate_limit:
  send_per_min: 10
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, CacheDynamoDB, cfg.Cache.Driver)
	assert.Equal(t, "chat-kv", cfg.Cache.DynamoTable)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenLifetime)
	assert.Equal(t, 5, cfg.RateLimit.LoginPerMin, "unset keys keep defaults")
	assert.Equal(t, 10, cfg.RateLimit.SendPerMin)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":7000")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SECRET_KEY", "s")
	t.Setenv("ACCESS_TOKEN_EXP_MINUTES", "5")
	t.Setenv("RATE_LIMIT_LOGIN_PER_MIN", "2")

	path := writeConfig(t, "server:\n  addr: \":9090\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)
	assert.Equal(t, "s", cfg.Auth.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.TokenLifetime)
	assert.Equal(t, 2, cfg.RateLimit.LoginPerMin)
}

func TestLoad_PostgresFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "chat")
	t.Setenv("DB_PASSWORD", "p@ss")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_NAME", "chat")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://chat:p%40ss@db:5432/chat", cfg.Database.URL)
}

func TestLoad_PartialPartsFallBackToSQLite(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "chat")
	t.Setenv("DB_HOST", "db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.ErrorContains(t, err, "parsing config file")

	_, err = Load(writeConfig(t, "auth:\n  token_lifetime: soon\n"))
	assert.ErrorContains(t, err, "token_lifetime")

	t.Setenv("RATE_LIMIT_SEND_PER_MIN", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "RATE_LIMIT_SEND_PER_MIN")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.resolveDatabase()
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"bad db driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url"},
		{"bad cache driver", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"redis without url", func(c *Config) { c.Cache.RedisURL = "" }, "cache.redis_url"},
		{"dynamo without table", func(c *Config) { c.Cache.Driver = CacheDynamoDB }, "cache.dynamodb_table"},
		{"no secret", func(c *Config) { c.Auth.Secret = "" }, "auth.secret"},
		{"zero lifetime", func(c *Config) { c.Auth.TokenLifetime = 0 }, "token_lifetime"},
		{"zero login limit", func(c *Config) { c.RateLimit.LoginPerMin = 0 }, "login_per_min"},
		{"zero send limit", func(c *Config) { c.RateLimit.SendPerMin = 0 }, "send_per_min"},
		{"oidc incomplete", func(c *Config) { c.OIDC.Enabled = true }, "oidc.issuer"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
