// Package config loads service configuration from an optional YAML file
// and the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Cache drivers.
const (
	CacheRedis    = "redis"
	CacheDynamoDB = "dynamodb"
	CacheMemory   = "memory"
)

// DefaultSQLitePath is used when no Postgres connection is configured.
const DefaultSQLitePath = "chat_service.db"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the listen address and shutdown grace period.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the authoritative store. URL is a Postgres
// connection string, Path a SQLite file.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
}

// CacheConfig selects the key-value store backing the conversation cache
// and rate limiters.
type CacheConfig struct {
	Driver      string `yaml:"driver"`
	RedisURL    string `yaml:"redis_url"`
	DynamoTable string `yaml:"dynamodb_table"`
	AWSRegion   string `yaml:"aws_region"`
}

// AuthConfig holds token signing settings. SecretParam, when set, names an
// SSM parameter that overrides Secret at startup.
type AuthConfig struct {
	Secret        string        `yaml:"secret"`
	SecretParam   string        `yaml:"secret_param"`
	TokenLifetime time.Duration `yaml:"-"`

	TokenLifetimeRaw string `yaml:"token_lifetime"`
}

// RateLimitConfig holds per-minute ceilings.
type RateLimitConfig struct {
	LoginPerMin int `yaml:"login_per_min"`
	SendPerMin  int `yaml:"send_per_min"`
}

// OIDCConfig enables single sign-on through an OpenID Connect provider.
type OIDCConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8000", ShutdownTimeout: 10 * time.Second},
		Cache: CacheConfig{
			Driver:   CacheRedis,
			RedisURL: "redis://localhost:6379/0",
		},
		Auth: AuthConfig{
			Secret:        "change-me",
			TokenLifetime: 60 * time.Minute,
		},
		RateLimit: RateLimitConfig{LoginPerMin: 5, SendPerMin: 30},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, in that order. Environment
// variables in the file in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.resolveDatabase()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to "".
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}
	if cfg.Auth.TokenLifetimeRaw != "" {
		cfg.Auth.TokenLifetime, err = time.ParseDuration(cfg.Auth.TokenLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing token_lifetime %q: %w", cfg.Auth.TokenLifetimeRaw, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = env("ADDR", cfg.Server.Addr)
	cfg.Database.Driver = env("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = env("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Path = env("SQLITE_PATH", cfg.Database.Path)
	if cfg.Database.URL == "" {
		cfg.Database.URL = postgresURLFromParts()
	}
	cfg.Cache.Driver = env("CACHE_DRIVER", cfg.Cache.Driver)
	cfg.Cache.RedisURL = env("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.DynamoTable = env("DYNAMODB_TABLE", cfg.Cache.DynamoTable)
	cfg.Cache.AWSRegion = env("AWS_REGION", cfg.Cache.AWSRegion)
	cfg.Auth.Secret = env("SECRET_KEY", cfg.Auth.Secret)
	cfg.Auth.SecretParam = env("SECRET_KEY_PARAM", cfg.Auth.SecretParam)
	cfg.Logging.Level = env("LOG_LEVEL", cfg.Logging.Level)

	var err error
	if v := os.Getenv("ACCESS_TOKEN_EXP_MINUTES"); v != "" {
		var n int
		if n, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("ACCESS_TOKEN_EXP_MINUTES: %w", err)
		}
		cfg.Auth.TokenLifetime = time.Duration(n) * time.Minute
	}
	if cfg.RateLimit.LoginPerMin, err = envInt("RATE_LIMIT_LOGIN_PER_MIN", cfg.RateLimit.LoginPerMin); err != nil {
		return err
	}
	if cfg.RateLimit.SendPerMin, err = envInt("RATE_LIMIT_SEND_PER_MIN", cfg.RateLimit.SendPerMin); err != nil {
		return err
	}
	return nil
}

// postgresURLFromParts assembles a connection string from DB_USER,
// DB_PASSWORD, DB_HOST, DB_PORT and DB_NAME. All five must be set.
func postgresURLFromParts() string {
	user, pass := os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")
	host, port, name := os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || pass == "" || host == "" || port == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	return u.String()
}

// resolveDatabase picks a driver when none was configured: Postgres if a
// URL is known, SQLite otherwise.
func (c *Config) resolveDatabase() {
	if c.Database.Driver == "" {
		if c.Database.URL != "" {
			c.Database.Driver = DriverPostgres
		} else {
			c.Database.Driver = DriverSQLite
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = DefaultSQLitePath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis driver")
		}
	case CacheDynamoDB:
		if c.Cache.DynamoTable == "" {
			return fmt.Errorf("cache.dynamodb_table is required for the dynamodb driver")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.Cache.Driver)
	}

	if c.Auth.Secret == "" && c.Auth.SecretParam == "" {
		return fmt.Errorf("auth.secret or auth.secret_param is required")
	}
	if c.Auth.TokenLifetime <= 0 {
		return fmt.Errorf("auth.token_lifetime must be positive")
	}
	if c.RateLimit.LoginPerMin < 1 {
		return fmt.Errorf("rate_limit.login_per_min must be at least 1")
	}
	if c.RateLimit.SendPerMin < 1 {
		return fmt.Errorf("rate_limit.send_per_min must be at least 1")
	}

	if c.OIDC.Enabled {
		if c.OIDC.Issuer == "" || c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "" {
			return fmt.Errorf("oidc.issuer, oidc.client_id and oidc.redirect_url are required when oidc is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
