package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chatservice/internal/adapter/dynamo"
	adapthttp "chatservice/internal/adapter/http"
	"chatservice/internal/adapter/memory"
	"chatservice/internal/adapter/paramstore"
	"chatservice/internal/adapter/postgres"
	adaptredis "chatservice/internal/adapter/redis"
	"chatservice/internal/adapter/sqlite"
	"chatservice/internal/app"
	"chatservice/internal/auth"
	"chatservice/internal/cache"
	"chatservice/internal/config"
	"chatservice/internal/domain"
	"chatservice/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", env("CONFIG_PATH", ""), "path to a YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("chatservice failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(log)

	store, err := openStore(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer func() { _ = store.close() }()

	kv, closeKV, err := openKV(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("open %s cache: %w", cfg.Cache.Driver, err)
	}
	defer func() { _ = closeKV() }()

	secret, err := resolveSecret(ctx, cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens([]byte(secret), cfg.Auth.TokenLifetime)
	if err != nil {
		return err
	}
	if secret == "change-me" {
		log.Warn("using the default signing secret; set SECRET_KEY")
	}

	authSvc := app.NewAuthService(store.users, tokens, ratelimit.New(kv, "login", cfg.RateLimit.LoginPerMin), log)
	msgSvc := app.NewMessageService(store.messages, store.users, cache.New(kv), ratelimit.New(kv, "send", cfg.RateLimit.SendPerMin), log)
	srv := adapthttp.New(authSvc, msgSvc, log)

	if cfg.OIDC.Enabled {
		oc, err := adapthttp.NewOIDC(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		srv = srv.WithOIDC(*oc)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr, "database", cfg.Database.Driver, "cache", cfg.Cache.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type stores struct {
	users    domain.UserRepository
	messages domain.MessageRepository
	close    func() error
}

func openStore(cfg config.DatabaseConfig, log *slog.Logger) (*stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.URL)
		if err != nil {
			return nil, err
		}
		return &stores{users: db, messages: postgres.NewMessageRepo(db), close: db.Close}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return &stores{users: db, messages: sqlite.NewMessageRepo(db), close: db.Close}, nil
	case config.DriverMemory:
		db := memory.New()
		return &stores{users: db, messages: db.NewMessageRepo(), close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openKV(ctx context.Context, cfg config.CacheConfig) (domain.KeyValueStore, func() error, error) {
	switch cfg.Driver {
	case config.CacheRedis:
		s, err := adaptredis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.CacheDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		s, err := dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case config.CacheMemory:
		s := memory.NewKV()
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
}

func resolveSecret(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Auth.SecretParam == "" {
		return cfg.Auth.Secret, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.Cache.AWSRegion)
	if err != nil {
		return "", err
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return "", err
	}
	return ps.Secret(ctx, cfg.Auth.SecretParam)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
