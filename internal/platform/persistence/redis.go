package persistence

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/boliseva-loan-ledger/internal/config"
)

// RedisClientConstructor builds a client from options; tests substitute it
type RedisClientConstructor func(opt *redis.Options) *redis.Client

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, logger *slog.Logger, cfg *config.RedisConfig, newClient RedisClientConstructor) (*redis.Client, error) {
	options := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.EnableTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if newClient == nil {
		newClient = redis.NewClient
	}
	client := newClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB, "tls", cfg.EnableTLS)
	return client, nil
}
