package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig tunes the pgx pool.
type PoolConfig struct {
	DSN          string
	MaxConns     int32
	MinConns     int32
	PingAttempts int
}

// NewPool abre o pool e espera o banco ficar disponível
func NewPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	attempts := cfg.PingAttempts
	if attempts <= 0 {
		attempts = 30
	}
	// Wait for database to be ready
	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to sales database")
			return pool, nil
		}
		logger.Info("waiting for database", zap.Int("attempt", i+1), zap.Int("of", attempts))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts", attempts)
}
