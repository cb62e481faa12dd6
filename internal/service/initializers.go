// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/network"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/store"
)

// DBPool is the store's pool contract plus Close, satisfied by *pgxpool.Pool
// and by pgxmock pools.
type DBPool interface {
	store.DBPool
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

// OpenPool creates the PostgreSQL connection pool. It does not ping; store.New does.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check DEPOTGRAPH_DATABASE_URL)")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	// The snapshot fan-out holds one connection per read channel.
	if minConns := int32(cfg.ReadChannels); minConns > 0 && minConns <= poolConfig.MaxConns {
		poolConfig.MinConns = minConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	return pool, nil
}

// NewRedisClient connects to the distance cache and verifies it answers.
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewDistanceProvider builds the OSRM client and, when cache is non-nil,
// wraps it in the Redis cache.
func NewDistanceProvider(cfg config.DistanceConfig, cache redis.Cmdable, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) distance.Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	// The rate limiter burst bounds how many lookups are in flight at once.
	clientCfg := network.NewRoutingClientConfig(cfg.Timeout, cfg.Burst)
	clientCfg.Logger = logger
	httpClient := network.NewClient(clientCfg)

	osrm := distance.NewOSRMClient(distance.OSRMConfig{
		Endpoint:  cfg.Endpoint,
		Profile:   cfg.Profile,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Breaker: distance.BreakerConfig{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		},
	}, httpClient.Client, metrics, logger)

	if cache == nil {
		return osrm
	}
	logger.Info("Distance cache enabled.", zap.Duration("ttl", ttl))
	return distance.NewCachedProvider(cache, osrm, ttl, metrics, logger)
}
