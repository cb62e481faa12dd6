package distance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

const (
	cacheKeyPrefix = "depotgraph:distance:"
	noRouteValue   = "none"
)

// CachedProvider memoizes distances, including missing routes, in Redis.
// Cache failures are logged and bypassed.
type CachedProvider struct {
	client  redis.Cmdable
	next    Provider
	ttl     time.Duration
	metrics *observability.Metrics
	log     *zap.Logger
}

var _ Provider = (*CachedProvider)(nil)

func NewCachedProvider(client redis.Cmdable, next Provider, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		client:  client,
		next:    next,
		ttl:     ttl,
		metrics: metrics,
		log:     logger.Named("distance_cache"),
	}
}

func (p *CachedProvider) makeKey(from, to graphmodel.Coordinates) string {
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, from, to)
}

func (p *CachedProvider) DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error) {
	key := p.makeKey(from, to)

	val, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == noRouteValue {
			p.metrics.RecordCacheLookup("negative_hit")
			return 0, fmt.Errorf("%s -> %s (cached): %w", from, to, ErrRouteNotFound)
		}
		if meters, perr := strconv.ParseFloat(val, 64); perr == nil {
			p.metrics.RecordCacheLookup("hit")
			return meters, nil
		}
		p.log.Warn("Discarding malformed cache entry", zap.String("key", key), zap.String("value", val))
		p.metrics.RecordCacheLookup("error")
	case errors.Is(err, redis.Nil):
		p.metrics.RecordCacheLookup("miss")
	default:
		p.log.Warn("Distance cache lookup failed", zap.String("key", key), zap.Error(err))
		p.metrics.RecordCacheLookup("error")
	}

	meters, err := p.next.DrivingDistance(ctx, from, to)
	switch {
	case err == nil:
		p.store(ctx, key, strconv.FormatFloat(meters, 'f', -1, 64))
	case errors.Is(err, ErrRouteNotFound) && !errors.Is(err, ErrProviderTimeout):
		p.store(ctx, key, noRouteValue)
	}
	return meters, err
}

func (p *CachedProvider) store(ctx context.Context, key, value string) {
	if err := p.client.Set(ctx, key, value, p.ttl).Err(); err != nil {
		p.log.Warn("Failed to write distance cache", zap.String("key", key), zap.Error(err))
	}
}
