// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/api"
	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/engine"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/store"
)

// ComponentFactory creates the set of components a command needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// PoolOpener opens the database pool. Tests substitute a pgxmock pool.
type PoolOpener func(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	openPool PoolOpener
}

// NewComponentFactory creates a factory backed by a real PostgreSQL pool.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{openPool: OpenPool}
}

// NewComponentFactoryWithPool creates a factory that obtains its pool from open.
func NewComponentFactoryWithPool(open PoolOpener) ComponentFactory {
	return &concreteFactory{openPool: open}
}

// Create handles dependency injection and initialization of all components.
// Nothing is started: callers decide whether to run the refresh loop and server.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{Config: cfg}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	components.Metrics = observability.NewMetrics(cfg.Metrics().Namespace)

	// 2. Database Pool and Store
	pool, err := f.openPool(ctx, cfg.Database())
	if err != nil {
		initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
		return nil, initializationErr
	}
	components.DBPool = pool

	dbStore, err := store.New(ctx, pool, cfg.Database().ReadChannels, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
		return nil, initializationErr
	}
	components.Store = dbStore
	logger.Debug("Store initialized.")

	// 3. Distance cache (optional) and provider
	var cache redis.Cmdable
	if cacheCfg := cfg.Cache(); cacheCfg.Enabled {
		rdb, err := NewRedisClient(ctx, cacheCfg)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize distance cache: %w", err)
			return nil, initializationErr
		}
		components.Redis = rdb
		cache = rdb
	}
	components.Provider = NewDistanceProvider(cfg.Distance(), cache, cfg.Cache().TTL, components.Metrics, logger)
	logger.Debug("Distance provider initialized.", zap.String("endpoint", cfg.Distance().Endpoint))

	// 4. Live graph and connection maintainer
	components.Live = graph.NewLive()
	components.Maintainer = connections.NewMaintainer(
		dbStore, dbStore, components.Provider, components.Live,
		connections.Config{
			MaxRouteDistance: cfg.Graph().MaxRouteDistance,
			Workers:          cfg.Maintainer().Workers,
		},
		components.Metrics, logger,
	)

	// 5. Refresh engine
	refreshEngine, err := engine.New(cfg, dbStore, components.Live, components.Metrics, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize refresh engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = refreshEngine

	// 6. HTTP surface
	components.Handlers = api.NewHandlers(
		components.Live, refreshEngine, components.Maintainer, dbStore,
		cfg.Graph().ReadyTimeout, components.Metrics, logger,
	)
	components.Server = api.NewServer(cfg.Server(), cfg.Metrics(), components.Handlers, components.Metrics, logger)

	logger.Info("All components initialized successfully.")
	return components, nil
}
