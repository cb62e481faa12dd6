// File: internal/service/components.go
package service

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/api"
	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/engine"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/store"
)

// Components holds every initialized service of a running depotgraph process
// and centralizes their lifecycle.
type Components struct {
	Config     config.Interface
	Metrics    *observability.Metrics
	DBPool     DBPool
	Store      *store.Store
	Redis      *redis.Client
	Provider   distance.Provider
	Live       *graph.Live
	Maintainer *connections.Maintainer
	Engine     *engine.RefreshEngine
	Handlers   *api.Handlers
	Server     *api.Server
}

// Shutdown releases resources in reverse dependency order. It is safe to
// call on partially initialized components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the producer of new graph versions.
	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Refresh engine stopped.")
	}

	// 2. Close the distance cache.
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("Error closing redis client.", zap.Error(err))
		} else {
			logger.Debug("Redis client closed.")
		}
	}

	// 3. Close the database connection pool last, the engine may still be reading until it stops.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
