// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Graph() config.GraphConfig {
	args := m.Called()
	return args.Get(0).(config.GraphConfig)
}

func (m *MockConfig) Maintainer() config.MaintainerConfig {
	args := m.Called()
	return args.Get(0).(config.MaintainerConfig)
}

func (m *MockConfig) Distance() config.DistanceConfig {
	args := m.Called()
	return args.Get(0).(config.DistanceConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetServerListenAddr(addr string)         { m.Called(addr) }
func (m *MockConfig) SetGraphRefreshInterval(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetMaintainerWorkers(n int)              { m.Called(n) }

// -- Store Mocks --

// MockSnapshotSource mocks graphmodel.SnapshotSource.
type MockSnapshotSource struct {
	mock.Mock
}

func (m *MockSnapshotSource) FetchSnapshot(ctx context.Context, levels ...graphmodel.Level) (*graphmodel.Snapshot, error) {
	args := m.Called(ctx, levels)
	snap, _ := args.Get(0).(*graphmodel.Snapshot)
	return snap, args.Error(1)
}

// MockWarehouseDirectory mocks graphmodel.WarehouseDirectory.
type MockWarehouseDirectory struct {
	mock.Mock
}

func (m *MockWarehouseDirectory) RegionMains(ctx context.Context, countryID int64) ([]graphmodel.Node, error) {
	args := m.Called(ctx, countryID)
	nodes, _ := args.Get(0).([]graphmodel.Node)
	return nodes, args.Error(1)
}

func (m *MockWarehouseDirectory) CityMains(ctx context.Context, regionID int64) ([]graphmodel.Node, error) {
	args := m.Called(ctx, regionID)
	nodes, _ := args.Get(0).([]graphmodel.Node)
	return nodes, args.Error(1)
}

func (m *MockWarehouseDirectory) PlainWarehouses(ctx context.Context, cityID int64) ([]graphmodel.Node, error) {
	args := m.Called(ctx, cityID)
	nodes, _ := args.Get(0).([]graphmodel.Node)
	return nodes, args.Error(1)
}

func (m *MockWarehouseDirectory) Warehouse(ctx context.Context, id int64) (graphmodel.Node, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(graphmodel.Node), args.Error(1)
}

// MockConnectionWriter mocks graphmodel.ConnectionWriter.
type MockConnectionWriter struct {
	mock.Mock
}

func (m *MockConnectionWriter) ApplyConnectionChanges(ctx context.Context, changes graphmodel.ConnectionChanges) error {
	return m.Called(ctx, changes).Error(0)
}

// -- Distance Mock --

// MockDistanceProvider mocks distance.Provider.
type MockDistanceProvider struct {
	mock.Mock
}

func (m *MockDistanceProvider) DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(float64), args.Error(1)
}
