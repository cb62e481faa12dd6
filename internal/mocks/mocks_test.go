package mocks

import (
	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// Compile-time checks that the mocks satisfy the interfaces they stand in for.
var (
	_ config.Interface              = (*MockConfig)(nil)
	_ graphmodel.SnapshotSource     = (*MockSnapshotSource)(nil)
	_ graphmodel.WarehouseDirectory = (*MockWarehouseDirectory)(nil)
	_ graphmodel.ConnectionWriter   = (*MockConnectionWriter)(nil)
	_ distance.Provider             = (*MockDistanceProvider)(nil)
)
