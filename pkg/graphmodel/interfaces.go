package graphmodel

import (
	"context"
)

// SnapshotSource reads node and edge snapshots from the backing store.
// With no levels given, every level view is read.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, levels ...Level) (*Snapshot, error)
}

// WarehouseDirectory answers the lookups the connection maintainer needs
// to find the peers of a warehouse.
type WarehouseDirectory interface {
	RegionMains(ctx context.Context, countryID int64) ([]Node, error)
	CityMains(ctx context.Context, regionID int64) ([]Node, error)
	PlainWarehouses(ctx context.Context, cityID int64) ([]Node, error)
	Warehouse(ctx context.Context, id int64) (Node, error)
}

// ConnectionChanges is one atomic edit to the persisted connection set.
type ConnectionChanges struct {
	// Detach removes every connection touching these warehouses.
	Detach []int64
	// Add inserts or overwrites both directions of each connection.
	Add []Connection
}

// Empty reports whether applying the change set would be a no-op.
func (c ConnectionChanges) Empty() bool {
	return len(c.Detach) == 0 && len(c.Add) == 0
}

// ConnectionWriter persists connection edits in the backing store.
type ConnectionWriter interface {
	ApplyConnectionChanges(ctx context.Context, changes ConnectionChanges) error
}
