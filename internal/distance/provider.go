// Package distance prices road routes between warehouses.
package distance

import (
	"context"
	"errors"

	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

var (
	// ErrRouteNotFound means no drivable route exists, or the provider gave up in time.
	// Callers treat it as a soft skip.
	ErrRouteNotFound = errors.New("route not found")
	// ErrProviderTimeout accompanies ErrRouteNotFound when the per-call timeout fired.
	ErrProviderTimeout = errors.New("distance provider timed out")
	// ErrProviderUnavailable means the provider is failing and calls are being shed.
	ErrProviderUnavailable = errors.New("distance provider unavailable")
)

// Provider returns the driving distance in meters from one point to another.
// Distances are directional.
type Provider interface {
	DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, from, to graphmodel.Coordinates) (float64, error)

func (f ProviderFunc) DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error) {
	return f(ctx, from, to)
}
