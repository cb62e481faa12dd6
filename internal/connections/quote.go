package connections

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// Outcome classifies a priced candidate pair.
type Outcome int

const (
	Priced Outcome = iota
	Unreachable
	TooLong
)

func (o Outcome) String() string {
	switch o {
	case Priced:
		return "priced"
	case Unreachable:
		return "unreachable"
	case TooLong:
		return "too_long"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Quote is the result of pricing one candidate connection.
type Quote struct {
	Pair    graphmodel.Pair
	Outcome Outcome
	Forward float64 // Pair.A -> Pair.B, set when Priced
	Reverse float64 // Pair.B -> Pair.A, set when Priced
	// Reason wraps distance.ErrRouteNotFound or ErrRouteTooLong when not Priced.
	Reason error
}

// Connection converts a priced quote. It panics on other outcomes.
func (q Quote) Connection() graphmodel.Connection {
	if q.Outcome != Priced {
		panic(fmt.Sprintf("connection requested for %s quote", q.Outcome))
	}
	return graphmodel.Connection{A: q.Pair.A, B: q.Pair.B, Type: q.Pair.Type, Forward: q.Forward, Reverse: q.Reverse}
}

// candidate is a pair that should be connected.
type candidate struct {
	a, b graphmodel.Node
	typ  graphmodel.ConnType
}

// quote prices both directions between a and b. Only hard failures are
// returned as errors; missing and over-long routes become soft outcomes.
func (m *Maintainer) quote(ctx context.Context, a, b graphmodel.Node, typ graphmodel.ConnType) (Quote, error) {
	q := Quote{Pair: graphmodel.Pair{A: a.ID, B: b.ID, Type: typ}}

	fwd, err := m.provider.DrivingDistance(ctx, a.Coordinates, b.Coordinates)
	if err != nil {
		return m.softOrHard(q, err, a.ID, b.ID)
	}
	rev, err := m.provider.DrivingDistance(ctx, b.Coordinates, a.Coordinates)
	if err != nil {
		return m.softOrHard(q, err, b.ID, a.ID)
	}

	switch {
	case !(fwd > 0) || !(rev > 0):
		q.Outcome = Unreachable
		q.Reason = fmt.Errorf("%w: non-positive distance (%.1f m / %.1f m)", distance.ErrRouteNotFound, fwd, rev)
	case fwd > m.maxDistance || rev > m.maxDistance:
		q.Outcome = TooLong
		q.Reason = fmt.Errorf("%w: %.0f m / %.0f m exceeds %.0f m", ErrRouteTooLong, fwd, rev, m.maxDistance)
	default:
		q.Outcome = Priced
		q.Forward, q.Reverse = fwd, rev
	}
	m.record(q)
	return q, nil
}

func (m *Maintainer) softOrHard(q Quote, err error, from, to int64) (Quote, error) {
	if !errors.Is(err, distance.ErrRouteNotFound) {
		return Quote{}, fmt.Errorf("%w: %d -> %d: %w", ErrPricingFailed, from, to, err)
	}
	q.Outcome = Unreachable
	q.Reason = err
	m.record(q)
	return q, nil
}

func (m *Maintainer) record(q Quote) {
	m.metrics.RecordQuote(string(q.Pair.Type), q.Outcome.String())
	switch q.Outcome {
	case Unreachable:
		m.log.Warn("No route between warehouses, skipping connection",
			zap.Int64("a", q.Pair.A), zap.Int64("b", q.Pair.B),
			zap.String("type", string(q.Pair.Type)), zap.Error(q.Reason))
	case TooLong:
		m.log.Warn("Route exceeds maximum distance, skipping connection",
			zap.Int64("a", q.Pair.A), zap.Int64("b", q.Pair.B),
			zap.String("type", string(q.Pair.Type)), zap.Error(q.Reason))
	case Priced:
		m.log.Debug("Connection priced",
			zap.Int64("a", q.Pair.A), zap.Int64("b", q.Pair.B),
			zap.Float64("forward_m", q.Forward), zap.Float64("reverse_m", q.Reverse))
	}
}
