package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/reconcile"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// State is the phase of the refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// errUnchanged aborts a publish that would produce an identical graph.
var errUnchanged = errors.New("graph unchanged")

// staleRetries is how many times a cycle refetches after losing a race
// with another writer before giving up until the next tick.
const staleRetries = 1

// RefreshEngine periodically converges the live graph onto the backing store.
type RefreshEngine struct {
	source   graphmodel.SnapshotSource
	live     *graph.Live
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger

	state   atomic.Int32
	cycleMu sync.Mutex // one cycle at a time, periodic or on demand

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a RefreshEngine. Nothing runs until Start.
func New(
	cfg config.Interface,
	source graphmodel.SnapshotSource,
	live *graph.Live,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*RefreshEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if source == nil {
		return nil, errors.New("snapshot source cannot be nil")
	}
	if live == nil {
		return nil, errors.New("live graph cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Graph().RefreshInterval
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}

	return &RefreshEngine{
		source:   source,
		live:     live,
		interval: interval,
		metrics:  metrics,
		logger:   logger.Named("refresh"),
	}, nil
}

// State reports the current phase of the refresh cycle.
func (e *RefreshEngine) State() State {
	return State(e.state.Load())
}

// Start runs a refresh immediately and then once per interval until ctx is
// cancelled or Stop is called.
func (e *RefreshEngine) Start(ctx context.Context) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.isRunning {
		e.logger.Warn("RefreshEngine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(loopCtx)
	e.logger.Info("Refresh loop started", zap.Duration("interval", e.interval))
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (e *RefreshEngine) Stop() {
	e.stateLock.Lock()
	if !e.isRunning {
		e.stateLock.Unlock()
		return
	}
	e.cancel()
	e.stateLock.Unlock()

	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.cancel = nil
	e.stateLock.Unlock()
	e.logger.Info("Refresh loop stopped")
}

func (e *RefreshEngine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		// Failures are logged and counted inside; the next tick retries.
		_, _ = e.RefreshOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce fetches every level and publishes the converged graph.
func (e *RefreshEngine) RefreshOnce(ctx context.Context) (reconcile.Stats, error) {
	return e.RefreshLevels(ctx)
}

// RefreshLevels refreshes only the given levels. Edges are always refreshed
// in full. With no levels it behaves like RefreshOnce.
//
// The snapshot is applied only if no other writer published while it was
// being fetched; otherwise it is refetched, so a stale snapshot never
// overwrites a newer maintainer commit.
func (e *RefreshEngine) RefreshLevels(ctx context.Context, levels ...graphmodel.Level) (reconcile.Stats, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	defer e.state.Store(int32(StateIdle))

	start := time.Now()
	for attempt := 0; attempt <= staleRetries; attempt++ {
		expected := e.live.Version()

		e.state.Store(int32(StateFetching))
		snap, err := e.source.FetchSnapshot(ctx, levels...)
		if err != nil {
			e.metrics.RecordRefresh("error", time.Since(start))
			e.logger.Error("Refresh aborted, snapshot fetch failed", zap.Error(err))
			return reconcile.Stats{}, fmt.Errorf("refresh: %w", err)
		}

		e.state.Store(int32(StateApplying))
		var stats reconcile.Stats
		version, err := e.live.UpdateIfVersion(expected, func(g *graph.Graph) error {
			stats = reconcile.Apply(g, snap)
			if !stats.Changed() && expected > 0 {
				return errUnchanged
			}
			return nil
		})
		switch {
		case errors.Is(err, graph.ErrStaleVersion):
			e.logger.Info("Graph changed while fetching, refetching", zap.Uint64("expected", expected), zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, errUnchanged):
			e.metrics.RecordRefresh("unchanged", time.Since(start))
			e.logger.Debug("Refresh found no changes", zap.Uint64("version", version))
			return stats, nil
		case err != nil:
			e.metrics.RecordRefresh("error", time.Since(start))
			e.logger.Error("Refresh aborted, apply failed", zap.Error(err))
			return reconcile.Stats{}, fmt.Errorf("refresh: %w", err)
		}

		e.record(stats, version, time.Since(start))
		e.logger.Info("Graph refreshed",
			zap.Uint64("version", version),
			zap.Object("stats", stats),
			zap.Stringers("levels", snap.Levels),
		)
		return stats, nil
	}

	e.metrics.RecordRefresh("stale", time.Since(start))
	e.logger.Warn("Refresh kept losing to concurrent writers, retrying next interval")
	return reconcile.Stats{}, fmt.Errorf("refresh: %w", graph.ErrStaleVersion)
}

func (e *RefreshEngine) record(stats reconcile.Stats, version uint64, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRefresh("success", d)
	if g := e.live.Snapshot(); g != nil {
		e.metrics.SetGraphSize(version, g.NodeCount(), g.EdgeCount())
	}
	e.metrics.RecordReconcile("node", "added", stats.NodesAdded)
	e.metrics.RecordReconcile("node", "removed", stats.NodesRemoved)
	e.metrics.RecordReconcile("node", "relabeled", stats.NodesRelabeled)
	e.metrics.RecordReconcile("edge", "added", stats.EdgesAdded)
	e.metrics.RecordReconcile("edge", "removed", stats.EdgesRemoved)
	e.metrics.RecordReconcile("edge", "updated", stats.EdgesUpdated)
	e.metrics.RecordReconcile("edge", "skipped", stats.EdgesSkipped)
}
