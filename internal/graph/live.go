package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrStaleVersion is returned by UpdateIfVersion when another writer
// published after the caller observed the graph.
var ErrStaleVersion = errors.New("graph version is stale")

// Live holds the currently published graph version.
//
// Readers take a Snapshot and never see a partially applied update.
// Writers are serialized and always operate on a private clone.
type Live struct {
	current atomic.Pointer[Graph]
	version atomic.Uint64

	mu        sync.Mutex // serializes writers
	ready     chan struct{}
	readyOnce sync.Once
}

// NewLive creates a holder with nothing published yet.
func NewLive() *Live {
	return &Live{ready: make(chan struct{})}
}

// Snapshot returns the published graph, or nil before the first publish.
// The returned graph must not be mutated.
func (l *Live) Snapshot() *Graph {
	return l.current.Load()
}

// Version increments on every publish. Zero means nothing was published.
func (l *Live) Version() uint64 {
	return l.version.Load()
}

// Ready reports whether a version has been published.
func (l *Live) Ready() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the first version is published or ctx is done.
func (l *Live) WaitReady(ctx context.Context) (*Graph, error) {
	select {
	case <-l.ready:
		return l.current.Load(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for graph: %w", ctx.Err())
	}
}

// Update clones the published graph (or starts from an empty one), applies fn
// and publishes the result. Nothing is published if fn returns an error.
func (l *Live) Update(fn func(g *Graph) error) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(fn)
}

// UpdateIfVersion behaves like Update but fails with ErrStaleVersion when the
// published version is no longer expected.
func (l *Live) UpdateIfVersion(expected uint64, fn func(g *Graph) error) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v := l.version.Load(); v != expected {
		return v, fmt.Errorf("expected version %d, have %d: %w", expected, v, ErrStaleVersion)
	}
	return l.apply(fn)
}

func (l *Live) apply(fn func(g *Graph) error) (uint64, error) {
	var next *Graph
	if cur := l.current.Load(); cur != nil {
		next = cur.Clone()
	} else {
		next = New()
	}
	if err := fn(next); err != nil {
		return l.version.Load(), err
	}

	l.current.Store(next)
	v := l.version.Add(1)
	l.readyOnce.Do(func() { close(l.ready) })
	return v, nil
}
