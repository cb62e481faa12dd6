package connections

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// memStore is an in-memory directory and connection table.
type memStore struct {
	mu       sync.Mutex
	nodes    map[int64]graphmodel.Node
	edges    map[graphmodel.EdgeKey]graphmodel.Edge
	applied  []graphmodel.ConnectionChanges
	applyErr error
}

func newMemStore(nodes ...graphmodel.Node) *memStore {
	s := &memStore{nodes: make(map[int64]graphmodel.Node), edges: make(map[graphmodel.EdgeKey]graphmodel.Edge)}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

// setLevel simulates the role tables behind the level views changing.
func (s *memStore) setLevel(id int64, level graphmodel.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[id]
	n.Level = level
	s.nodes[id] = n
}

func (s *memStore) filter(keep func(graphmodel.Node) bool) []graphmodel.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graphmodel.Node
	for _, n := range s.nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s *memStore) RegionMains(_ context.Context, countryID int64) ([]graphmodel.Node, error) {
	return s.filter(func(n graphmodel.Node) bool {
		return n.Level == graphmodel.LevelRegionMain && n.Location.CountryID == countryID
	}), nil
}

func (s *memStore) CityMains(_ context.Context, regionID int64) ([]graphmodel.Node, error) {
	return s.filter(func(n graphmodel.Node) bool {
		return n.Level == graphmodel.LevelCityMain && n.Location.RegionID == regionID
	}), nil
}

func (s *memStore) PlainWarehouses(_ context.Context, cityID int64) ([]graphmodel.Node, error) {
	return s.filter(func(n graphmodel.Node) bool {
		return n.Level == graphmodel.LevelCity && n.Location.CityID == cityID
	}), nil
}

func (s *memStore) Warehouse(_ context.Context, id int64) (graphmodel.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return graphmodel.Node{}, errors.New("not found")
	}
	return n, nil
}

func (s *memStore) ApplyConnectionChanges(_ context.Context, changes graphmodel.ConnectionChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, changes)
	for _, id := range changes.Detach {
		for k := range s.edges {
			if k.From == id || k.To == id {
				delete(s.edges, k)
			}
		}
	}
	for _, c := range changes.Add {
		for _, e := range c.Edges() {
			s.edges[e.Key()] = e
		}
	}
	return nil
}

func (s *memStore) edgeKeys() []graphmodel.EdgeKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]graphmodel.EdgeKey, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	return keys
}

func (s *memStore) applyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

// router prices routes from the warehouse id encoded in Latitude:
// 1000 m per id step, plus 50 m when driving towards a lower id.
type router struct {
	// before runs ahead of every lookup, outside the lock. A non-nil error is returned as is.
	before func(ctx context.Context, from, to int64) error

	mu          sync.Mutex
	calls       int
	pairCalls   map[[2]int64]int
	unreachable map[[2]int64]bool
	hard        map[[2]int64]error
	override    map[[2]int64]float64
}

func newRouter() *router {
	return &router{
		unreachable: make(map[[2]int64]bool),
		hard:        make(map[[2]int64]error),
		override:    make(map[[2]int64]float64),
		pairCalls:   make(map[[2]int64]int),
	}
}

func (r *router) DrivingDistance(ctx context.Context, from, to graphmodel.Coordinates) (float64, error) {
	a, b := int64(from.Latitude), int64(to.Latitude)
	if r.before != nil {
		if err := r.before(ctx, a, b); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := [2]int64{a, b}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.pairCalls[[2]int64{min(a, b), max(a, b)}]++
	if err, ok := r.hard[key]; ok {
		return 0, err
	}
	if r.unreachable[key] {
		return 0, distance.ErrRouteNotFound
	}
	if d, ok := r.override[key]; ok {
		return d, nil
	}
	return expectedDistance(a, b), nil
}

func expectedDistance(a, b int64) float64 {
	d := math.Abs(float64(a-b)) * 1000
	if a > b {
		d += 50
	}
	return d
}

func wh(id, country, region, city int64, level graphmodel.Level) graphmodel.Node {
	return graphmodel.Node{
		Warehouse: graphmodel.Warehouse{
			ID:          id,
			Location:    graphmodel.Location{CountryID: country, RegionID: region, CityID: city},
			Coordinates: graphmodel.Coordinates{Latitude: float64(id)},
		},
		Level: level,
	}
}

type fixture struct {
	store  *memStore
	router *router
	live   *graph.Live
	m      *Maintainer
}

// newFixture publishes nodes and edges as the initial graph and mirrors them
// in the store.
func newFixture(t *testing.T, maxDistance float64, nodes []graphmodel.Node, conns ...graphmodel.Connection) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(nodes...), router: newRouter(), live: graph.NewLive()}
	_, err := f.live.Update(func(g *graph.Graph) error {
		for _, n := range nodes {
			g.AddNode(n)
		}
		for _, c := range conns {
			for _, e := range c.Edges() {
				if err := g.AddEdge(e); err != nil {
					return err
				}
				f.store.edges[e.Key()] = e
			}
		}
		return nil
	})
	require.NoError(t, err)
	f.m = NewMaintainer(f.store, f.store, f.router, f.live,
		Config{MaxRouteDistance: maxDistance, Workers: 4}, nil, zaptest.NewLogger(t))
	return f
}

func (f *fixture) graph() *graph.Graph { return f.live.Snapshot() }

func priced(a, b int64, typ graphmodel.ConnType) graphmodel.Connection {
	return graphmodel.Connection{A: a, B: b, Type: typ, Forward: expectedDistance(a, b), Reverse: expectedDistance(b, a)}
}
