// internal/graph/graph_test.go
package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// -- Test Helper Functions --

func node(id int64, level graphmodel.Level) graphmodel.Node {
	return graphmodel.Node{
		Warehouse: graphmodel.Warehouse{
			ID:       id,
			Location: graphmodel.Location{CountryID: 1, RegionID: 10, CityID: 100},
		},
		Level: level,
	}
}

func edge(from, to int64, d float64) graphmodel.Edge {
	return graphmodel.Edge{From: from, To: to, Distance: d, Type: graphmodel.ConnCity}
}

// getTestGraph returns a small graph: 1->2 (5), 2->3 (7), 1->3 (20), 3->1 (4).
func getTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, id := range []int64{1, 2, 3} {
		g.AddNode(node(id, graphmodel.LevelCity))
	}
	for _, e := range []graphmodel.Edge{edge(1, 2, 5), edge(2, 3, 7), edge(1, 3, 20), edge(3, 1, 4)} {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

// -- Test Cases --

func TestAddNode(t *testing.T) {
	t.Parallel()

	t.Run("should overwrite attributes and keep edges", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)

		relabeled := node(2, graphmodel.LevelCityMain)
		relabeled.Labels.Building = "Depot B"
		g.AddNode(relabeled)

		n, ok := g.Node(2)
		require.True(t, ok)
		assert.Equal(t, "Depot B", n.Labels.Building)
		assert.Equal(t, graphmodel.LevelCityMain, n.Level)
		assert.Equal(t, []int64{3}, g.Neighbors(2))
		assert.Equal(t, 4, g.EdgeCount())
	})
}

func TestAddEdge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		edge    graphmodel.Edge
		wantErr error
	}{
		{"self-loop", edge(1, 1, 3), ErrInvalidEdge},
		{"zero distance", edge(1, 2, 0), ErrInvalidEdge},
		{"negative distance", edge(1, 2, -1), ErrInvalidEdge},
		{"unknown source", edge(9, 2, 3), ErrNodeNotFound},
		{"unknown destination", edge(1, 9, 3), ErrNodeNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := getTestGraph(t)
			err := g.AddEdge(tt.edge)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 4, g.EdgeCount())
		})
	}

	t.Run("should overwrite an existing edge without double counting", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		require.NoError(t, g.AddEdge(edge(1, 2, 9)))
		e, ok := g.Edge(1, 2)
		require.True(t, ok)
		assert.Equal(t, 9.0, e.Distance)
		assert.Equal(t, 4, g.EdgeCount())
	})
}

func TestAsymmetricDistances(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddNode(node(1, graphmodel.LevelCityMain))
	g.AddNode(node(2, graphmodel.LevelCity))
	conn := graphmodel.Connection{A: 1, B: 2, Type: graphmodel.ConnCity, Forward: 1200, Reverse: 1350}
	for _, e := range conn.Edges() {
		require.NoError(t, g.AddEdge(e))
	}

	fwd, ok := g.Edge(1, 2)
	require.True(t, ok)
	rev, ok := g.Edge(2, 1)
	require.True(t, ok)
	assert.Equal(t, 1200.0, fwd.Distance)
	assert.Equal(t, 1350.0, rev.Distance)

	assert.Equal(t, 2, g.RemoveConnection(1, 2))
	assert.Zero(t, g.EdgeCount())
}

func TestRemoveNode(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	assert.True(t, g.RemoveNode(3))
	assert.False(t, g.RemoveNode(3), "second removal should report absence")
	assert.False(t, g.HasNode(3))
	assert.Equal(t, []int64{2}, g.Neighbors(1))
	assert.Empty(t, g.Neighbors(2))
	assert.Empty(t, g.Incoming(1))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestDetachNode(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	assert.Equal(t, 3, g.DetachNode(3))
	assert.True(t, g.HasNode(3))
	assert.Empty(t, g.Incoming(3))
	assert.Empty(t, g.Neighbors(3))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestNodeLevel(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	lvl, err := g.NodeLevel(1)
	require.NoError(t, err)
	assert.Equal(t, graphmodel.LevelCity, lvl)

	_, err = g.NodeLevel(42)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNodesAtAndEdgesAreOrdered(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)
	g.AddNode(node(0, graphmodel.LevelRegionMain))

	mains := g.NodesAt(graphmodel.LevelRegionMain)
	require.Len(t, mains, 1)
	assert.Equal(t, int64(0), mains[0].ID)

	var keys []graphmodel.EdgeKey
	for _, e := range g.Edges() {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []graphmodel.EdgeKey{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 3}, {From: 3, To: 1}}, keys)
}

func TestClone(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)
	c := g.Clone()

	c.RemoveNode(1)
	c.AddNode(node(4, graphmodel.LevelCity))
	require.NoError(t, c.AddEdge(edge(4, 2, 1)))

	assert.True(t, g.HasNode(1), "original must not see clone mutations")
	assert.False(t, g.HasNode(4))
	assert.Equal(t, 4, g.EdgeCount())
	assert.Equal(t, []int64{2, 3}, g.Neighbors(1))
	assert.Equal(t, 2, c.EdgeCount())
}
