package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

var (
	// ErrNodeNotFound is returned when a referenced warehouse is not in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidEdge is returned by AddEdge for self-loops and non-positive distances.
	ErrInvalidEdge = errors.New("invalid edge")
)

// Graph is a weighted directed graph of warehouses keyed by warehouse id.
//
// A Graph is not safe for concurrent mutation. Published versions held by
// Live are treated as immutable; writers mutate a Clone.
type Graph struct {
	nodes map[int64]graphmodel.Node
	out   map[int64]map[int64]graphmodel.Edge // from -> to -> edge
	in    map[int64]map[int64]struct{}        // to -> from
	edges int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[int64]graphmodel.Node),
		out:   make(map[int64]map[int64]graphmodel.Edge),
		in:    make(map[int64]map[int64]struct{}),
	}
}

// AddNode inserts a node. An existing node with the same id has its
// attributes overwritten and keeps its edges.
func (g *Graph) AddNode(node graphmodel.Node) {
	g.nodes[node.ID] = node
}

// RemoveNode deletes a node and every edge incident to it.
// It reports whether the node existed.
func (g *Graph) RemoveNode(id int64) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for to := range g.out[id] {
		delete(g.in[to], id)
		g.edges--
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
		g.edges--
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
	return true
}

// AddEdge inserts or overwrites the directed edge (From, To).
func (g *Graph) AddEdge(edge graphmodel.Edge) error {
	if edge.From == edge.To {
		return fmt.Errorf("%w: self-loop on node %d", ErrInvalidEdge, edge.From)
	}
	if !(edge.Distance > 0) {
		return fmt.Errorf("%w: distance %v for %d->%d must be positive", ErrInvalidEdge, edge.Distance, edge.From, edge.To)
	}
	if _, ok := g.nodes[edge.From]; !ok {
		return fmt.Errorf("source node %d: %w", edge.From, ErrNodeNotFound)
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return fmt.Errorf("destination node %d: %w", edge.To, ErrNodeNotFound)
	}

	targets, ok := g.out[edge.From]
	if !ok {
		targets = make(map[int64]graphmodel.Edge)
		g.out[edge.From] = targets
	}
	if _, exists := targets[edge.To]; !exists {
		g.edges++
	}
	targets[edge.To] = edge

	sources, ok := g.in[edge.To]
	if !ok {
		sources = make(map[int64]struct{})
		g.in[edge.To] = sources
	}
	sources[edge.From] = struct{}{}
	return nil
}

// RemoveEdge deletes the directed edge (from, to) and reports whether it existed.
func (g *Graph) RemoveEdge(from, to int64) bool {
	if _, ok := g.out[from][to]; !ok {
		return false
	}
	delete(g.out[from], to)
	delete(g.in[to], from)
	g.edges--
	return true
}

// RemoveConnection deletes both directions between a and b.
func (g *Graph) RemoveConnection(a, b int64) int {
	removed := 0
	if g.RemoveEdge(a, b) {
		removed++
	}
	if g.RemoveEdge(b, a) {
		removed++
	}
	return removed
}

// DetachNode removes every edge touching id but keeps the node.
func (g *Graph) DetachNode(id int64) int {
	removed := 0
	for to := range g.out[id] {
		if g.RemoveEdge(id, to) {
			removed++
		}
	}
	for from := range g.in[id] {
		if g.RemoveEdge(from, id) {
			removed++
		}
	}
	return removed
}

func (g *Graph) Edge(from, to int64) (graphmodel.Edge, bool) {
	e, ok := g.out[from][to]
	return e, ok
}

// Neighbors returns the ids reachable by one outgoing edge from id, sorted ascending.
func (g *Graph) Neighbors(id int64) []int64 {
	return sortedKeys(g.out[id])
}

// Incoming returns the ids with an edge into id, sorted ascending.
func (g *Graph) Incoming(id int64) []int64 {
	return sortedKeys(g.in[id])
}

// OutEdges returns the outgoing edges of id ordered by destination.
func (g *Graph) OutEdges(id int64) []graphmodel.Edge {
	targets := g.out[id]
	edges := make([]graphmodel.Edge, 0, len(targets))
	for _, to := range sortedKeys(targets) {
		edges = append(edges, targets[to])
	}
	return edges
}

func (g *Graph) HasNode(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Node(id int64) (graphmodel.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeLevel returns the level of id, or ErrNodeNotFound.
func (g *Graph) NodeLevel(id int64) (graphmodel.Level, error) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return n.Level, nil
}

// Nodes returns every node ordered by id.
func (g *Graph) Nodes() []graphmodel.Node {
	nodes := make([]graphmodel.Node, 0, len(g.nodes))
	for _, id := range sortedKeys(g.nodes) {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// NodesAt returns the nodes at level l ordered by id.
func (g *Graph) NodesAt(l graphmodel.Level) []graphmodel.Node {
	var nodes []graphmodel.Node
	for _, id := range sortedKeys(g.nodes) {
		if n := g.nodes[id]; n.Level == l {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Edges returns every edge ordered by (From, To).
func (g *Graph) Edges() []graphmodel.Edge {
	edges := make([]graphmodel.Edge, 0, g.edges)
	for _, from := range sortedKeys(g.out) {
		targets := g.out[from]
		for _, to := range sortedKeys(targets) {
			edges = append(edges, targets[to])
		}
	}
	return edges
}

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) EdgeCount() int { return g.edges }

// Clone returns a deep copy that shares no maps with g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes: make(map[int64]graphmodel.Node, len(g.nodes)),
		out:   make(map[int64]map[int64]graphmodel.Edge, len(g.out)),
		in:    make(map[int64]map[int64]struct{}, len(g.in)),
		edges: g.edges,
	}
	for id, n := range g.nodes {
		c.nodes[id] = n
	}
	for from, targets := range g.out {
		cp := make(map[int64]graphmodel.Edge, len(targets))
		for to, e := range targets {
			cp[to] = e
		}
		c.out[from] = cp
	}
	for to, sources := range g.in {
		cp := make(map[int64]struct{}, len(sources))
		for from := range sources {
			cp[from] = struct{}{}
		}
		c.in[to] = cp
	}
	return c
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
