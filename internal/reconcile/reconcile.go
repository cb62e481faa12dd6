// Package reconcile converges a graph onto a snapshot of the backing store
// with the minimal set of node and edge edits.
package reconcile

import (
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// Stats counts the edits made by Apply.
type Stats struct {
	NodesAdded     int
	NodesRemoved   int
	NodesRelabeled int // display attributes rewritten in place
	EdgesAdded     int
	EdgesRemoved   int
	EdgesUpdated   int // distance rewritten in place
	EdgesSkipped   int // snapshot edges whose endpoints are not in the graph
}

// Changed reports whether Apply modified the graph.
func (s Stats) Changed() bool {
	return s.NodesAdded+s.NodesRemoved+s.NodesRelabeled+s.EdgesAdded+s.EdgesRemoved+s.EdgesUpdated > 0
}

func (s Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("nodes_added", s.NodesAdded)
	enc.AddInt("nodes_removed", s.NodesRemoved)
	enc.AddInt("nodes_relabeled", s.NodesRelabeled)
	enc.AddInt("edges_added", s.EdgesAdded)
	enc.AddInt("edges_removed", s.EdgesRemoved)
	enc.AddInt("edges_updated", s.EdgesUpdated)
	enc.AddInt("edges_skipped", s.EdgesSkipped)
	return nil
}

// Apply edits g in place so that it matches snap.
//
// Only nodes at the snapshot's levels are reconciled; nodes at other levels
// are left alone unless the snapshot now places them at a refreshed level.
// Edges are always reconciled in full. Node edits precede edge edits, so an
// edge is only added once both endpoints are present.
func Apply(g *graph.Graph, snap *graphmodel.Snapshot) Stats {
	var st Stats
	applyNodes(g, snap, &st)
	applyEdges(g, snap, &st)
	return st
}

func applyNodes(g *graph.Graph, snap *graphmodel.Snapshot, st *Stats) {
	should := make(map[int64]graphmodel.Node)
	for _, n := range snap.Nodes() {
		if !snap.Covers(n.Level) {
			continue
		}
		if snap.ValidIDs != nil {
			if _, ok := snap.ValidIDs[n.ID]; !ok {
				continue
			}
		}
		should[n.ID] = n
	}

	for _, cur := range g.Nodes() {
		want, listed := should[cur.ID]
		if !snap.Covers(cur.Level) {
			if listed {
				// Moved into a refreshed level from one that was not fetched.
				g.RemoveNode(cur.ID)
				st.NodesRemoved++
			}
			continue
		}

		switch {
		case !listed:
			g.RemoveNode(cur.ID)
			st.NodesRemoved++
		case want.Level != cur.Level:
			g.RemoveNode(cur.ID)
			st.NodesRemoved++
		default:
			delete(should, cur.ID)
			if want != cur {
				g.AddNode(want)
				st.NodesRelabeled++
			}
		}
	}

	for _, n := range should {
		g.AddNode(n)
		st.NodesAdded++
	}
}

func applyEdges(g *graph.Graph, snap *graphmodel.Snapshot, st *Stats) {
	should := make(map[graphmodel.EdgeKey]graphmodel.Edge, len(snap.Edges))
	for _, e := range snap.Edges {
		if e.From == e.To || !(e.Distance > 0) {
			continue
		}
		should[e.Key()] = e
	}

	for _, cur := range g.Edges() {
		want, ok := should[cur.Key()]
		if !ok || want.Type != cur.Type {
			g.RemoveEdge(cur.From, cur.To)
			st.EdgesRemoved++
			continue
		}
		delete(should, cur.Key())
		if want.Distance != cur.Distance {
			if err := g.AddEdge(want); err == nil {
				st.EdgesUpdated++
			}
		}
	}

	for _, e := range should {
		if err := g.AddEdge(e); err != nil {
			st.EdgesSkipped++
			continue
		}
		st.EdgesAdded++
	}
}
