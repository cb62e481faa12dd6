package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// ErrNoPathFound is returned when both endpoints exist but nothing connects them.
var ErrNoPathFound = errors.New("no path found")

// Path is a route through the graph, starting at the source node.
type Path struct {
	Nodes    []graphmodel.Node
	Distance float64
}

// HasPath reports whether to is reachable from from along directed edges.
// Unknown ids are unreachable. A known node always reaches itself.
func (g *Graph) HasPath(from, to int64) bool {
	if !g.HasNode(from) || !g.HasNode(to) {
		return false
	}
	if from == to {
		return true
	}

	visited := map[int64]struct{}{from: {}}
	queue := []int64{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.out[cur] {
			if next == to {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// ShortestPath runs Dijkstra over edge distances.
func (g *Graph) ShortestPath(from, to int64) (Path, error) {
	src, ok := g.nodes[from]
	if !ok {
		return Path{}, fmt.Errorf("source %d: %w", from, ErrNodeNotFound)
	}
	if _, ok := g.nodes[to]; !ok {
		return Path{}, fmt.Errorf("destination %d: %w", to, ErrNodeNotFound)
	}
	if from == to {
		return Path{Nodes: []graphmodel.Node{src}}, nil
	}

	dist := map[int64]float64{from: 0}
	prev := make(map[int64]int64)
	done := make(map[int64]struct{})

	pq := &distQueue{{id: from, dist: 0}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(distItem)
		if _, settled := done[item.id]; settled {
			continue
		}
		done[item.id] = struct{}{}
		if item.id == to {
			break
		}
		for next, e := range g.out[item.id] {
			if _, settled := done[next]; settled {
				continue
			}
			alt := item.dist + e.Distance
			if cur, seen := dist[next]; !seen || alt < cur {
				dist[next] = alt
				prev[next] = item.id
				heap.Push(pq, distItem{id: next, dist: alt})
			}
		}
	}

	total, reached := dist[to]
	if !reached || math.IsInf(total, 1) {
		return Path{}, fmt.Errorf("%d -> %d: %w", from, to, ErrNoPathFound)
	}

	var ids []int64
	for at := to; ; at = prev[at] {
		ids = append(ids, at)
		if at == from {
			break
		}
	}
	nodes := make([]graphmodel.Node, len(ids))
	for i, id := range ids {
		nodes[len(ids)-1-i] = g.nodes[id]
	}
	return Path{Nodes: nodes, Distance: total}, nil
}

type distItem struct {
	id   int64
	dist float64
}

// distQueue is a min-heap of tentative distances.
type distQueue []distItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist == q[j].dist {
		return q[i].id < q[j].id
	}
	return q[i].dist < q[j].dist
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distQueue) Push(x any) { *q = append(*q, x.(distItem)) }

func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
