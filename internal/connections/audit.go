package connections

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// ViolationKind names a broken hierarchy rule.
type ViolationKind string

const (
	DuplicateRegionMain  ViolationKind = "duplicate_region_main"
	DuplicateCityMain    ViolationKind = "duplicate_city_main"
	MissingConnection    ViolationKind = "missing_connection"
	WrongType            ViolationKind = "wrong_type"
	UnexpectedConnection ViolationKind = "unexpected_connection"
	InvalidEdge          ViolationKind = "invalid_edge"
)

// Violation is one hierarchy rule a graph version does not satisfy. For
// edge violations Node and Peer are the directed endpoints.
type Violation struct {
	Kind   ViolationKind
	Node   int64
	Peer   int64
	Detail string
}

func (v Violation) String() string {
	if v.Peer != 0 {
		return fmt.Sprintf("%s %d->%d: %s", v.Kind, v.Node, v.Peer, v.Detail)
	}
	return fmt.Sprintf("%s %d: %s", v.Kind, v.Node, v.Detail)
}

// Audit checks g against the warehouse hierarchy and returns every
// violation, ordered by kind, node and peer.
func Audit(g *graph.Graph) []Violation {
	var out []Violation

	var regionMains, cityMains, plain []graphmodel.Node
	for _, n := range g.Nodes() {
		switch n.Level {
		case graphmodel.LevelRegionMain:
			regionMains = append(regionMains, n)
		case graphmodel.LevelCityMain:
			cityMains = append(cityMains, n)
		case graphmodel.LevelCity:
			plain = append(plain, n)
		}
	}

	out = append(out, duplicates(regionMains, DuplicateRegionMain, func(n graphmodel.Node) int64 { return n.Location.RegionID })...)
	out = append(out, duplicates(cityMains, DuplicateCityMain, func(n graphmodel.Node) int64 { return n.Location.CityID })...)

	expected := make(map[graphmodel.EdgeKey]graphmodel.ConnType)
	expect := func(a, b graphmodel.Node, typ graphmodel.ConnType) {
		if a.ID == b.ID {
			return
		}
		expected[graphmodel.EdgeKey{From: a.ID, To: b.ID}] = typ
		expected[graphmodel.EdgeKey{From: b.ID, To: a.ID}] = typ
	}
	for i, rm := range regionMains {
		for _, other := range regionMains[i+1:] {
			if other.Location.CountryID == rm.Location.CountryID {
				expect(rm, other, graphmodel.ConnRegion)
			}
		}
		for _, cm := range cityMains {
			if cm.Location.RegionID == rm.Location.RegionID {
				expect(rm, cm, graphmodel.ConnRegion)
			}
		}
	}
	for i, cm := range cityMains {
		for _, other := range cityMains[i+1:] {
			if other.Location.RegionID == cm.Location.RegionID {
				expect(cm, other, graphmodel.ConnCity)
			}
		}
		for _, p := range plain {
			if p.Location.CityID == cm.Location.CityID {
				expect(cm, p, graphmodel.ConnCity)
			}
		}
	}

	actual := make(map[graphmodel.EdgeKey]graphmodel.Edge)
	for _, e := range g.Edges() {
		actual[e.Key()] = e
		if e.From == e.To || !(e.Distance > 0) {
			out = append(out, Violation{Kind: InvalidEdge, Node: e.From, Peer: e.To,
				Detail: fmt.Sprintf("distance %.1f", e.Distance)})
		}
		typ, ok := expected[e.Key()]
		switch {
		case !ok:
			out = append(out, Violation{Kind: UnexpectedConnection, Node: e.From, Peer: e.To,
				Detail: fmt.Sprintf("%s edge not implied by the hierarchy", e.Type)})
		case typ != e.Type:
			out = append(out, Violation{Kind: WrongType, Node: e.From, Peer: e.To,
				Detail: fmt.Sprintf("want %s, have %s", typ, e.Type)})
		}
	}
	for k, typ := range expected {
		if _, ok := actual[k]; !ok {
			out = append(out, Violation{Kind: MissingConnection, Node: k.From, Peer: k.To,
				Detail: fmt.Sprintf("%s edge expected", typ)})
		}
	}

	slices.SortFunc(out, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Node, b.Node),
			cmp.Compare(a.Peer, b.Peer),
		)
	})
	return out
}

// ExcludeSkipped drops missing connections that a maintainer report
// explains as skipped.
func ExcludeSkipped(vs []Violation, reports ...Report) []Violation {
	out := vs[:0:0]
	for _, v := range vs {
		if v.Kind == MissingConnection && skippedByAny(v.Node, v.Peer, reports) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func skippedByAny(a, b int64, reports []Report) bool {
	for _, r := range reports {
		if r.IsSkipped(a, b) {
			return true
		}
	}
	return false
}

func duplicates(nodes []graphmodel.Node, kind ViolationKind, location func(graphmodel.Node) int64) []Violation {
	byLocation := make(map[int64][]int64)
	for _, n := range nodes {
		byLocation[location(n)] = append(byLocation[location(n)], n.ID)
	}
	var out []Violation
	for loc, ids := range byLocation {
		if len(ids) < 2 {
			continue
		}
		for _, id := range ids {
			out = append(out, Violation{Kind: kind, Node: id, Detail: fmt.Sprintf("location %d has %d mains", loc, len(ids))})
		}
	}
	return out
}
