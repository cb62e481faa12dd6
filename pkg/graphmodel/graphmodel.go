// File:         pkg/graphmodel/graphmodel.go
// Description:  Consolidated data models for the warehouse connectivity graph:
//               warehouses, graph nodes and edges, typed connections and snapshots.
package graphmodel

import "fmt"

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Location holds the ids of the hierarchy a warehouse belongs to.
type Location struct {
	CountryID int64 `json:"countryId"`
	RegionID  int64 `json:"regionId"`
	CityID    int64 `json:"cityId"`
}

// Labels are denormalized location names used for display only.
type Labels struct {
	Country  string `json:"country"`
	Region   string `json:"region"`
	City     string `json:"city"`
	Building string `json:"building"`
}

// Warehouse is a warehouse as known to the backing store.
type Warehouse struct {
	ID          int64       `json:"id"`
	Location    Location    `json:"location"`
	Labels      Labels      `json:"labels"`
	Coordinates Coordinates `json:"coordinates"`
}

// Node is a warehouse placed in the graph at a hierarchy level.
type Node struct {
	Warehouse
	Level Level `json:"level"`
}

// Edge is one direction of a connection between two warehouses.
type Edge struct {
	From     int64    `json:"from"`
	To       int64    `json:"to"`
	Distance float64  `json:"distance"`
	Type     ConnType `json:"type"`
}

// Key identifies an edge by its ordered endpoints.
func (e Edge) Key() EdgeKey { return EdgeKey{From: e.From, To: e.To} }

// EdgeKey is the (from, to) identity of a directed edge.
type EdgeKey struct {
	From int64
	To   int64
}

// Connection is the logical, bidirectional link between two warehouses.
// Road distance is not symmetric, so each direction carries its own distance.
type Connection struct {
	A       int64    `json:"a"`
	B       int64    `json:"b"`
	Type    ConnType `json:"type"`
	Forward float64  `json:"forward"` // A -> B
	Reverse float64  `json:"reverse"` // B -> A
}

// Edges expands the connection into its two directed edges.
func (c Connection) Edges() [2]Edge {
	return [2]Edge{
		{From: c.A, To: c.B, Distance: c.Forward, Type: c.Type},
		{From: c.B, To: c.A, Distance: c.Reverse, Type: c.Type},
	}
}

// Pair is an unordered candidate connection that was not priced into a Connection.
type Pair struct {
	A    int64    `json:"a"`
	B    int64    `json:"b"`
	Type ConnType `json:"type"`
}

// Snapshot is a full read of node and edge state from the backing store.
type Snapshot struct {
	// Levels lists which level views were read. Nodes at other levels must be
	// left alone when the snapshot is applied.
	Levels []Level
	// ValidIDs is every warehouse id the store currently knows. Nil means unknown.
	ValidIDs    map[int64]struct{}
	RegionMains []Node
	CityMains   []Node
	Plain       []Node
	Edges       []Edge
}

// Nodes returns every node in the snapshot regardless of level.
func (s *Snapshot) Nodes() []Node {
	nodes := make([]Node, 0, len(s.RegionMains)+len(s.CityMains)+len(s.Plain))
	nodes = append(nodes, s.RegionMains...)
	nodes = append(nodes, s.CityMains...)
	nodes = append(nodes, s.Plain...)
	return nodes
}

// Covers reports whether the snapshot carries the view for level l.
func (s *Snapshot) Covers(l Level) bool {
	for _, fetched := range s.Levels {
		if fetched == l {
			return true
		}
	}
	return false
}
