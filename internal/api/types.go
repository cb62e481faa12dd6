// File: internal/api/types.go
package api

import (
	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// Response is the envelope of every admin and error response.
type Response struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// NodeView is one hop of a path as returned by the query endpoint.
type NodeView struct {
	ID       int64            `json:"id"`
	Level    graphmodel.Level `json:"level"`
	Country  string           `json:"country"`
	Region   string           `json:"region"`
	City     string           `json:"city"`
	Building string           `json:"building"`
}

// PathResponse is the body of a successful graph-calc query.
type PathResponse struct {
	Nodes    []NodeView `json:"nodes"`
	Distance float64    `json:"distance"`
}

// HealthResponse describes the refresh loop and the published graph.
type HealthResponse struct {
	State   string `json:"state"`
	Ready   bool   `json:"ready"`
	Version uint64 `json:"version"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
}

// PromoteRegionMainRequest is the body of POST /api/v1/connections/region-main.
type PromoteRegionMainRequest struct {
	CountryID   int64 `json:"countryId"`
	RegionID    int64 `json:"regionId"`
	WarehouseID int64 `json:"warehouseId"`
}

// PromoteCityMainRequest is the body of POST /api/v1/connections/city-main.
type PromoteCityMainRequest struct {
	RegionID     int64  `json:"regionId"`
	CityID       int64  `json:"cityId"`
	RegionMainID *int64 `json:"regionMainId,omitempty"`
	WarehouseID  int64  `json:"warehouseId"`
}

// AddPlainRequest is the body of POST /api/v1/connections/plain.
type AddPlainRequest struct {
	CityMainID  int64 `json:"cityMainId"`
	WarehouseID int64 `json:"warehouseId"`
}

type ConnectionView struct {
	A       int64               `json:"a"`
	B       int64               `json:"b"`
	Type    graphmodel.ConnType `json:"type"`
	Forward float64             `json:"forward"`
	Reverse float64             `json:"reverse"`
}

type PairView struct {
	A    int64               `json:"a"`
	B    int64               `json:"b"`
	Type graphmodel.ConnType `json:"type"`
}

// ReportView is the data of a successful maintainer call.
type ReportView struct {
	Inserted     []ConnectionView `json:"inserted"`
	Unreachable  []PairView       `json:"unreachable"`
	TooLong      []PairView       `json:"tooLong"`
	StaleRole    []PairView       `json:"staleRole,omitempty"`
	Demoted      []int64          `json:"demoted"`
	EdgesRemoved int              `json:"edgesRemoved"`
	Version      uint64           `json:"version"`
}

// RefreshView is the data of a manual refresh.
type RefreshView struct {
	NodesAdded     int    `json:"nodesAdded"`
	NodesRemoved   int    `json:"nodesRemoved"`
	NodesRelabeled int    `json:"nodesRelabeled"`
	EdgesAdded     int    `json:"edgesAdded"`
	EdgesRemoved   int    `json:"edgesRemoved"`
	EdgesUpdated   int    `json:"edgesUpdated"`
	EdgesSkipped   int    `json:"edgesSkipped"`
	Version        uint64 `json:"version"`
}

// NewPathResponse renders a path for API and CLI output.
func NewPathResponse(nodes []graphmodel.Node, distance float64) PathResponse {
	resp := PathResponse{Nodes: make([]NodeView, 0, len(nodes)), Distance: distance}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, NodeView{
			ID:       n.ID,
			Level:    n.Level,
			Country:  n.Labels.Country,
			Region:   n.Labels.Region,
			City:     n.Labels.City,
			Building: n.Labels.Building,
		})
	}
	return resp
}

func newReportView(rep connections.Report) ReportView {
	view := ReportView{
		Inserted:     make([]ConnectionView, 0, len(rep.Inserted)),
		Unreachable:  pairViews(rep.Unreachable()),
		TooLong:      pairViews(rep.TooLong()),
		StaleRole:    pairViews(rep.StaleRoles()),
		Demoted:      rep.Demoted,
		EdgesRemoved: rep.EdgesRemoved,
		Version:      rep.Version,
	}
	if view.Demoted == nil {
		view.Demoted = []int64{}
	}
	for _, c := range rep.Inserted {
		view.Inserted = append(view.Inserted, ConnectionView{A: c.A, B: c.B, Type: c.Type, Forward: c.Forward, Reverse: c.Reverse})
	}
	return view
}

func pairViews(pairs []graphmodel.Pair) []PairView {
	out := make([]PairView, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, PairView{A: p.A, B: p.B, Type: p.Type})
	}
	return out
}
