// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/engine"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/reconcile"
	"github.com/xkilldash9x/depotgraph/internal/store"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// buildingTypeWarehouses is the only building type the graph holds.
const buildingTypeWarehouses = "warehouses"

// Maintainer is the connection maintenance surface exposed over HTTP.
type Maintainer interface {
	PromoteRegionMain(ctx context.Context, countryID, regionID int64, w graphmodel.Warehouse) (connections.Report, error)
	PromoteCityMain(ctx context.Context, regionID, cityID int64, regionMain *graphmodel.Warehouse, w graphmodel.Warehouse) (connections.Report, error)
	AddPlainWarehouse(ctx context.Context, cityMain, w graphmodel.Warehouse) (connections.Report, error)
	DemoteRegionMain(ctx context.Context, regionID, warehouseID int64) (connections.Report, error)
	DemoteCityMain(ctx context.Context, cityID, warehouseID int64) (connections.Report, error)
	RemoveWarehouse(ctx context.Context, warehouseID int64) (connections.Report, error)
}

// Refresher triggers and reports graph refreshes.
type Refresher interface {
	RefreshLevels(ctx context.Context, levels ...graphmodel.Level) (reconcile.Stats, error)
	State() engine.State
}

// Handlers manages the HTTP request handling of the service.
type Handlers struct {
	live         *graph.Live
	refresher    Refresher
	maintainer   Maintainer
	dir          graphmodel.WarehouseDirectory
	readyTimeout time.Duration
	metrics      *observability.Metrics
	log          *zap.Logger
}

// NewHandlers creates a new Handlers instance. maintainer and dir may be nil,
// in which case the admin routes are not registered.
func NewHandlers(
	live *graph.Live,
	refresher Refresher,
	maintainer Maintainer,
	dir graphmodel.WarehouseDirectory,
	readyTimeout time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		live:         live,
		refresher:    refresher,
		maintainer:   maintainer,
		dir:          dir,
		readyTimeout: readyTimeout,
		metrics:      metrics,
		log:          logger.Named("api_handlers"),
	}
}

// RegisterRoutes sets up the routing for the query and admin endpoints.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Get("/graph-calc/{buildingType}", h.HandleGraphCalc)

	r.Route("/api/v1", func(r chi.Router) {
		if h.refresher != nil {
			r.Post("/refresh", h.HandleRefresh)
		}
		if h.maintainer == nil || h.dir == nil {
			return
		}
		r.Route("/connections", func(r chi.Router) {
			r.Post("/region-main", h.HandlePromoteRegionMain)
			r.Post("/city-main", h.HandlePromoteCityMain)
			r.Post("/plain", h.HandleAddPlain)
			r.Delete("/region-main/{regionID}/{warehouseID}", h.HandleDemoteRegionMain)
			r.Delete("/city-main/{cityID}/{warehouseID}", h.HandleDemoteCityMain)
		})
		r.Delete("/warehouses/{warehouseID}", h.HandleRemoveWarehouse)
	})
}

// HandleHealthCheck reports the refresh state and the published graph size.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{State: engine.StateIdle.String(), Ready: h.live.Ready(), Version: h.live.Version()}
	if h.refresher != nil {
		resp.State = h.refresher.State().String()
	}
	if g := h.live.Snapshot(); g != nil {
		resp.Nodes, resp.Edges = g.NodeCount(), g.EdgeCount()
	}
	h.respondWithSuccess(w, http.StatusOK, resp)
}

// HandleGraphCalc answers GET /graph-calc/{buildingType}?fromId=&toId= with
// the shortest path between two warehouses.
func (h *Handlers) HandleGraphCalc(w http.ResponseWriter, r *http.Request) {
	if bt := chi.URLParam(r, "buildingType"); bt != buildingTypeWarehouses {
		h.metrics.RecordPathQuery("bad_request")
		h.respondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported building type %q, only %q can be routed", bt, buildingTypeWarehouses))
		return
	}
	from, err := parseID(r.URL.Query().Get("fromId"))
	if err != nil {
		h.metrics.RecordPathQuery("bad_request")
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid fromId: %v", err))
		return
	}
	to, err := parseID(r.URL.Query().Get("toId"))
	if err != nil {
		h.metrics.RecordPathQuery("bad_request")
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid toId: %v", err))
		return
	}

	g := h.live.Snapshot()
	if g == nil {
		waitCtx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
		g, err = h.live.WaitReady(waitCtx)
		cancel()
		if err != nil {
			h.metrics.RecordPathQuery("not_ready")
			h.log.Warn("Path query while graph is not loaded", zap.Duration("waited", h.readyTimeout))
			h.respondWithError(w, http.StatusServiceUnavailable, "graph is not loaded yet, retry shortly")
			return
		}
	}

	path, err := g.ShortestPath(from, to)
	switch {
	case errors.Is(err, graph.ErrNodeNotFound):
		h.metrics.RecordPathQuery("unknown_node")
		h.respondWithError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, graph.ErrNoPathFound):
		h.metrics.RecordPathQuery("no_path")
		h.respondWithError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.metrics.RecordPathQuery("error")
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.RecordPathQuery("found")
	h.respondJSON(w, http.StatusOK, NewPathResponse(path.Nodes, path.Distance))
}

// HandleRefresh runs a refresh cycle now, optionally limited to one level.
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var levels []graphmodel.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		lvl, err := graphmodel.ParseLevel(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		levels = append(levels, lvl)
	}

	stats, err := h.refresher.RefreshLevels(r.Context(), levels...)
	if err != nil {
		h.respondWithErr(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, RefreshView{
		NodesAdded:     stats.NodesAdded,
		NodesRemoved:   stats.NodesRemoved,
		NodesRelabeled: stats.NodesRelabeled,
		EdgesAdded:     stats.EdgesAdded,
		EdgesRemoved:   stats.EdgesRemoved,
		EdgesUpdated:   stats.EdgesUpdated,
		EdgesSkipped:   stats.EdgesSkipped,
		Version:        h.live.Version(),
	})
}

func (h *Handlers) HandlePromoteRegionMain(w http.ResponseWriter, r *http.Request) {
	var req PromoteRegionMainRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CountryID <= 0 || req.RegionID <= 0 || req.WarehouseID <= 0 {
		h.respondWithError(w, http.StatusBadRequest, "countryId, regionId and warehouseId are required")
		return
	}
	wh, ok := h.lookup(w, r, req.WarehouseID)
	if !ok {
		return
	}
	rep, err := h.maintainer.PromoteRegionMain(r.Context(), req.CountryID, req.RegionID, wh.Warehouse)
	h.respondWithReport(w, rep, err)
}

func (h *Handlers) HandlePromoteCityMain(w http.ResponseWriter, r *http.Request) {
	var req PromoteCityMainRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RegionID <= 0 || req.CityID <= 0 || req.WarehouseID <= 0 {
		h.respondWithError(w, http.StatusBadRequest, "regionId, cityId and warehouseId are required")
		return
	}
	wh, ok := h.lookup(w, r, req.WarehouseID)
	if !ok {
		return
	}
	var regionMain *graphmodel.Warehouse
	if req.RegionMainID != nil {
		rm, ok := h.lookup(w, r, *req.RegionMainID)
		if !ok {
			return
		}
		regionMain = &rm.Warehouse
	}
	rep, err := h.maintainer.PromoteCityMain(r.Context(), req.RegionID, req.CityID, regionMain, wh.Warehouse)
	h.respondWithReport(w, rep, err)
}

func (h *Handlers) HandleAddPlain(w http.ResponseWriter, r *http.Request) {
	var req AddPlainRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CityMainID <= 0 || req.WarehouseID <= 0 {
		h.respondWithError(w, http.StatusBadRequest, "cityMainId and warehouseId are required")
		return
	}
	cm, ok := h.lookup(w, r, req.CityMainID)
	if !ok {
		return
	}
	wh, ok := h.lookup(w, r, req.WarehouseID)
	if !ok {
		return
	}
	rep, err := h.maintainer.AddPlainWarehouse(r.Context(), cm.Warehouse, wh.Warehouse)
	h.respondWithReport(w, rep, err)
}

func (h *Handlers) HandleDemoteRegionMain(w http.ResponseWriter, r *http.Request) {
	regionID, warehouseID, ok := h.pathIDs(w, r, "regionID")
	if !ok {
		return
	}
	rep, err := h.maintainer.DemoteRegionMain(r.Context(), regionID, warehouseID)
	h.respondWithReport(w, rep, err)
}

func (h *Handlers) HandleDemoteCityMain(w http.ResponseWriter, r *http.Request) {
	cityID, warehouseID, ok := h.pathIDs(w, r, "cityID")
	if !ok {
		return
	}
	rep, err := h.maintainer.DemoteCityMain(r.Context(), cityID, warehouseID)
	h.respondWithReport(w, rep, err)
}

func (h *Handlers) HandleRemoveWarehouse(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "warehouseID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid warehouseID: %v", err))
		return
	}
	rep, err := h.maintainer.RemoveWarehouse(r.Context(), id)
	h.respondWithReport(w, rep, err)
}

// -- helpers --

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("missing")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%d is not a positive id", id)
	}
	return id, nil
}

func (h *Handlers) pathIDs(w http.ResponseWriter, r *http.Request, locationParam string) (int64, int64, bool) {
	loc, err := parseID(chi.URLParam(r, locationParam))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", locationParam, err))
		return 0, 0, false
	}
	id, err := parseID(chi.URLParam(r, "warehouseID"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid warehouseID: %v", err))
		return 0, 0, false
	}
	return loc, id, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request, id int64) (graphmodel.Node, bool) {
	n, err := h.dir.Warehouse(r.Context(), id)
	if err != nil {
		h.respondWithErr(w, err)
		return graphmodel.Node{}, false
	}
	return n, true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrWarehouseNotFound),
		errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, graph.ErrNoPathFound):
		return http.StatusNotFound
	case errors.Is(err, connections.ErrPricingFailed),
		errors.Is(err, distance.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, graph.ErrStaleVersion):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondWithReport(w http.ResponseWriter, rep connections.Report, err error) {
	if err != nil {
		h.respondWithErr(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, newReportView(rep))
}

func (h *Handlers) respondWithErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	h.respondWithError(w, status, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondJSON(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
