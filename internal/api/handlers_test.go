package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depotgraph/internal/config"
	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/engine"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/mocks"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/reconcile"
	"github.com/xkilldash9x/depotgraph/internal/store"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// -- Test doubles --

type mockMaintainer struct {
	mock.Mock
}

func (m *mockMaintainer) report(args mock.Arguments) (connections.Report, error) {
	rep, _ := args.Get(0).(connections.Report)
	return rep, args.Error(1)
}

func (m *mockMaintainer) PromoteRegionMain(ctx context.Context, countryID, regionID int64, w graphmodel.Warehouse) (connections.Report, error) {
	return m.report(m.Called(ctx, countryID, regionID, w))
}

func (m *mockMaintainer) PromoteCityMain(ctx context.Context, regionID, cityID int64, regionMain *graphmodel.Warehouse, w graphmodel.Warehouse) (connections.Report, error) {
	return m.report(m.Called(ctx, regionID, cityID, regionMain, w))
}

func (m *mockMaintainer) AddPlainWarehouse(ctx context.Context, cityMain, w graphmodel.Warehouse) (connections.Report, error) {
	return m.report(m.Called(ctx, cityMain, w))
}

func (m *mockMaintainer) DemoteRegionMain(ctx context.Context, regionID, warehouseID int64) (connections.Report, error) {
	return m.report(m.Called(ctx, regionID, warehouseID))
}

func (m *mockMaintainer) DemoteCityMain(ctx context.Context, cityID, warehouseID int64) (connections.Report, error) {
	return m.report(m.Called(ctx, cityID, warehouseID))
}

func (m *mockMaintainer) RemoveWarehouse(ctx context.Context, warehouseID int64) (connections.Report, error) {
	return m.report(m.Called(ctx, warehouseID))
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshLevels(ctx context.Context, levels ...graphmodel.Level) (reconcile.Stats, error) {
	args := m.Called(ctx, levels)
	return args.Get(0).(reconcile.Stats), args.Error(1)
}

func (m *mockRefresher) State() engine.State { return engine.StateIdle }

// -- Fixture --

func labeled(id int64, level graphmodel.Level, building string) graphmodel.Node {
	return graphmodel.Node{
		Warehouse: graphmodel.Warehouse{
			ID:       id,
			Location: graphmodel.Location{CountryID: 1, RegionID: 10, CityID: 100},
			Labels:   graphmodel.Labels{Country: "Poland", Region: "Mazovia", City: "Warsaw", Building: building},
		},
		Level: level,
	}
}

type testEnv struct {
	live       *graph.Live
	dir        *mocks.MockWarehouseDirectory
	maintainer *mockMaintainer
	refresher  *mockRefresher
	metrics    *observability.Metrics
	router     http.Handler
}

// newTestEnv serves a graph 1 -> 2 -> 3 plus an isolated node 4. With
// loaded false nothing is published.
func newTestEnv(t *testing.T, loaded bool) *testEnv {
	t.Helper()
	env := &testEnv{
		live:       graph.NewLive(),
		dir:        new(mocks.MockWarehouseDirectory),
		maintainer: new(mockMaintainer),
		refresher:  new(mockRefresher),
		metrics:    observability.NewMetrics("test"),
	}
	if loaded {
		_, err := env.live.Update(func(g *graph.Graph) error {
			g.AddNode(labeled(1, graphmodel.LevelRegionMain, "North Hub"))
			g.AddNode(labeled(2, graphmodel.LevelCityMain, "Warsaw Main"))
			g.AddNode(labeled(3, graphmodel.LevelCity, "Praga"))
			g.AddNode(labeled(4, graphmodel.LevelCity, "Island"))
			for _, e := range []graphmodel.Edge{
				{From: 1, To: 2, Distance: 500, Type: graphmodel.ConnRegion},
				{From: 2, To: 3, Distance: 40.5, Type: graphmodel.ConnCity},
			} {
				if err := g.AddEdge(e); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	h := NewHandlers(env.live, env.refresher, env.maintainer, env.dir, 20*time.Millisecond, env.metrics, zaptest.NewLogger(t))
	srv := NewServer(
		config.ServerConfig{RequestTimeout: 5 * time.Second},
		config.MetricsConfig{Enabled: true, Path: "/metrics"},
		h, env.metrics, zaptest.NewLogger(t),
	)
	env.router = srv.Router()
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string) (int, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

// -- Test Cases --

func TestHandleGraphCalc(t *testing.T) {
	t.Run("should return the shortest path", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, body := env.do(t, http.MethodGet, "/graph-calc/warehouses?fromId=1&toId=3", "")

		require.Equal(t, http.StatusOK, code, body)
		assert.JSONEq(t, `{
			"nodes": [
				{"id":1,"level":"region_main","country":"Poland","region":"Mazovia","city":"Warsaw","building":"North Hub"},
				{"id":2,"level":"city_main","country":"Poland","region":"Mazovia","city":"Warsaw","building":"Warsaw Main"},
				{"id":3,"level":"city","country":"Poland","region":"Mazovia","city":"Warsaw","building":"Praga"}
			],
			"distance": 540.5
		}`, body)
	})

	badRequests := []struct {
		name, target, want string
	}{
		{"unsupported building type", "/graph-calc/shops?fromId=1&toId=3", "unsupported building type"},
		{"missing fromId", "/graph-calc/warehouses?toId=3", "invalid fromId: missing"},
		{"non-numeric toId", "/graph-calc/warehouses?fromId=1&toId=abc", "invalid toId"},
		{"non-positive id", "/graph-calc/warehouses?fromId=0&toId=3", "not a positive id"},
	}
	for _, tc := range badRequests {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			code, body := env.do(t, http.MethodGet, tc.target, "")
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body, tc.want)
		})
	}

	t.Run("should return 404 for unknown warehouses and missing paths", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, body := env.do(t, http.MethodGet, "/graph-calc/warehouses?fromId=1&toId=77", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Contains(t, body, "node not found")

		code, body = env.do(t, http.MethodGet, "/graph-calc/warehouses?fromId=3&toId=1", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Contains(t, body, "no path found")
	})

	t.Run("should return 503 while nothing is loaded", func(t *testing.T) {
		env := newTestEnv(t, false)
		code, body := env.do(t, http.MethodGet, "/graph-calc/warehouses?fromId=1&toId=3", "")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body, "not loaded")
	})

	t.Run("should answer from a loaded graph without waiting", func(t *testing.T) {
		env := newTestEnv(t, true)
		h := NewHandlers(env.live, nil, nil, nil, 0, nil, zaptest.NewLogger(t))
		router := NewServer(config.ServerConfig{RequestTimeout: time.Second}, config.MetricsConfig{}, h, nil, zaptest.NewLogger(t)).Router()

		for i := 0; i < 50; i++ {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph-calc/warehouses?fromId=1&toId=3", nil))
			require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		}
	})

	t.Run("should expose query outcomes as metrics", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.do(t, http.MethodGet, "/graph-calc/warehouses?fromId=1&toId=3", "")

		code, body := env.do(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, `test_path_queries_total{result="found"} 1`)
		assert.Contains(t, body, `route="/graph-calc/{buildingType}"`)
	})
}

func TestHandleHealthCheck(t *testing.T) {
	env := newTestEnv(t, true)
	code, body := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"success","data":{"state":"idle","ready":true,"version":1,"nodes":4,"edges":2}}`, body)
}

func TestHandleRefresh(t *testing.T) {
	env := newTestEnv(t, true)
	env.refresher.On("RefreshLevels", mock.Anything, []graphmodel.Level{graphmodel.LevelCityMain}).
		Return(reconcile.Stats{NodesRelabeled: 2}, nil).Once()
	env.refresher.On("RefreshLevels", mock.Anything, []graphmodel.Level(nil)).
		Return(reconcile.Stats{}, fmt.Errorf("refresh: %w", store.ErrSnapshotFetchFailed)).Once()

	code, body := env.do(t, http.MethodPost, "/api/v1/refresh?level=city_main", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"nodesRelabeled":2`)

	code, _ = env.do(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/refresh?level=depot", "")
	assert.Equal(t, http.StatusBadRequest, code)
	env.refresher.AssertExpectations(t)
}

func TestConnectionRoutes(t *testing.T) {
	w5 := labeled(5, graphmodel.LevelCity, "New Main")
	rm := labeled(1, graphmodel.LevelRegionMain, "North Hub")

	t.Run("should promote a city main and render the report", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.dir.On("Warehouse", mock.Anything, int64(5)).Return(w5, nil)
		env.dir.On("Warehouse", mock.Anything, int64(1)).Return(rm, nil)
		env.maintainer.On("PromoteCityMain", mock.Anything, int64(10), int64(100), &rm.Warehouse, w5.Warehouse).
			Return(connections.Report{
				Inserted: []graphmodel.Connection{{A: 5, B: 1, Type: graphmodel.ConnRegion, Forward: 900, Reverse: 950}},
				Skipped: []connections.Skip{{
					Pair:   graphmodel.Pair{A: 5, B: 3, Type: graphmodel.ConnCity},
					Reason: fmt.Errorf("%w: too far", connections.ErrRouteTooLong),
				}},
				Version: 2,
			}, nil)

		code, body := env.do(t, http.MethodPost, "/api/v1/connections/city-main",
			`{"regionId":10,"cityId":100,"regionMainId":1,"warehouseId":5}`)
		require.Equal(t, http.StatusOK, code, body)
		assert.JSONEq(t, `{"status":"success","data":{
			"inserted":[{"a":5,"b":1,"type":"region","forward":900,"reverse":950}],
			"unreachable":[],
			"tooLong":[{"a":5,"b":3,"type":"city"}],
			"demoted":[],
			"edgesRemoved":0,
			"version":2
		}}`, body)
		env.maintainer.AssertExpectations(t)
	})

	t.Run("should return 404 for unknown warehouses", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.dir.On("Warehouse", mock.Anything, int64(9)).
			Return(graphmodel.Node{}, fmt.Errorf("warehouse 9: %w", store.ErrWarehouseNotFound))

		code, _ := env.do(t, http.MethodPost, "/api/v1/connections/region-main", `{"countryId":1,"regionId":10,"warehouseId":9}`)
		assert.Equal(t, http.StatusNotFound, code)
		env.maintainer.AssertNotCalled(t, "PromoteRegionMain", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should map provider failures to 502", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.dir.On("Warehouse", mock.Anything, int64(5)).Return(w5, nil)
		env.dir.On("Warehouse", mock.Anything, int64(2)).Return(labeled(2, graphmodel.LevelCityMain, "Warsaw Main"), nil)
		env.maintainer.On("AddPlainWarehouse", mock.Anything, mock.Anything, mock.Anything).
			Return(connections.Report{}, fmt.Errorf("%w: %w: %w", connections.ErrPromotionFailed, connections.ErrPricingFailed, distance.ErrProviderUnavailable))

		code, body := env.do(t, http.MethodPost, "/api/v1/connections/plain", `{"cityMainId":2,"warehouseId":5}`)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Contains(t, body, `"status":"error"`)
	})

	t.Run("should map other maintainer failures to 500", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.maintainer.On("RemoveWarehouse", mock.Anything, int64(3)).
			Return(connections.Report{}, errors.New("tx aborted"))

		code, _ := env.do(t, http.MethodDelete, "/api/v1/warehouses/3", "")
		assert.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("should demote through path parameters", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.maintainer.On("DemoteCityMain", mock.Anything, int64(100), int64(2)).
			Return(connections.Report{Demoted: []int64{2}, EdgesRemoved: 2, Version: 2}, nil)
		env.maintainer.On("DemoteRegionMain", mock.Anything, int64(10), int64(1)).
			Return(connections.Report{Demoted: []int64{1}, EdgesRemoved: 1, Version: 3}, nil)

		code, body := env.do(t, http.MethodDelete, "/api/v1/connections/city-main/100/2", "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, `"edgesRemoved":2`)

		code, _ = env.do(t, http.MethodDelete, "/api/v1/connections/region-main/10/1", "")
		assert.Equal(t, http.StatusOK, code)

		code, _ = env.do(t, http.MethodDelete, "/api/v1/connections/region-main/x/1", "")
		assert.Equal(t, http.StatusBadRequest, code)
		env.maintainer.AssertExpectations(t)
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, _ := env.do(t, http.MethodPost, "/api/v1/connections/region-main", `{"countryId":`)
		assert.Equal(t, http.StatusBadRequest, code)

		code, body := env.do(t, http.MethodPost, "/api/v1/connections/city-main", `{"regionId":10}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, "required")
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		store.ErrWarehouseNotFound:         http.StatusNotFound,
		graph.ErrNoPathFound:               http.StatusNotFound,
		distance.ErrProviderUnavailable:    http.StatusBadGateway,
		connections.ErrPricingFailed:       http.StatusBadGateway,
		connections.ErrPromotionFailed:     http.StatusInternalServerError,
		graph.ErrStaleVersion:              http.StatusConflict,
		context.DeadlineExceeded:           http.StatusGatewayTimeout,
		errors.New("something unexpected"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

func TestServer_Serve(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewHandlers(env.live, nil, nil, nil, time.Second, nil, nil)
	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, config.MetricsConfig{}, h, nil, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/v1/connections/plain", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "admin routes are off without a maintainer")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
