package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var warehouseCols = []string{
	"warehouse_id", "country_id", "region_id", "city_id",
	"country_name", "region_name", "city_name", "building_name",
	"latitude", "longitude",
}

func warehouseRows(rows ...[]any) *pgxmock.Rows {
	r := pgxmock.NewRows(warehouseCols)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func row(id, country, region, city int64, building string) []any {
	return []any{id, country, region, city, "Poland", "Mazovia", "Warsaw", building, 52.23, 21.01}
}

func newTestStore(t *testing.T, mock pgxmock.PgxPoolIface, readChannels int) *Store {
	t.Helper()
	s, err := New(context.Background(), mock, readChannels, zap.NewNop())
	require.NoError(t, err)
	return s
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, 4, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestFetchSnapshot(t *testing.T) {
	t.Run("should read every view concurrently", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.MatchExpectationsInOrder(false)
		s := newTestStore(t, mockPool, 5)

		mockPool.ExpectQuery(`SELECT id FROM warehouses`).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))
		mockPool.ExpectQuery(`FROM region_main_warehouses`).
			WillReturnRows(warehouseRows(row(1, 1, 10, 100, "North Hub")))
		mockPool.ExpectQuery(`FROM city_main_warehouses`).
			WillReturnRows(warehouseRows(row(2, 1, 10, 100, "Warsaw Main")))
		mockPool.ExpectQuery(`FROM plain_warehouses`).
			WillReturnRows(warehouseRows(row(3, 1, 10, 100, "Praga Depot")))
		mockPool.ExpectQuery(`FROM warehouse_connections`).
			WillReturnRows(pgxmock.NewRows([]string{"from_id", "to_id", "distance", "conn_type"}).
				AddRow(int64(1), int64(2), 1200.0, "region").
				AddRow(int64(2), int64(1), 1300.0, "region"))

		snap, err := s.FetchSnapshot(context.Background())
		require.NoError(t, err)

		assert.Equal(t, graphmodel.Levels, snap.Levels)
		assert.Len(t, snap.ValidIDs, 3)
		require.Len(t, snap.RegionMains, 1)
		assert.Equal(t, graphmodel.LevelRegionMain, snap.RegionMains[0].Level)
		assert.Equal(t, "North Hub", snap.RegionMains[0].Labels.Building)
		require.Len(t, snap.CityMains, 1)
		assert.Equal(t, int64(100), snap.CityMains[0].Location.CityID)
		require.Len(t, snap.Plain, 1)
		assert.Equal(t, graphmodel.LevelCity, snap.Plain[0].Level)
		assert.Equal(t, []graphmodel.Edge{
			{From: 1, To: 2, Distance: 1200, Type: graphmodel.ConnRegion},
			{From: 2, To: 1, Distance: 1300, Type: graphmodel.ConnRegion},
		}, snap.Edges)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should restrict level views but always read ids and edges", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		mockPool.ExpectQuery(`SELECT id FROM warehouses`).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
		mockPool.ExpectQuery(`FROM city_main_warehouses`).
			WillReturnRows(warehouseRows(row(2, 1, 10, 100, "Warsaw Main")))
		mockPool.ExpectQuery(`FROM warehouse_connections`).
			WillReturnRows(pgxmock.NewRows([]string{"from_id", "to_id", "distance", "conn_type"}))

		snap, err := s.FetchSnapshot(context.Background(), graphmodel.LevelCityMain, graphmodel.LevelCityMain)
		require.NoError(t, err)
		assert.Equal(t, []graphmodel.Level{graphmodel.LevelCityMain}, snap.Levels)
		assert.Nil(t, snap.RegionMains)
		assert.Len(t, snap.CityMains, 1)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail the whole fetch when one query fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(`SELECT id FROM warehouses`).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
		mockPool.ExpectQuery(`FROM plain_warehouses`).
			WillReturnRows(warehouseRows(row(3, 1, 10, 100, "Praga Depot")))
		mockPool.ExpectQuery(`FROM warehouse_connections`).WillReturnError(queryErr)

		snap, err := s.FetchSnapshot(context.Background(), graphmodel.LevelCity)
		assert.Nil(t, snap)
		assert.ErrorIs(t, err, ErrSnapshotFetchFailed)
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip connections with an unknown type", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		core, logs := observer.New(zapcore.WarnLevel)
		s, err := New(context.Background(), mockPool, 1, zap.New(core))
		require.NoError(t, err)

		mockPool.ExpectQuery(`SELECT id FROM warehouses`).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mockPool.ExpectQuery(`FROM plain_warehouses`).
			WillReturnRows(warehouseRows())
		mockPool.ExpectQuery(`FROM warehouse_connections`).
			WillReturnRows(pgxmock.NewRows([]string{"from_id", "to_id", "distance", "conn_type"}).
				AddRow(int64(1), int64(2), 10.0, "country").
				AddRow(int64(2), int64(1), 10.0, "city"))

		snap, err := s.FetchSnapshot(context.Background(), graphmodel.LevelCity)
		require.NoError(t, err)
		assert.Len(t, snap.Edges, 1)
		assert.Equal(t, 1, logs.FilterMessage("Skipping connection with unknown type").Len())
	})
}

func TestDirectoryLookups(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	s := newTestStore(t, mockPool, 1)

	mockPool.ExpectQuery(`FROM region_main_warehouses WHERE country_id = \$1`).WithArgs(int64(1)).
		WillReturnRows(warehouseRows(row(1, 1, 10, 100, "North Hub"), row(4, 1, 20, 200, "South Hub")))
	mockPool.ExpectQuery(`FROM city_main_warehouses WHERE region_id = \$1`).WithArgs(int64(10)).
		WillReturnRows(warehouseRows(row(2, 1, 10, 100, "Warsaw Main")))
	mockPool.ExpectQuery(`FROM plain_warehouses WHERE city_id = \$1`).WithArgs(int64(100)).
		WillReturnRows(warehouseRows())

	regionMains, err := s.RegionMains(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, regionMains, 2)

	cityMains, err := s.CityMains(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, cityMains, 1)
	assert.Equal(t, graphmodel.LevelCityMain, cityMains[0].Level)

	plain, err := s.PlainWarehouses(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, plain)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestWarehouse(t *testing.T) {
	cols := append([]string{"level"}, warehouseCols...)

	t.Run("should resolve the level from the matching view", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		mockPool.ExpectQuery(`UNION ALL`).WithArgs(int64(2)).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(append([]any{"city_main"}, row(2, 1, 10, 100, "Warsaw Main")...)...))

		n, err := s.Warehouse(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, graphmodel.LevelCityMain, n.Level)
		assert.Equal(t, "Warsaw Main", n.Labels.Building)
		assert.Equal(t, 52.23, n.Coordinates.Latitude)
	})

	t.Run("should report unknown warehouses", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		mockPool.ExpectQuery(`UNION ALL`).WithArgs(int64(99)).WillReturnRows(pgxmock.NewRows(cols))

		_, err = s.Warehouse(context.Background(), 99)
		assert.ErrorIs(t, err, ErrWarehouseNotFound)
	})
}

func TestApplyConnectionChanges(t *testing.T) {
	changes := graphmodel.ConnectionChanges{
		Detach: []int64{5},
		Add: []graphmodel.Connection{
			{A: 5, B: 1, Type: graphmodel.ConnRegion, Forward: 1000, Reverse: 1100},
		},
	}

	t.Run("should detach and upsert in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`DELETE FROM warehouse_connections`).WithArgs([]int64{5}).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))
		mockPool.ExpectExec(`INSERT INTO warehouse_connections`).WithArgs(int64(5), int64(1), 1000.0, "region").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`INSERT INTO warehouse_connections`).WithArgs(int64(1), int64(5), 1100.0, "region").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, s.ApplyConnectionChanges(context.Background(), changes))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back on a failed upsert", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		execErr := errors.New("unique violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(`DELETE FROM warehouse_connections`).WithArgs([]int64{5}).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectExec(`INSERT INTO warehouse_connections`).WillReturnError(execErr)
		mockPool.ExpectRollback()

		err = s.ApplyConnectionChanges(context.Background(), changes)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should not open a transaction for an empty change set", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		s := newTestStore(t, mockPool, 1)

		require.NoError(t, s.ApplyConnectionChanges(context.Background(), graphmodel.ConnectionChanges{}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
