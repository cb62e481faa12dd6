package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSnapshotFetchFailed wraps any failure while reading a snapshot.
	ErrSnapshotFetchFailed = errors.New("snapshot fetch failed")
	// ErrWarehouseNotFound is returned when no level view knows the warehouse.
	ErrWarehouseNotFound = errors.New("warehouse not found")
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const warehouseColumns = `warehouse_id, country_id, region_id, city_id,
	COALESCE(country_name, ''), COALESCE(region_name, ''), COALESCE(city_name, ''), COALESCE(building_name, ''),
	COALESCE(latitude, 0), COALESCE(longitude, 0)`

const (
	queryWarehouseIDs = `SELECT id FROM warehouses`
	queryConnections  = `SELECT from_id, to_id, distance, conn_type FROM warehouse_connections`

	queryWarehouseByID = `SELECT level, ` + warehouseColumns + ` FROM (
		SELECT 'region_main' AS level, * FROM region_main_warehouses
		UNION ALL
		SELECT 'city_main' AS level, * FROM city_main_warehouses
		UNION ALL
		SELECT 'city' AS level, * FROM plain_warehouses
	) AS w WHERE warehouse_id = $1 LIMIT 1`

	deleteConnections = `DELETE FROM warehouse_connections WHERE from_id = ANY($1) OR to_id = ANY($1)`
	upsertConnection  = `INSERT INTO warehouse_connections (from_id, to_id, distance, conn_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_id, to_id) DO UPDATE SET distance = EXCLUDED.distance, conn_type = EXCLUDED.conn_type`
)

// levelViews maps each level to the view that lists its warehouses.
var levelViews = map[graphmodel.Level]string{
	graphmodel.LevelRegionMain: "region_main_warehouses",
	graphmodel.LevelCityMain:   "city_main_warehouses",
	graphmodel.LevelCity:       "plain_warehouses",
}

// Store reads the warehouse hierarchy and persists connections in PostgreSQL.
type Store struct {
	pool         DBPool
	readChannels int
	log          *zap.Logger
}

var (
	_ graphmodel.SnapshotSource     = (*Store)(nil)
	_ graphmodel.WarehouseDirectory = (*Store)(nil)
	_ graphmodel.ConnectionWriter   = (*Store)(nil)
)

// New creates a new store instance and verifies the connection.
// readChannels bounds the number of concurrent snapshot queries.
func New(ctx context.Context, pool DBPool, readChannels int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if readChannels <= 0 {
		readChannels = 1
	}
	return &Store{
		pool:         pool,
		readChannels: readChannels,
		log:          logger.Named("store"),
	}, nil
}

// FetchSnapshot reads warehouse ids, the requested level views and all
// connections concurrently. Any failing query cancels the others.
func (s *Store) FetchSnapshot(ctx context.Context, levels ...graphmodel.Level) (*graphmodel.Snapshot, error) {
	if len(levels) == 0 {
		levels = graphmodel.Levels
	}
	snap := &graphmodel.Snapshot{Levels: dedupeLevels(levels)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readChannels)

	g.Go(func() error {
		ids, err := s.warehouseIDs(gctx)
		if err != nil {
			return fmt.Errorf("reading warehouse ids: %w", err)
		}
		snap.ValidIDs = ids
		return nil
	})
	for _, lvl := range snap.Levels {
		lvl := lvl
		g.Go(func() error {
			nodes, err := s.queryNodes(gctx, lvl, "SELECT "+warehouseColumns+" FROM "+levelViews[lvl])
			if err != nil {
				return fmt.Errorf("reading %s warehouses: %w", lvl, err)
			}
			switch lvl {
			case graphmodel.LevelRegionMain:
				snap.RegionMains = nodes
			case graphmodel.LevelCityMain:
				snap.CityMains = nodes
			case graphmodel.LevelCity:
				snap.Plain = nodes
			}
			return nil
		})
	}
	g.Go(func() error {
		edges, err := s.connections(gctx)
		if err != nil {
			return fmt.Errorf("reading connections: %w", err)
		}
		snap.Edges = edges
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFetchFailed, err)
	}

	s.log.Debug("Snapshot fetched",
		zap.Stringers("levels", snap.Levels),
		zap.Int("valid_ids", len(snap.ValidIDs)),
		zap.Int("region_mains", len(snap.RegionMains)),
		zap.Int("city_mains", len(snap.CityMains)),
		zap.Int("plain", len(snap.Plain)),
		zap.Int("edges", len(snap.Edges)),
	)
	return snap, nil
}

func (s *Store) RegionMains(ctx context.Context, countryID int64) ([]graphmodel.Node, error) {
	return s.queryNodes(ctx, graphmodel.LevelRegionMain,
		"SELECT "+warehouseColumns+" FROM region_main_warehouses WHERE country_id = $1", countryID)
}

func (s *Store) CityMains(ctx context.Context, regionID int64) ([]graphmodel.Node, error) {
	return s.queryNodes(ctx, graphmodel.LevelCityMain,
		"SELECT "+warehouseColumns+" FROM city_main_warehouses WHERE region_id = $1", regionID)
}

func (s *Store) PlainWarehouses(ctx context.Context, cityID int64) ([]graphmodel.Node, error) {
	return s.queryNodes(ctx, graphmodel.LevelCity,
		"SELECT "+warehouseColumns+" FROM plain_warehouses WHERE city_id = $1", cityID)
}

// Warehouse looks a single warehouse up across all level views.
func (s *Store) Warehouse(ctx context.Context, id int64) (graphmodel.Node, error) {
	rows, err := s.pool.Query(ctx, queryWarehouseByID, id)
	if err != nil {
		return graphmodel.Node{}, fmt.Errorf("failed to query warehouse %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return graphmodel.Node{}, fmt.Errorf("failed to read warehouse %d: %w", id, err)
		}
		return graphmodel.Node{}, fmt.Errorf("warehouse %d: %w", id, ErrWarehouseNotFound)
	}

	var levelName string
	var n graphmodel.Node
	dest := append([]any{&levelName}, scanTargets(&n)...)
	if err := rows.Scan(dest...); err != nil {
		return graphmodel.Node{}, fmt.Errorf("failed to scan warehouse %d: %w", id, err)
	}
	lvl, err := graphmodel.ParseLevel(levelName)
	if err != nil {
		return graphmodel.Node{}, fmt.Errorf("warehouse %d: %w", id, err)
	}
	n.Level = lvl
	return n, nil
}

// ApplyConnectionChanges detaches and upserts connections in one transaction.
func (s *Store) ApplyConnectionChanges(ctx context.Context, changes graphmodel.ConnectionChanges) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if len(changes.Detach) > 0 {
		tag, err := tx.Exec(ctx, deleteConnections, changes.Detach)
		if err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("failed to detach warehouses %v: %w", changes.Detach, err)
		}
		s.log.Debug("Detached connections", zap.Int64s("warehouses", changes.Detach), zap.Int64("rows", tag.RowsAffected()))
	}

	for _, conn := range changes.Add {
		for _, e := range conn.Edges() {
			if _, err := tx.Exec(ctx, upsertConnection, e.From, e.To, e.Distance, string(e.Type)); err != nil {
				s.rollback(ctx, tx)
				return fmt.Errorf("failed to upsert connection %d->%d: %w", e.From, e.To, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Connection changes committed",
		zap.Int("detached", len(changes.Detach)),
		zap.Int("connections", len(changes.Add)),
	)
	return nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func (s *Store) warehouseIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.pool.Query(ctx, queryWarehouseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *Store) connections(ctx context.Context) ([]graphmodel.Edge, error) {
	rows, err := s.pool.Query(ctx, queryConnections)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graphmodel.Edge
	for rows.Next() {
		var e graphmodel.Edge
		var connType string
		if err := rows.Scan(&e.From, &e.To, &e.Distance, &connType); err != nil {
			return nil, err
		}
		ct, err := graphmodel.ParseConnType(connType)
		if err != nil {
			s.log.Warn("Skipping connection with unknown type",
				zap.Int64("from", e.From), zap.Int64("to", e.To), zap.String("conn_type", connType))
			continue
		}
		e.Type = ct
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) queryNodes(ctx context.Context, level graphmodel.Level, sql string, args ...any) ([]graphmodel.Node, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s warehouses: %w", level, err)
	}
	defer rows.Close()

	var nodes []graphmodel.Node
	for rows.Next() {
		n := graphmodel.Node{Level: level}
		if err := rows.Scan(scanTargets(&n)...); err != nil {
			return nil, fmt.Errorf("failed to scan %s warehouse: %w", level, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s warehouses: %w", level, err)
	}
	return nodes, nil
}

// scanTargets lists the destinations for warehouseColumns in order.
func scanTargets(n *graphmodel.Node) []any {
	return []any{
		&n.ID, &n.Location.CountryID, &n.Location.RegionID, &n.Location.CityID,
		&n.Labels.Country, &n.Labels.Region, &n.Labels.City, &n.Labels.Building,
		&n.Coordinates.Latitude, &n.Coordinates.Longitude,
	}
}

func dedupeLevels(levels []graphmodel.Level) []graphmodel.Level {
	seen := make(map[graphmodel.Level]bool, len(levels))
	out := make([]graphmodel.Level, 0, len(levels))
	for _, l := range levels {
		if !l.Valid() || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
