// Package connections keeps warehouse connections consistent with the
// location hierarchy when warehouses are promoted, demoted or removed.
package connections

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/depotgraph/internal/distance"
	"github.com/xkilldash9x/depotgraph/internal/graph"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

var (
	// ErrRouteTooLong marks a pair whose route is longer than the configured maximum.
	ErrRouteTooLong = errors.New("route exceeds maximum distance")
	// ErrPromotionFailed wraps hard failures of a promotion. Nothing is committed.
	ErrPromotionFailed = errors.New("promotion failed")
	// ErrPricingFailed marks promotion failures caused by the distance provider.
	ErrPricingFailed = errors.New("pricing failed")
	// ErrStaleRole marks a peer the directory lists below the main role the
	// graph still holds for it. Such a peer is left untouched.
	ErrStaleRole = errors.New("directory role disagrees with graph")
)

// Config tunes the maintainer.
type Config struct {
	// MaxRouteDistance in meters. Longer routes are never connected.
	MaxRouteDistance float64
	// Workers bounds concurrent pricing of candidate pairs.
	Workers int
}

// Skip is a candidate pair that was not connected.
type Skip struct {
	Pair   graphmodel.Pair
	Reason error
}

// Report describes what an operation changed.
type Report struct {
	Inserted []graphmodel.Connection
	Skipped  []Skip
	// Demoted lists warehouses that lost a main role to the promoted one.
	Demoted []int64
	// EdgesRemoved counts directed edges dropped from the graph.
	EdgesRemoved int
	// Version is the graph version that contains the change.
	Version uint64
}

// Unreachable returns skipped pairs with no drivable route.
func (r Report) Unreachable() []graphmodel.Pair {
	return r.skippedBy(distance.ErrRouteNotFound)
}

// TooLong returns skipped pairs rejected by the distance limit.
func (r Report) TooLong() []graphmodel.Pair {
	return r.skippedBy(ErrRouteTooLong)
}

// StaleRoles returns pairs left alone because the graph and the directory
// disagree on a peer's role.
func (r Report) StaleRoles() []graphmodel.Pair {
	return r.skippedBy(ErrStaleRole)
}

// IsSkipped reports whether the pair a-b was skipped in either orientation.
func (r Report) IsSkipped(a, b int64) bool {
	for _, s := range r.Skipped {
		if (s.Pair.A == a && s.Pair.B == b) || (s.Pair.A == b && s.Pair.B == a) {
			return true
		}
	}
	return false
}

func (r Report) skippedBy(target error) []graphmodel.Pair {
	var pairs []graphmodel.Pair
	for _, s := range r.Skipped {
		if errors.Is(s.Reason, target) {
			pairs = append(pairs, s.Pair)
		}
	}
	return pairs
}

// Maintainer inserts and removes connections as warehouses change role.
//
// Every operation prices candidates first without side effects, then
// commits the store transaction, then publishes one new graph version.
// Operations run one at a time, from directory reads to publish.
type Maintainer struct {
	ops sync.Mutex

	dir         graphmodel.WarehouseDirectory
	writer      graphmodel.ConnectionWriter
	provider    distance.Provider
	live        *graph.Live
	maxDistance float64
	workers     int
	metrics     *observability.Metrics
	log         *zap.Logger
}

func NewMaintainer(
	dir graphmodel.WarehouseDirectory,
	writer graphmodel.ConnectionWriter,
	provider distance.Provider,
	live *graph.Live,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Maintainer{
		dir:         dir,
		writer:      writer,
		provider:    provider,
		live:        live,
		maxDistance: cfg.MaxRouteDistance,
		workers:     cfg.Workers,
		metrics:     metrics,
		log:         logger.Named("maintainer"),
	}
}

// PromoteRegionMain makes w the region main of regionID and connects it to
// every other region main of countryID and every city main of regionID.
func (m *Maintainer) PromoteRegionMain(ctx context.Context, countryID, regionID int64, w graphmodel.Warehouse) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.promoteRegionMain(ctx, countryID, regionID, w)
	m.metrics.RecordMaintainerOp("promote_region_main", err == nil)
	return rep, err
}

func (m *Maintainer) promoteRegionMain(ctx context.Context, countryID, regionID int64, w graphmodel.Warehouse) (Report, error) {
	if w.ID <= 0 {
		return Report{}, fmt.Errorf("%w: warehouse id is required", ErrPromotionFailed)
	}
	node := graphmodel.Node{Warehouse: w, Level: graphmodel.LevelRegionMain}
	node.Location.CountryID = countryID
	node.Location.RegionID = regionID

	regionMains, err := m.dir.RegionMains(ctx, countryID)
	if err != nil {
		return Report{}, fmt.Errorf("%w: listing region mains of country %d: %w", ErrPromotionFailed, countryID, err)
	}
	cityMains, err := m.dir.CityMains(ctx, regionID)
	if err != nil {
		return Report{}, fmt.Errorf("%w: listing city mains of region %d: %w", ErrPromotionFailed, regionID, err)
	}

	p := newPlan("region main", node)
	p.sameRole = func(n graphmodel.Node) bool {
		return n.Level == graphmodel.LevelRegionMain && n.Location.RegionID == regionID
	}
	// A replaced region main stays in its city as a plain warehouse.
	p.rehome = func(n graphmodel.Node) (graphmodel.Node, bool) {
		for _, cm := range cityMains {
			if cm.ID != w.ID && cm.Location.CityID == n.Location.CityID {
				return cm, true
			}
		}
		return graphmodel.Node{}, false
	}
	for _, rm := range regionMains {
		switch {
		case rm.ID == w.ID:
		case p.sameRole(rm):
			p.competitors[rm.ID] = rm
		default:
			p.link(rm, graphmodel.ConnRegion)
		}
	}
	for _, cm := range cityMains {
		if cm.ID != w.ID {
			p.link(cm, graphmodel.ConnRegion)
		}
	}
	return m.promote(ctx, p)
}

// PromoteCityMain makes w the city main of cityID. It connects w to the
// region main (when given), to every other city main of regionID and to
// every plain warehouse of cityID.
func (m *Maintainer) PromoteCityMain(ctx context.Context, regionID, cityID int64, regionMain *graphmodel.Warehouse, w graphmodel.Warehouse) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.promoteCityMain(ctx, regionID, cityID, regionMain, w)
	m.metrics.RecordMaintainerOp("promote_city_main", err == nil)
	return rep, err
}

func (m *Maintainer) promoteCityMain(ctx context.Context, regionID, cityID int64, regionMain *graphmodel.Warehouse, w graphmodel.Warehouse) (Report, error) {
	if w.ID <= 0 {
		return Report{}, fmt.Errorf("%w: warehouse id is required", ErrPromotionFailed)
	}
	node := graphmodel.Node{Warehouse: w, Level: graphmodel.LevelCityMain}
	node.Location.RegionID = regionID
	node.Location.CityID = cityID

	cityMains, err := m.dir.CityMains(ctx, regionID)
	if err != nil {
		return Report{}, fmt.Errorf("%w: listing city mains of region %d: %w", ErrPromotionFailed, regionID, err)
	}
	plain, err := m.dir.PlainWarehouses(ctx, cityID)
	if err != nil {
		return Report{}, fmt.Errorf("%w: listing warehouses of city %d: %w", ErrPromotionFailed, cityID, err)
	}

	p := newPlan("city main", node)
	p.sameRole = func(n graphmodel.Node) bool {
		return n.Level == graphmodel.LevelCityMain && n.Location.CityID == cityID
	}
	// A replaced city main becomes one of w's plain warehouses.
	p.rehome = func(graphmodel.Node) (graphmodel.Node, bool) { return node, true }

	if regionMain != nil && regionMain.ID != w.ID {
		p.link(graphmodel.Node{Warehouse: *regionMain, Level: graphmodel.LevelRegionMain}, graphmodel.ConnRegion)
	}
	for _, cm := range cityMains {
		switch {
		case cm.ID == w.ID:
		case p.sameRole(cm):
			p.competitors[cm.ID] = cm
		default:
			p.link(cm, graphmodel.ConnCity)
		}
	}
	for _, pw := range plain {
		if pw.ID != w.ID {
			p.link(pw, graphmodel.ConnCity)
		}
	}
	return m.promote(ctx, p)
}

// AddPlainWarehouse connects w to the main warehouse of its city.
func (m *Maintainer) AddPlainWarehouse(ctx context.Context, cityMain, w graphmodel.Warehouse) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.addPlainWarehouse(ctx, cityMain, w)
	m.metrics.RecordMaintainerOp("add_plain", err == nil)
	return rep, err
}

func (m *Maintainer) addPlainWarehouse(ctx context.Context, cityMain, w graphmodel.Warehouse) (Report, error) {
	if w.ID <= 0 || cityMain.ID <= 0 {
		return Report{}, fmt.Errorf("%w: warehouse ids are required", ErrPromotionFailed)
	}
	if w.ID == cityMain.ID {
		return Report{}, fmt.Errorf("%w: warehouse %d cannot connect to itself", ErrPromotionFailed, w.ID)
	}
	p := newPlan("plain", graphmodel.Node{Warehouse: w, Level: graphmodel.LevelCity})
	p.link(graphmodel.Node{Warehouse: cityMain, Level: graphmodel.LevelCityMain}, graphmodel.ConnCity)
	return m.promote(ctx, p)
}

// plan is a staged change. Building one touches neither store nor graph.
type plan struct {
	role  string
	node  graphmodel.Node
	cands []candidate
	// competitors lose their main role to node.
	competitors map[int64]graphmodel.Node
	sameRole    func(graphmodel.Node) bool
	// rehome picks the main a demoted competitor attaches to as a plain warehouse.
	rehome func(graphmodel.Node) (graphmodel.Node, bool)
}

func newPlan(role string, node graphmodel.Node) *plan {
	return &plan{role: role, node: node, competitors: make(map[int64]graphmodel.Node)}
}

func (p *plan) link(peer graphmodel.Node, typ graphmodel.ConnType) {
	p.cands = append(p.cands, candidate{a: p.node, b: peer, typ: typ})
}

// prune drops repeated pairs, keeping the first, and pairs with a peer the
// graph holds as a main while the directory lists it lower. The latter are
// returned as skips.
func (p *plan) prune(g *graph.Graph) []Skip {
	var skipped []Skip
	seen := make(map[[2]int64]bool, len(p.cands))
	kept := p.cands[:0]
	for _, c := range p.cands {
		key := [2]int64{min(c.a.ID, c.b.ID), max(c.a.ID, c.b.ID)}
		if seen[key] {
			continue
		}
		seen[key] = true
		if p.outranked(g, c.a) || p.outranked(g, c.b) {
			skipped = append(skipped, Skip{
				Pair:   graphmodel.Pair{A: c.a.ID, B: c.b.ID, Type: c.typ},
				Reason: fmt.Errorf("%w: %d or %d", ErrStaleRole, c.a.ID, c.b.ID),
			})
			continue
		}
		kept = append(kept, c)
	}
	p.cands = kept
	return skipped
}

// outranked reports whether g holds n as a main above the level the plan
// assumes. The promoted node and its competitors change role in this plan.
func (p *plan) outranked(g *graph.Graph, n graphmodel.Node) bool {
	if g == nil || n.ID == p.node.ID {
		return false
	}
	if _, ok := p.competitors[n.ID]; ok {
		return false
	}
	cur, ok := g.Node(n.ID)
	return ok && cur.Level.IsMain() && cur.Level > n.Level
}

// promote prices every candidate, then commits detach+insert atomically.
func (m *Maintainer) promote(ctx context.Context, p *plan) (Report, error) {
	log := m.log.With(zap.Int64("warehouse", p.node.ID), zap.String("role", p.role))

	// Graph nodes holding the same role lose it along with the store's.
	cur := m.live.Snapshot()
	if cur != nil && p.sameRole != nil {
		for _, n := range cur.Nodes() {
			if n.ID != p.node.ID && p.sameRole(n) {
				p.competitors[n.ID] = n
			}
		}
	}

	var rep Report
	changes := graphmodel.ConnectionChanges{Detach: []int64{p.node.ID}}
	for id, n := range p.competitors {
		changes.Detach = append(changes.Detach, id)
		rep.Demoted = append(rep.Demoted, id)
		if p.rehome == nil {
			continue
		}
		if main, ok := p.rehome(n); ok && main.ID != id {
			n.Level = graphmodel.LevelCity
			p.cands = append(p.cands, candidate{a: main, b: n, typ: graphmodel.ConnCity})
		}
	}
	slices.Sort(rep.Demoted)
	rep.Skipped = p.prune(cur)
	for _, s := range rep.Skipped {
		log.Warn("Peer holds a main role the directory does not list, leaving it alone",
			zap.Int64("a", s.Pair.A), zap.Int64("b", s.Pair.B), zap.Error(s.Reason))
	}

	quotes, err := m.priceAll(ctx, p.cands)
	if err != nil {
		log.Error("Pricing failed, nothing committed", zap.Error(err))
		return Report{}, err
	}
	for _, q := range quotes {
		if q.Outcome == Priced {
			c := q.Connection()
			changes.Add = append(changes.Add, c)
			rep.Inserted = append(rep.Inserted, c)
		} else {
			rep.Skipped = append(rep.Skipped, Skip{Pair: q.Pair, Reason: q.Reason})
		}
	}

	if err := m.writer.ApplyConnectionChanges(ctx, changes); err != nil {
		log.Error("Persisting connections failed, nothing committed", zap.Error(err))
		return Report{}, fmt.Errorf("%w: persisting connections: %w", ErrPromotionFailed, err)
	}

	version, err := m.live.Update(func(g *graph.Graph) error {
		rep.EdgesRemoved = 0
		for id := range p.competitors {
			rep.EdgesRemoved += demote(g, id)
		}
		g.AddNode(p.node)
		rep.EdgesRemoved += g.DetachNode(p.node.ID)
		for _, c := range p.cands {
			upsertPeer(g, c.a, p.node.ID)
			upsertPeer(g, c.b, p.node.ID)
		}
		for _, c := range rep.Inserted {
			for _, e := range c.Edges() {
				if err := g.AddEdge(e); err != nil {
					return fmt.Errorf("adding edge %d->%d: %w", e.From, e.To, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Error("Connections committed but graph publish failed, next refresh will converge", zap.Error(err))
		return Report{}, fmt.Errorf("publishing graph: %w", err)
	}
	rep.Version = version

	log.Info("Warehouse connected",
		zap.Int("inserted", len(rep.Inserted)),
		zap.Int("unreachable", len(rep.Unreachable())),
		zap.Int("too_long", len(rep.TooLong())),
		zap.Int64s("demoted", rep.Demoted),
		zap.Uint64("version", version),
	)
	return rep, nil
}

// priceAll quotes every candidate concurrently. The first hard error cancels
// the remaining work.
func (m *Maintainer) priceAll(ctx context.Context, cands []candidate) ([]Quote, error) {
	quotes := make([]Quote, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, c := range cands {
		g.Go(func() error {
			q, err := m.quote(gctx, c.a, c.b, c.typ)
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPromotionFailed, err)
	}
	return quotes, nil
}

// DemoteRegionMain removes every connection of warehouseID and retags it as
// a plain warehouse.
func (m *Maintainer) DemoteRegionMain(ctx context.Context, regionID, warehouseID int64) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.demoteMain(ctx, graphmodel.LevelRegionMain, warehouseID, func(n graphmodel.Node) bool {
		return n.Location.RegionID == regionID
	})
	m.metrics.RecordMaintainerOp("demote_region_main", err == nil)
	return rep, err
}

// DemoteCityMain removes every connection of warehouseID and retags it as
// a plain warehouse.
func (m *Maintainer) DemoteCityMain(ctx context.Context, cityID, warehouseID int64) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.demoteMain(ctx, graphmodel.LevelCityMain, warehouseID, func(n graphmodel.Node) bool {
		return n.Location.CityID == cityID
	})
	m.metrics.RecordMaintainerOp("demote_city_main", err == nil)
	return rep, err
}

func (m *Maintainer) demoteMain(ctx context.Context, level graphmodel.Level, id int64, inLocation func(graphmodel.Node) bool) (Report, error) {
	log := m.log.With(zap.Int64("warehouse", id), zap.Stringer("level", level))
	if cur := m.live.Snapshot(); cur != nil {
		if n, ok := cur.Node(id); ok && (n.Level != level || !inLocation(n)) {
			log.Warn("Demoting a warehouse that is not the expected main",
				zap.Stringer("graph_level", n.Level), zap.Int64("region", n.Location.RegionID), zap.Int64("city", n.Location.CityID))
		}
	}

	if err := m.writer.ApplyConnectionChanges(ctx, graphmodel.ConnectionChanges{Detach: []int64{id}}); err != nil {
		return Report{}, fmt.Errorf("detaching warehouse %d: %w", id, err)
	}

	var rep Report
	version, err := m.live.Update(func(g *graph.Graph) error {
		rep.EdgesRemoved = demote(g, id)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("publishing graph: %w", err)
	}
	rep.Version = version
	rep.Demoted = []int64{id}
	log.Info("Warehouse demoted", zap.Int("edges_removed", rep.EdgesRemoved), zap.Uint64("version", version))
	return rep, nil
}

// RemoveWarehouse drops the warehouse and all its connections.
func (m *Maintainer) RemoveWarehouse(ctx context.Context, warehouseID int64) (Report, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	rep, err := m.removeWarehouse(ctx, warehouseID)
	m.metrics.RecordMaintainerOp("remove_warehouse", err == nil)
	return rep, err
}

func (m *Maintainer) removeWarehouse(ctx context.Context, id int64) (Report, error) {
	if err := m.writer.ApplyConnectionChanges(ctx, graphmodel.ConnectionChanges{Detach: []int64{id}}); err != nil {
		return Report{}, fmt.Errorf("detaching warehouse %d: %w", id, err)
	}

	var rep Report
	version, err := m.live.Update(func(g *graph.Graph) error {
		rep.EdgesRemoved = g.DetachNode(id)
		g.RemoveNode(id)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("publishing graph: %w", err)
	}
	rep.Version = version
	m.log.Info("Warehouse removed", zap.Int64("warehouse", id), zap.Int("edges_removed", rep.EdgesRemoved))
	return rep, nil
}

// demote strips a node's edges and retags it as a plain warehouse.
func demote(g *graph.Graph, id int64) int {
	n, ok := g.Node(id)
	if !ok {
		return 0
	}
	removed := g.DetachNode(id)
	n.Level = graphmodel.LevelCity
	g.AddNode(n)
	return removed
}

// upsertPeer adds n unless it is the node being promoted. A plain node
// already in the graph keeps its edges and takes the store's level. A main
// is never retagged here; demote does that together with its edges.
func upsertPeer(g *graph.Graph, n graphmodel.Node, promoted int64) {
	if n.ID == promoted {
		return
	}
	cur, ok := g.Node(n.ID)
	switch {
	case !ok:
		g.AddNode(n)
	case cur.Level != n.Level && !cur.Level.IsMain():
		cur.Level = n.Level
		g.AddNode(cur)
	}
}
