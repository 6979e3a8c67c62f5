// Package hnsw implements a concurrent Hierarchical Navigable Small World
// graph for approximate nearest neighbor search.
//
// Points are kept in an arena addressed by (layer, slot) identities, every
// neighbor list of every layer has its own lock, and the graph stays
// symmetric: if a links to b at some layer, b links to a at that layer once
// all pending insertions have returned. Many goroutines may call Insert,
// ParallelInsert and Search at the same time.
//
// Vectors are append-only. There is no deletion or update of a stored
// vector.
package hnsw

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the parameters of a Graph.
//
// Parameter Tuning Guide:
//
// M: The maximum number of connections per node on layers >= 1. Layer 0
// keeps up to 2*M.
//   - Higher values improve recall but increase memory usage and build time.
//   - Recommended range: 8-64, with 16 being a good default for most use cases.
//   - For high-dimensional data (>1000 dimensions), 32-64 often works better.
//
// MaxLayer: The number of layers. Level draws are clamped to MaxLayer-1.
//   - Levels follow floor(-ln(U) / ln(M)), so 16 layers cover far more points
//     than fit in memory for any M >= 2.
//
// EfConstruction: The size of the dynamic candidate list while inserting.
//   - Higher values build a better graph at the expense of insert time.
//   - Recommended range: 100-400, with 200 being a good default.
//
// Distance: The distance function used to compare vectors.
//   - CosineDistance is recommended for normalized embeddings.
//   - EuclideanDistance is recommended for non-normalized embeddings.
type Config struct {
	M                int
	ExpectedCapacity int
	MaxLayer         int
	EfConstruction   int
	Distance         DistanceFunc

	// Dimension fixes the vector length. Zero means the length of the first
	// inserted vector is used.
	Dimension int

	// MaxElements is a hard limit on the number of points. Zero means
	// unlimited; ExpectedCapacity is then only a sizing hint.
	MaxElements int

	// KeepPruned refills neighbor lists with candidates rejected by the
	// selection heuristic, up to the degree bound.
	KeepPruned bool

	// Workers bounds the goroutines used by ParallelInsert and BatchSearch.
	// Zero means GOMAXPROCS.
	Workers int

	// Rng is used for level generation. It may be set to a deterministic value
	// for reproducibility. Note that deterministic number generation can lead to
	// degenerate graphs when exposed to adversarial inputs.
	Rng *rand.Rand

	// Logger receives structured debug and warning events. Nil discards.
	Logger *slog.Logger

	// Metrics, when set, is updated by every operation.
	Metrics *Metrics
}

// DefaultConfig returns a configuration suitable for small and medium
// graphs of float embeddings.
func DefaultConfig() Config {
	return Config{
		M:              16,
		MaxLayer:       16,
		EfConstruction: 200,
		Distance:       EuclideanDistance,
	}
}

// maxLayerLimit follows from PointID storing the layer in a byte.
const maxLayerLimit = math.MaxUint8 + 1

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.M < 2 {
		return fmt.Errorf("M must be at least 2, got %d", c.M)
	}
	if c.MaxLayer < 1 || c.MaxLayer > maxLayerLimit {
		return fmt.Errorf("MaxLayer must be between 1 and %d, got %d", maxLayerLimit, c.MaxLayer)
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("EfConstruction must be greater than 0, got %d", c.EfConstruction)
	}
	if c.Distance == nil {
		return fmt.Errorf("Distance function must be set")
	}
	if c.Dimension < 0 || c.ExpectedCapacity < 0 || c.MaxElements < 0 || c.Workers < 0 {
		return fmt.Errorf("Dimension, ExpectedCapacity, MaxElements and Workers must not be negative")
	}
	return nil
}

// Graph is a Hierarchical Navigable Small World graph keyed by uint64
// origin ids. It is safe for concurrent use.
type Graph struct {
	cfg Config

	distance       DistanceFunc
	m, m0          int
	efConstruction int
	levelMult      float64
	keepPruned     bool
	workers        int

	dim    atomic.Int64
	points *pointIndexation
	entry  entryPoint

	rngMu sync.Mutex
	rng   *rand.Rand

	log     *logger
	metrics *Metrics
}

// NewGraph returns a graph with the given maximum connections, expected
// number of points, number of layers, construction beam width and
// distance function.
func NewGraph(m, expectedCapacity, maxLayer, efConstruction int, distance DistanceFunc) (*Graph, error) {
	cfg := DefaultConfig()
	cfg.M = m
	cfg.ExpectedCapacity = expectedCapacity
	cfg.MaxLayer = maxLayer
	cfg.EfConstruction = efConstruction
	cfg.Distance = distance
	return NewGraphWithConfig(cfg)
}

// NewGraphWithConfig returns a new graph with the specified parameters.
// It validates the configuration and returns an error if any parameter is invalid.
func NewGraphWithConfig(cfg Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		cfg:            cfg,
		distance:       cfg.Distance,
		m:              cfg.M,
		m0:             2 * cfg.M,
		efConstruction: cfg.EfConstruction,
		levelMult:      1 / math.Log(float64(cfg.M)),
		keepPruned:     cfg.KeepPruned,
		workers:        cfg.Workers,
		rng:            cfg.Rng,
		log:            newLogger(cfg.Logger),
		metrics:        cfg.Metrics,
	}
	if g.workers == 0 {
		g.workers = runtime.GOMAXPROCS(0)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g.dim.Store(int64(cfg.Dimension))
	g.points = newPointIndexation(cfg.MaxLayer, cfg.ExpectedCapacity, cfg.MaxElements, g.maxConns)
	return g, nil
}

// Config returns the configuration the graph was built with.
func (g *Graph) Config() Config {
	return g.cfg
}

// maxConns is the degree bound of a layer.
func (g *Graph) maxConns(layer int) int {
	if layer == 0 {
		return g.m0
	}
	return g.m
}

// randomLevel draws a level from floor(-ln(U) * 1/ln(M)), clamped to the
// configured layers.
func (g *Graph) randomLevel() int {
	g.rngMu.Lock()
	r := g.rng.Float64()
	g.rngMu.Unlock()

	top := g.cfg.MaxLayer - 1
	if r == 0 {
		return top
	}
	level := math.Floor(-math.Log(r) * g.levelMult)
	if level >= float64(top) {
		return top
	}
	return int(level)
}

// checkDims validates v against the graph dimension, fixing the dimension
// on first use.
func (g *Graph) checkDims(v Vector) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	want := g.dim.Load()
	if want == 0 {
		if g.dim.CompareAndSwap(0, int64(len(v))) {
			return nil
		}
		want = g.dim.Load()
	}
	if int(want) != len(v) {
		return dimensionError(int(want), len(v))
	}
	return nil
}

// Dims returns the number of dimensions in the graph, or
// 0 if it is not known yet.
func (g *Graph) Dims() int {
	return int(g.dim.Load())
}

// Len returns the number of points in the graph.
func (g *Graph) Len() int {
	return g.points.len()
}

// MaxLevel returns the highest layer holding a point, or -1 if the graph
// is empty.
func (g *Graph) MaxLevel() int {
	return g.points.highestOccupiedLayer()
}

// EntryPoint returns the point searches start from, or nil if the graph
// is empty.
func (g *Graph) EntryPoint() *Point {
	return g.entry.load()
}

// Lookup returns the point inserted with the given key.
func (g *Graph) Lookup(key uint64) (*Point, bool) {
	return g.points.byKey(key)
}

// PointByID returns the point with the given internal identity.
func (g *Graph) PointByID(id PointID) (*Point, bool) {
	return g.points.byID(id)
}

// Points iterates over every point of the graph, layer by layer. Points
// inserted concurrently may or may not be observed.
func (g *Graph) Points() iter.Seq[*Point] {
	return g.points.all()
}

// Search finds the k nearest neighbors of near, ordered by ascending
// distance. efSearch is the beam width of the base layer search; it is
// raised to k when smaller. Searching an empty graph returns no results.
func (g *Graph) Search(near Vector, k, efSearch int) ([]SearchResult, error) {
	start := time.Now()
	res, err := g.searchK(near, k, efSearch)
	g.metrics.observeSearch(time.Since(start), err)
	return res, err
}

func (g *Graph) searchK(near Vector, k, efSearch int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidK, k)
	}
	if len(near) == 0 {
		return nil, ErrEmptyVector
	}
	if want := g.Dims(); want != 0 && want != len(near) {
		return nil, dimensionError(want, len(near))
	}

	ep := g.entry.load()
	if ep == nil {
		return nil, nil
	}

	nodes := g.search(near, ep, max(k, efSearch))
	if len(nodes) > k {
		nodes = nodes[:k]
	}
	out := make([]SearchResult, len(nodes))
	for i, n := range nodes {
		out[i] = SearchResult{Key: n.point.key, Distance: n.dist}
	}
	return out, nil
}

// search descends greedily from ep to layer 1, then runs the beam search
// on the base layer.
func (g *Graph) search(near Vector, ep *Point, ef int) []searchCandidate {
	cur, dist := ep, g.distance(near, ep.vec)
	for layer := ep.Layer(); layer > 0; layer-- {
		cur, dist = g.greedyClosest(near, cur, dist, layer)
	}
	return g.searchLayer(near, []searchCandidate{{point: cur, dist: dist}}, ef, 0)
}

// BatchSearch runs Search for every query in parallel. The result at
// index i answers queries[i].
func (g *Graph) BatchSearch(queries []Vector, k, efSearch int) ([][]SearchResult, error) {
	results := make([][]SearchResult, len(queries))

	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, q := range queries {
		eg.Go(func() error {
			res, err := g.Search(q, k, efSearch)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
