package hnsw

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dims int) []Vector {
	vecs := make([]Vector, n)
	for i := range vecs {
		vecs[i] = make(Vector, dims)
		for j := range vecs[i] {
			vecs[i][j] = rng.Float32()
		}
	}
	return vecs
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"small M":          func(c *Config) { c.M = 1 },
		"no layers":        func(c *Config) { c.MaxLayer = 0 },
		"too many layers":  func(c *Config) { c.MaxLayer = 257 },
		"no beam":          func(c *Config) { c.EfConstruction = 0 },
		"no distance":      func(c *Config) { c.Distance = nil },
		"negative dims":    func(c *Config) { c.Dimension = -1 },
		"negative maximum": func(c *Config) { c.MaxElements = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
			_, err := NewGraphWithConfig(cfg)
			require.Error(t, err)
		})
	}

	_, err := NewGraph(1, 100, 16, 200, EuclideanDistance)
	require.Error(t, err)
}

func TestGraph_SearchSelf(t *testing.T) {
	g, err := NewGraph(16, 10, 16, 200, EuclideanDistance)
	require.NoError(t, err)

	v := Vector{0.1, 0.2, 0.3}
	require.NoError(t, g.Insert(v, 0))

	res, err := g.Search(v, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []SearchResult{{Key: 0, Distance: 0}}, res)
}

func TestGraph_SearchEmpty(t *testing.T) {
	g := newTestGraph(t, 16)

	res, err := g.Search(Vector{1, 2, 3}, 5, 10)
	require.NoError(t, err)
	require.Empty(t, res)
	require.Equal(t, -1, g.MaxLevel())
	require.Nil(t, g.EntryPoint())
}

func TestGraph_DefaultCosine(t *testing.T) {
	g, err := NewGraph(16, 3, 16, 200, CosineDistance)
	require.NoError(t, err)
	require.NoError(t, g.Insert(Vector{1, 1}, 1))
	require.NoError(t, g.Insert(Vector{0, 1}, 2))
	require.NoError(t, g.Insert(Vector{1, -1}, 3))

	neighbors, err := g.Search(Vector{0.5, 0.5}, 1, 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, uint64(1), neighbors[0].Key)
	require.InDelta(t, 0, neighbors[0].Distance, 1e-6)
}

func TestGraph_AddSearch(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, 6)
	for i := range 128 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}
	require.Equal(t, 128, g.Len())

	nearest, err := g.Search(Vector{64.5}, 4, 20)
	require.NoError(t, err)
	require.Len(t, nearest, 4)

	// Equidistant pairs may come back in either order.
	keys := make([]uint64, len(nearest))
	for i, r := range nearest {
		keys[i] = r.Key
	}
	require.ElementsMatch(t, []uint64{64, 65}, keys[:2])
	require.ElementsMatch(t, []uint64{63, 66}, keys[2:])
	for i, want := range []float32{0.5, 0.5, 1.5, 1.5} {
		require.InDelta(t, want, nearest[i].Distance, 1e-5)
	}
}

func TestGraph_Recall(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	vecs := randomVectors(rng, 500, 16)
	g := newTestGraph(t, 16)
	for i, v := range vecs {
		require.NoError(t, g.Insert(v, uint64(i)))
	}

	var hits int
	for i, v := range vecs {
		res, err := g.Search(v, 1, 64)
		require.NoError(t, err)
		if len(res) == 1 && res[0].Key == uint64(i) {
			hits++
		}
	}
	assert.GreaterOrEqual(t, float64(hits)/float64(len(vecs)), 0.95)
}

func TestGraph_InsertErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxElements = 2
	g, err := NewGraphWithConfig(cfg)
	require.NoError(t, err)

	require.ErrorIs(t, g.Insert(nil, 1), ErrEmptyVector)
	require.NoError(t, g.Insert(Vector{1, 2}, 1))
	require.Equal(t, 2, g.Dims())

	err = g.Insert(Vector{1, 2, 3}, 2)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	err = g.Insert(Vector{3, 4}, 1)
	require.ErrorIs(t, err, ErrDuplicateOriginID)
	require.Equal(t, 1, g.Len())

	require.NoError(t, g.Insert(Vector{3, 4}, 2))
	err = g.Insert(Vector{5, 6}, 3)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, 2, g.Len())

	_, ok := g.Lookup(3)
	require.False(t, ok)
}

func TestGraph_FixedDimension(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimension = 3
	g, err := NewGraphWithConfig(cfg)
	require.NoError(t, err)

	require.ErrorIs(t, g.Insert(Vector{1, 2}, 1), ErrDimensionMismatch)
	_, err = g.Search(Vector{1, 2}, 1, 10)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	require.NoError(t, g.Insert(Vector{1, 2, 3}, 1))
}

func TestGraph_SearchErrors(t *testing.T) {
	g := newTestGraph(t, 16)
	require.NoError(t, g.Insert(Vector{1, 2}, 1))

	_, err := g.Search(Vector{1, 2}, 0, 10)
	require.ErrorIs(t, err, ErrInvalidK)

	_, err = g.Search(Vector{1, 2, 3}, 1, 10)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = g.Search(nil, 1, 10)
	require.ErrorIs(t, err, ErrEmptyVector)

	// k above the graph size returns every point.
	res, err := g.Search(Vector{1, 2}, 10, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestGraph_InsertCopiesVector(t *testing.T) {
	g := newTestGraph(t, 16)
	v := Vector{1, 2, 3}
	require.NoError(t, g.Insert(v, 7))
	v[0] = 100

	p, ok := g.Lookup(7)
	require.True(t, ok)
	require.Equal(t, Vector{1, 2, 3}, p.Vector())
}

func TestGraph_MaxLayerClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.M = 2
	cfg.MaxLayer = 1
	g, err := NewGraphWithConfig(cfg)
	require.NoError(t, err)

	for i := range 64 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}
	require.Equal(t, 0, g.MaxLevel())
	for p := range g.Points() {
		require.Equal(t, 0, p.Layer())
		require.Len(t, p.Neighborhood(), 1)
	}
}

func TestGraph_EntryPointMonotonic(t *testing.T) {
	g := newTestGraph(t, 4)
	rng := rand.New(rand.NewSource(7))

	prev := -1
	for i, v := range randomVectors(rng, 300, 4) {
		require.NoError(t, g.Insert(v, uint64(i)))
		ep := g.EntryPoint()
		require.NotNil(t, ep)
		require.GreaterOrEqual(t, ep.Layer(), prev)
		require.Equal(t, g.MaxLevel(), ep.Layer())
		prev = ep.Layer()
	}
}

func TestGraph_StableIdentity(t *testing.T) {
	g := newTestGraph(t, 8)
	rng := rand.New(rand.NewSource(3))
	vecs := randomVectors(rng, 200, 4)

	ids := make(map[uint64]PointID)
	for i, v := range vecs[:100] {
		require.NoError(t, g.Insert(v, uint64(i)))
		p, ok := g.Lookup(uint64(i))
		require.True(t, ok)
		ids[uint64(i)] = p.ID()
	}
	for i, v := range vecs[100:] {
		require.NoError(t, g.Insert(v, uint64(100+i)))
	}

	for key, id := range ids {
		p, ok := g.Lookup(key)
		require.True(t, ok)
		require.Equal(t, id, p.ID())

		byID, ok := g.PointByID(id)
		require.True(t, ok)
		require.Same(t, p, byID)
		require.Equal(t, key, byID.Key())
	}

	count := 0
	for range g.Points() {
		count++
	}
	require.Equal(t, 200, count)
}

func TestGraph_NeighborIntrospection(t *testing.T) {
	g := newTestGraph(t, 4)
	for i := range 20 {
		require.NoError(t, g.Insert(Vector{float32(i), 0}, uint64(i)))
	}

	p, ok := g.Lookup(10)
	require.True(t, ok)
	require.Nil(t, p.Neighbors(p.Layer()+1))
	require.Nil(t, p.Neighbors(-1))

	for layer, list := range p.Neighborhood() {
		for _, n := range list {
			other, ok := g.Lookup(n.Key)
			require.True(t, ok)
			require.Equal(t, other.ID(), n.ID)
			require.InDelta(t, EuclideanDistance(p.Vector(), other.Vector()), n.Distance, 1e-6)
			require.True(t, other.HasNeighbor(layer, p.ID()))
		}
	}
}

func TestGraph_BatchSearch(t *testing.T) {
	g := newTestGraph(t, 6)
	for i := range 50 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}

	res, err := g.BatchSearch([]Vector{{3}, {40.2}, {-5}}, 1, 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, uint64(3), res[0][0].Key)
	require.Equal(t, uint64(40), res[1][0].Key)
	require.Equal(t, uint64(0), res[2][0].Key)

	_, err = g.BatchSearch([]Vector{{1}, {1, 2}}, 1, 10)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestGraph_Observability(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg.Metrics = NewMetrics(reg, "test")
	g, err := NewGraphWithConfig(cfg)
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}
	require.Error(t, g.Insert(Vector{1}, 3))
	_, err = g.Search(Vector{1}, 2, 10)
	require.NoError(t, err)

	require.Equal(t, 10.0, counterValue(t, reg, "test_hnsw_inserts_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "test_hnsw_insert_failures_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "test_hnsw_searches_total"))
	require.Positive(t, counterValue(t, reg, "test_hnsw_reverse_updates_total"))
	require.Contains(t, logs.String(), "entry point installed")
}

func TestBatchError(t *testing.T) {
	err := error(&BatchError{Items: []ItemError{
		{Index: 1, Key: 10, Err: ErrDuplicateOriginID},
		{Index: 4, Key: 11, Err: dimensionError(3, 2)},
	}})

	require.ErrorIs(t, err, ErrDuplicateOriginID)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	require.False(t, errors.Is(err, ErrCapacityExceeded))

	var be *BatchError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Items, 2)
	require.Contains(t, err.Error(), "2 of batch items failed")
}
