package hnsw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGraph(t testing.TB, m int) *Graph {
	t.Helper()
	g, err := NewGraphWithConfig(Config{
		M:              m,
		MaxLayer:       16,
		EfConstruction: 64,
		Distance:       EuclideanDistance,
		Rng:            rand.New(rand.NewSource(0)),
	})
	require.NoError(t, err)
	return g
}

// fixedPoint registers a point at a chosen level without linking it.
func fixedPoint(t testing.TB, g *Graph, key uint64, level int, vec ...float32) *Point {
	t.Helper()
	require.NoError(t, g.checkDims(vec))
	p, err := g.points.newPoint(vec, key, level)
	require.NoError(t, err)
	return p
}

func connect(g *Graph, a, b *Point, layer int) {
	d := g.distance(a.vec, b.vec)
	a.neighborhood[layer].items = append(a.neighborhood[layer].items, b.asNeighbor(d))
	b.neighborhood[layer].items = append(b.neighborhood[layer].items, a.asNeighbor(d))
}

func candidate(g *Graph, owner, p *Point) searchCandidate {
	return searchCandidate{point: p, dist: g.distance(owner.vec, p.vec)}
}

func keysOf(cs []searchCandidate) []uint64 {
	keys := make([]uint64, len(cs))
	for i, c := range cs {
		keys[i] = c.point.key
	}
	return keys
}

func Test_searchLayer(t *testing.T) {
	g := newTestGraph(t, 6)

	p0 := fixedPoint(t, g, 0, 0, 0)
	p1 := fixedPoint(t, g, 1, 0, 1)
	p2 := fixedPoint(t, g, 2, 0, 2)
	p3 := fixedPoint(t, g, 3, 0, 3)
	p38 := fixedPoint(t, g, 38, 0, 3.8)
	p43 := fixedPoint(t, g, 43, 0, 4.3)
	connect(g, p0, p1, 0)
	connect(g, p0, p2, 0)
	connect(g, p0, p3, 0)
	connect(g, p3, p38, 0)
	connect(g, p3, p43, 0)

	target := Vector{4}
	best := g.searchLayer(target, []searchCandidate{{point: p0, dist: 4}}, 2, 0)

	require.Equal(t, []uint64{38, 43}, keysOf(best))
	require.InDelta(t, 0.2, best[0].dist, 1e-5)
	require.InDelta(t, 0.3, best[1].dist, 1e-5)

	// A wide beam returns every reachable point, closest first.
	all := g.searchLayer(target, []searchCandidate{{point: p0, dist: 4}}, 10, 0)
	require.Equal(t, []uint64{38, 43, 3, 2, 1, 0}, keysOf(all))
}

func Test_greedyClosest(t *testing.T) {
	g := newTestGraph(t, 6)

	var chain []*Point
	for i := range 5 {
		chain = append(chain, fixedPoint(t, g, uint64(i), 1, float32(i)))
	}
	for i := 1; i < len(chain); i++ {
		connect(g, chain[i-1], chain[i], 1)
	}

	best, dist := g.greedyClosest(Vector{3.1}, chain[0], 3.1, 1)
	require.Equal(t, uint64(3), best.key)
	require.InDelta(t, 0.1, dist, 1e-5)

	// Layer 0 has no edges, so the walk cannot move.
	best, _ = g.greedyClosest(Vector{3.1}, chain[0], 3.1, 0)
	require.Equal(t, uint64(0), best.key)
}

func Test_selectNeighbors(t *testing.T) {
	g := newTestGraph(t, 6)

	owner := fixedPoint(t, g, 100, 0, 0)
	right := fixedPoint(t, g, 1, 0, 1)
	left := fixedPoint(t, g, 2, 0, -1)
	farRight := fixedPoint(t, g, 3, 0, 2)
	candidates := []searchCandidate{
		candidate(g, owner, right),
		candidate(g, owner, left),
		candidate(g, owner, farRight),
	}

	t.Run("heuristic", func(t *testing.T) {
		kept, dropped := g.selectNeighbors(candidates, 3)
		// farRight is closer to right than to the owner.
		require.Equal(t, []uint64{1, 2}, keysOf(kept))
		require.Equal(t, []uint64{3}, keysOf(dropped))
	})

	t.Run("bound", func(t *testing.T) {
		kept, dropped := g.selectNeighbors(candidates, 1)
		require.Equal(t, []uint64{1}, keysOf(kept))
		require.ElementsMatch(t, []uint64{2, 3}, keysOf(dropped))
	})

	t.Run("keepPruned", func(t *testing.T) {
		g.keepPruned = true
		defer func() { g.keepPruned = false }()

		kept, dropped := g.selectNeighbors(candidates, 3)
		require.Equal(t, []uint64{1, 2, 3}, keysOf(kept))
		require.Empty(t, dropped)
	})

	t.Run("single", func(t *testing.T) {
		kept, dropped := g.selectNeighbors(candidates[:1], 1)
		require.Equal(t, []uint64{1}, keysOf(kept))
		require.Empty(t, dropped)
	})
}

func Test_addEdges(t *testing.T) {
	g := newTestGraph(t, 2) // layer 1 keeps 2 neighbors

	owner := fixedPoint(t, g, 0, 1, 0)
	a := fixedPoint(t, g, 1, 1, 1)
	b := fixedPoint(t, g, 2, 1, -1)
	c := fixedPoint(t, g, 3, 1, 0.5)

	dropped := g.addEdges(owner, 1, []searchCandidate{candidate(g, owner, a), candidate(g, owner, b)})
	require.Empty(t, dropped)
	require.Len(t, owner.Neighbors(1), 2)

	// Re-adding an existing neighbor or the owner itself is ignored.
	dropped = g.addEdges(owner, 1, []searchCandidate{candidate(g, owner, a), {point: owner}})
	require.Empty(t, dropped)
	require.Len(t, owner.Neighbors(1), 2)

	// c shadows a, which is evicted by the re-pruning.
	dropped = g.addEdges(owner, 1, []searchCandidate{candidate(g, owner, c)})
	require.Equal(t, []uint64{1}, keysOf(dropped))
	require.True(t, owner.HasNeighbor(1, c.id))
	require.True(t, owner.HasNeighbor(1, b.id))
	require.False(t, owner.HasNeighbor(1, a.id))
}

func Test_reconcile(t *testing.T) {
	g := newTestGraph(t, 6)

	a := fixedPoint(t, g, 0, 0, 0)
	b := fixedPoint(t, g, 1, 0, 1)
	c := fixedPoint(t, g, 2, 0, 2)

	// One-sided edge a -> b is removed.
	a.neighborhood[0].items = append(a.neighborhood[0].items, b.asNeighbor(1))
	g.reconcile(b, a, 0)
	require.Empty(t, a.Neighbors(0))

	// Symmetric edges are left alone.
	connect(g, a, c, 0)
	g.reconcile(a, c, 0)
	require.True(t, a.HasNeighbor(0, c.id))
	require.True(t, c.HasNeighbor(0, a.id))
}

func Test_anchor(t *testing.T) {
	g := newTestGraph(t, 2) // layer 0 keeps 4 neighbors

	c := fixedPoint(t, g, 0, 0, 0)
	n1 := fixedPoint(t, g, 1, 0, 1)
	n2 := fixedPoint(t, g, 2, 0, -1)
	n3 := fixedPoint(t, g, 3, 0, 2)
	far := fixedPoint(t, g, 4, 0, 10)
	for _, n := range []*Point{n1, n2, n3, far} {
		connect(g, c, n, 0)
	}
	p := fixedPoint(t, g, 5, 0, 0.5)

	g.anchor(p, 0, []searchCandidate{candidate(g, p, c)}, 0)

	require.True(t, p.HasNeighbor(0, c.id))
	require.True(t, c.HasNeighbor(0, p.id))
	require.False(t, c.HasNeighbor(0, far.id))
	require.Len(t, c.Neighbors(0), 4)

	// The evicted point is re-attached to the closest neighbor of c.
	require.Equal(t, []uint64{3}, neighborKeys(g, far, 0))
	require.True(t, n3.HasNeighbor(0, far.id))

	an := Analyzer{Graph: g}
	require.NoError(t, an.CheckSymmetry())
	require.NoError(t, an.CheckDegrees())

	// A point that already has neighbors is left alone.
	g.anchor(p, 0, []searchCandidate{candidate(g, p, n1)}, 0)
	require.False(t, p.HasNeighbor(0, n1.id))
}

func neighborKeys(g *Graph, p *Point, layer int) []uint64 {
	var keys []uint64
	for _, n := range p.Neighbors(layer) {
		q, ok := g.points.byID(n.ID)
		if ok {
			keys = append(keys, q.key)
		}
	}
	return keys
}

func Test_randomLevel(t *testing.T) {
	g, err := NewGraphWithConfig(Config{
		M:              2,
		MaxLayer:       4,
		EfConstruction: 10,
		Distance:       EuclideanDistance,
		Rng:            rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	const draws = 20000
	counts := make([]int, 4)
	for range draws {
		l := g.randomLevel()
		require.GreaterOrEqual(t, l, 0)
		require.Less(t, l, 4)
		counts[l]++
	}

	// P(level = 0) = 1 - 1/M.
	require.InDelta(t, 0.5, float64(counts[0])/draws, 0.03)
	// Everything above the top layer is clamped onto it: P = (1/M)^3.
	require.InDelta(t, 0.125, float64(counts[3])/draws, 0.02)
}

func Test_maxConns(t *testing.T) {
	g := newTestGraph(t, 8)
	require.Equal(t, 16, g.maxConns(0))
	require.Equal(t, 8, g.maxConns(1))
	require.Equal(t, 8, g.maxConns(5))
}

func Test_lockPair(t *testing.T) {
	g := newTestGraph(t, 6)
	a := fixedPoint(t, g, 0, 0, 0)
	b := fixedPoint(t, g, 1, 0, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			unlock := lockPair(b, a, 0)
			unlock()
		}
	}()
	for range 1000 {
		unlock := lockPair(a, b, 0)
		unlock()
	}
	<-done
}
