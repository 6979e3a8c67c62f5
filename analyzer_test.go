package hnsw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzer_QualityMetrics(t *testing.T) {
	// Create a test graph
	g := newTestGraph(t, 6)

	// Empty graph should return default metrics
	analyzer := Analyzer{Graph: g}
	metrics := analyzer.QualityMetrics()

	assert.Equal(t, 0, metrics.NodeCount)
	assert.Equal(t, 0.0, metrics.AvgConnectivity)
	assert.Equal(t, 0.0, metrics.ConnectivityStdDev)

	// Add nodes to the graph
	for i := range 100 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}

	// Get metrics for populated graph
	metrics = analyzer.QualityMetrics()

	// Basic assertions
	assert.Equal(t, 100, metrics.NodeCount)
	assert.Greater(t, metrics.AvgConnectivity, 0.0)
	assert.LessOrEqual(t, metrics.AvgConnectivity, float64(2*g.m))
	assert.GreaterOrEqual(t, metrics.ConnectivityStdDev, 0.0)
	assert.GreaterOrEqual(t, metrics.GraphHeight, 1)

	// Layer balance should be between 0 and 1
	assert.GreaterOrEqual(t, metrics.LayerBalance, 0.0)
	assert.LessOrEqual(t, metrics.LayerBalance, 1.0)

	// Distortion ratio should be positive or zero
	assert.GreaterOrEqual(t, metrics.DistortionRatio, 0.0)

	// Points on a line link to their neighbors on either side.
	assert.Equal(t, 0, metrics.Isolated)
	assert.Equal(t, 100, metrics.Reachable)
}

func TestAnalyzer_EstimateGraphDistance(t *testing.T) {
	g := newTestGraph(t, 6)

	// Points in a line: 0 - 1 - 2 - 3
	var line []*Point
	for i := range 4 {
		line = append(line, fixedPoint(t, g, uint64(i), 0, float32(i)))
	}
	for i := 1; i < len(line); i++ {
		connect(g, line[i-1], line[i], 0)
	}
	lone := fixedPoint(t, g, 9, 0, 9)

	analyzer := Analyzer{Graph: g}

	assert.Equal(t, 0, analyzer.estimateGraphDistance(line[0], line[0]), "Distance to self should be 0")
	assert.Equal(t, 1, analyzer.estimateGraphDistance(line[0], line[1]))
	assert.Equal(t, 3, analyzer.estimateGraphDistance(line[0], line[3]))
	assert.Equal(t, -1, analyzer.estimateGraphDistance(line[0], lone), "Unconnected points have no path")

	// Test with nil nodes
	assert.Equal(t, -1, analyzer.estimateGraphDistance(nil, line[1]), "Distance with nil node should be -1")
	assert.Equal(t, -1, analyzer.estimateGraphDistance(line[0], nil), "Distance with nil node should be -1")
}

func TestAnalyzer_Reachable(t *testing.T) {
	g := newTestGraph(t, 6)
	a := fixedPoint(t, g, 0, 0, 0)
	b := fixedPoint(t, g, 1, 0, 1)
	c := fixedPoint(t, g, 2, 0, 2)
	connect(g, a, b, 0)
	require.True(t, g.entry.install(a))

	analyzer := Analyzer{Graph: g}
	reach := analyzer.Reachable()
	assert.True(t, reach.Contains(a.seq))
	assert.True(t, reach.Contains(b.seq))
	assert.False(t, reach.Contains(c.seq))
	assert.EqualValues(t, 2, reach.GetCardinality())
}

func TestAnalyzer_LayerBalance(t *testing.T) {
	// M=2 puts about half of the points of a layer on the next one.
	g, err := NewGraphWithConfig(Config{
		M:              2,
		MaxLayer:       16,
		EfConstruction: 20,
		Distance:       EuclideanDistance,
		Rng:            rand.New(rand.NewSource(0)),
	})
	require.NoError(t, err)

	for i := range 128 {
		require.NoError(t, g.Insert(Vector{float32(i)}, uint64(i)))
	}

	analyzer := Analyzer{Graph: g}

	// Test layer balance
	balance := analyzer.calculateLayerBalance()
	assert.GreaterOrEqual(t, balance, 0.0, "Layer balance should be non-negative")
	assert.LessOrEqual(t, balance, 1.0, "Layer balance should not exceed 1.0")

	// Check topography
	topo := analyzer.Topography()
	assert.GreaterOrEqual(t, len(topo), 2, "Should have at least 2 layers")
	assert.Equal(t, 128, topo[0])
	assert.Equal(t, analyzer.Height(), len(topo))
	for i := 1; i < len(topo); i++ {
		assert.LessOrEqual(t, topo[i], topo[i-1], "Higher layer should not be larger than lower layer")
	}
	assert.Len(t, analyzer.Connectivity(), len(topo))
}

func TestAnalyzer_CheckSymmetry(t *testing.T) {
	g := newTestGraph(t, 6)
	a := fixedPoint(t, g, 0, 1, 0)
	b := fixedPoint(t, g, 1, 1, 1)
	connect(g, a, b, 1)

	analyzer := Analyzer{Graph: g}
	require.NoError(t, analyzer.CheckSymmetry())

	// Drop the reverse edge at layer 1 only.
	b.neighborhood[1].remove(a.id)
	err := analyzer.CheckSymmetry()
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.Contains(t, err.Error(), "0 links to 1 at layer 1")
}

func TestAnalyzer_CheckDegrees(t *testing.T) {
	g := newTestGraph(t, 2)
	owner := fixedPoint(t, g, 0, 1, 0)
	analyzer := Analyzer{Graph: g}

	var others []*Point
	for i := 1; i <= 3; i++ {
		others = append(others, fixedPoint(t, g, uint64(i), 1, float32(i)))
	}
	for _, o := range others[:2] {
		connect(g, owner, o, 1)
	}
	require.NoError(t, analyzer.CheckDegrees())

	// A third edge at layer 1 breaks the bound of M=2.
	connect(g, owner, others[2], 1)
	require.ErrorIs(t, analyzer.CheckDegrees(), ErrInvariantViolation)

	owner.neighborhood[1].remove(others[2].id)
	others[2].neighborhood[1].remove(owner.id)
	owner.neighborhood[0].items = append(owner.neighborhood[0].items, owner.asNeighbor(0))
	err := analyzer.CheckDegrees()
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.Contains(t, err.Error(), "links to itself")
}

func TestAnalyzer_EmptyGraph(t *testing.T) {
	// Create an empty graph
	g := newTestGraph(t, 6)
	analyzer := Analyzer{Graph: g}

	// Test all metrics with empty graph
	assert.Equal(t, 0, analyzer.Height())
	assert.Empty(t, analyzer.Topography())
	assert.Empty(t, analyzer.Connectivity())
	assert.Equal(t, 0.0, analyzer.calculateDistortionRatio())
	assert.Equal(t, 0.0, analyzer.calculateLayerBalance()) // Default for empty graph
	assert.NoError(t, analyzer.CheckSymmetry())
	assert.NoError(t, analyzer.CheckDegrees())
	assert.True(t, analyzer.Reachable().IsEmpty())

	metrics := analyzer.QualityMetrics()
	assert.Equal(t, 0, metrics.NodeCount)
	assert.Equal(t, 0.0, metrics.AvgConnectivity)
	assert.Equal(t, 0.0, metrics.ConnectivityStdDev)
	assert.Equal(t, 0.0, metrics.DistortionRatio)
	assert.Equal(t, 0.0, metrics.LayerBalance)
	assert.Equal(t, 0, metrics.GraphHeight)
}
