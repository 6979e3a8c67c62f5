package hnsw

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/stat"
)

// Analyzer is a struct that holds a graph and provides
// methods for analyzing it. It offers no compatibility guarantee
// as the methods of measuring the graph's health with change
// with the implementation.
//
// Results are only meaningful while no insertion is in flight.
type Analyzer struct {
	Graph *Graph
}

// maxReportedViolations bounds the errors joined by the Check methods.
const maxReportedViolations = 16

// Height returns the number of occupied layers.
func (a *Analyzer) Height() int {
	return a.Graph.MaxLevel() + 1
}

// Topography returns the number of points participating in each layer of
// the graph. A point assigned to layer l participates in layers 0..l.
func (a *Analyzer) Topography() []int {
	topography := make([]int, a.Height())
	for p := range a.Graph.Points() {
		for l := 0; l <= p.Layer(); l++ {
			topography[l]++
		}
	}
	return topography
}

// Connectivity returns the average number of edges in the
// graph for each non-empty layer.
func (a *Analyzer) Connectivity() []float64 {
	degrees := a.degrees()
	connectivity := make([]float64, 0, len(degrees))
	for _, d := range degrees {
		if len(d) == 0 {
			continue
		}
		connectivity = append(connectivity, stat.Mean(d, nil))
	}
	return connectivity
}

// degrees returns the neighbor count of every point, per layer.
func (a *Analyzer) degrees() [][]float64 {
	degrees := make([][]float64, a.Height())
	for p := range a.Graph.Points() {
		for l := range p.neighborhood {
			degrees[l] = append(degrees[l], float64(len(p.Neighbors(l))))
		}
	}
	return degrees
}

// GraphQualityMetrics contains various metrics that evaluate the quality of the graph.
type GraphQualityMetrics struct {
	// NodeCount is the total number of nodes in the graph.
	NodeCount int

	// AvgConnectivity is the average number of connections per node in the base layer.
	AvgConnectivity float64

	// ConnectivityStdDev is the standard deviation of connections per node.
	ConnectivityStdDev float64

	// DistortionRatio measures how well the graph preserves distances.
	// Lower values indicate better distance preservation.
	DistortionRatio float64

	// LayerBalance measures how well balanced the layers are.
	// Values closer to 1.0 indicate better balance.
	LayerBalance float64

	// GraphHeight is the number of layers in the graph.
	GraphHeight int

	// Isolated is the number of points without any base layer neighbor.
	Isolated int

	// Reachable is the number of points reachable from the entry point
	// over base layer edges.
	Reachable int
}

// QualityMetrics calculates various quality metrics for the graph.
// Returns a struct containing metrics that evaluate the graph's quality.
func (a *Analyzer) QualityMetrics() GraphQualityMetrics {
	if a.Graph.Len() == 0 {
		return GraphQualityMetrics{}
	}

	metrics := GraphQualityMetrics{
		NodeCount:       a.Graph.Len(),
		DistortionRatio: a.calculateDistortionRatio(),
		LayerBalance:    a.calculateLayerBalance(),
		GraphHeight:     a.Height(),
		Reachable:       int(a.Reachable().GetCardinality()),
	}
	if base := a.degrees()[0]; len(base) > 0 {
		metrics.AvgConnectivity, metrics.ConnectivityStdDev = stat.PopMeanStdDev(base, nil)
		for _, d := range base {
			if d == 0 {
				metrics.Isolated++
			}
		}
	}
	// A lone point has nobody to link to.
	if metrics.NodeCount == 1 {
		metrics.Isolated = 0
	}
	return metrics
}

// Reachable returns the sequence numbers of every point reachable from the
// entry point over base layer edges.
func (a *Analyzer) Reachable() *roaring.Bitmap {
	seen := roaring.New()
	ep := a.Graph.EntryPoint()
	if ep == nil {
		return seen
	}

	seen.Add(ep.seq)
	queue := []*Point{ep}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range cur.Neighbors(0) {
			next, ok := a.Graph.PointByID(n.ID)
			if !ok || !seen.CheckedAdd(next.seq) {
				continue
			}
			queue = append(queue, next)
		}
	}
	return seen
}

// CheckSymmetry verifies that every edge has its reverse at the same
// layer. Violations are joined into a single error wrapping
// ErrInvariantViolation.
func (a *Analyzer) CheckSymmetry() error {
	var errs []error
	for p := range a.Graph.Points() {
		for l := range p.neighborhood {
			for _, n := range p.Neighbors(l) {
				other, ok := a.Graph.PointByID(n.ID)
				if ok && other.HasNeighbor(l, p.id) {
					continue
				}
				errs = append(errs, fmt.Errorf("%w: %d links to %d at layer %d without reverse",
					ErrInvariantViolation, p.key, n.Key, l))
				if len(errs) >= maxReportedViolations {
					return errors.Join(errs...)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// CheckDegrees verifies that no list exceeds its layer's degree bound and
// that lists hold neither self loops, duplicates nor points absent from
// the layer.
func (a *Analyzer) CheckDegrees() error {
	var errs []error
	report := func(format string, args ...any) bool {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...))
		return len(errs) >= maxReportedViolations
	}

	for p := range a.Graph.Points() {
		for l := range p.neighborhood {
			list := p.Neighbors(l)
			if bound := a.Graph.maxConns(l); len(list) > bound {
				if report("%d has %d neighbors at layer %d, bound is %d", p.key, len(list), l, bound) {
					return errors.Join(errs...)
				}
			}
			seen := make(map[PointID]struct{}, len(list))
			for _, n := range list {
				var stop bool
				switch _, dup := seen[n.ID]; {
				case n.ID == p.id:
					stop = report("%d links to itself at layer %d", p.key, l)
				case dup:
					stop = report("%d links to %d twice at layer %d", p.key, n.Key, l)
				case int(n.ID.Layer) < l:
					stop = report("%d links to %d at layer %d above its layer %d", p.key, n.Key, l, n.ID.Layer)
				}
				if stop {
					return errors.Join(errs...)
				}
				seen[n.ID] = struct{}{}
			}
		}
	}
	return errors.Join(errs...)
}

// calculateDistortionRatio estimates how well the graph preserves distances.
// It samples a subset of nodes and compares graph distance to actual distance.
// Lower values indicate better distance preservation.
func (a *Analyzer) calculateDistortionRatio() float64 {
	if a.Graph.Len() < 10 {
		return 0
	}

	// Sample size - use at most 100 nodes to keep computation reasonable
	sampleSize := min(100, a.Graph.Len())
	sampled := make([]*Point, 0, sampleSize)
	for p := range a.Graph.Points() {
		if len(sampled) >= sampleSize {
			break
		}
		sampled = append(sampled, p)
	}

	var ratios []float64
	for i := 0; i < len(sampled); i++ {
		for j := i + 1; j < len(sampled); j++ {
			actualDist := float64(a.Graph.distance(sampled[i].vec, sampled[j].vec))
			graphDist := a.estimateGraphDistance(sampled[i], sampled[j])
			if graphDist > 0 && actualDist > 0 && !math.IsNaN(actualDist) && !math.IsInf(actualDist, 0) {
				ratios = append(ratios, float64(graphDist)/actualDist)
			}
		}
	}
	if len(ratios) == 0 {
		return 0
	}
	return stat.Mean(ratios, nil)
}

// estimateGraphDistance estimates the number of base layer hops between
// two points. Returns the number of hops or -1 if no path is found.
func (a *Analyzer) estimateGraphDistance(start, end *Point) int {
	if start == nil || end == nil {
		return -1
	}
	if start == end {
		return 0
	}

	// Limit search depth to avoid excessive computation
	const maxDepth = 10

	visited := roaring.New()
	visited.Add(start.seq)
	frontier := []*Point{start}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []*Point
		for _, cur := range frontier {
			for _, n := range cur.Neighbors(0) {
				p, ok := a.Graph.PointByID(n.ID)
				if !ok || !visited.CheckedAdd(p.seq) {
					continue
				}
				if p == end {
					return depth
				}
				next = append(next, p)
			}
		}
		frontier = next
	}

	return -1 // No path found within depth limit
}

// calculateLayerBalance measures how well balanced the layers are.
// It compares the number of points reaching each layer to the (1/M)^l
// fraction the level distribution predicts. Values closer to 1.0
// indicate better balance.
func (a *Analyzer) calculateLayerBalance() float64 {
	topography := a.Topography()
	if len(topography) <= 1 {
		return 0
	}

	ml := 1 / float64(a.Graph.m)
	baseSize := float64(topography[0])

	var balanceSum float64
	for i := 1; i < len(topography); i++ {
		expectedSize := baseSize * math.Pow(ml, float64(i))
		actualSize := float64(topography[i])
		if expectedSize == 0 {
			continue
		}

		// Calculate ratio between actual and expected size
		ratio := actualSize / expectedSize
		if ratio > 1 {
			ratio = 1 / ratio // Ensure ratio is <= 1
		}

		balanceSum += ratio
	}

	return balanceSum / float64(len(topography)-1)
}
