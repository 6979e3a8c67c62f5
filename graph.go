package hnsw

import (
	"cmp"
	"slices"

	"github.com/coder/hnswgraph/heap"
)

type searchCandidate struct {
	point *Point
	dist  float32
}

func (s searchCandidate) Less(o searchCandidate) bool {
	return s.dist < o.dist
}

// farthestFirst orders candidates so that the worst one is on top of the
// heap. The result set of a beam search is kept in this order.
type farthestFirst searchCandidate

func (s farthestFirst) Less(o farthestFirst) bool {
	return s.dist > o.dist
}

func compareCandidates(a, b searchCandidate) int {
	if c := cmp.Compare(a.dist, b.dist); c != 0 {
		return c
	}
	return cmp.Compare(a.point.seq, b.point.seq)
}

// greedyClosest walks the given layer from cur, moving to any neighbor
// strictly closer to target until no neighbor improves. It holds a single
// candidate and never backtracks.
func (g *Graph) greedyClosest(target Vector, cur *Point, curDist float32, layer int) (*Point, float32) {
	buf := make([]Neighbor, 0, g.maxConns(layer))
	for changed := true; changed; {
		changed = false
		buf = cur.appendNeighbors(layer, buf[:0])
		for _, n := range buf {
			next, ok := g.points.byID(n.ID)
			if !ok {
				continue
			}
			if d := g.distance(target, next.vec); d < curDist {
				cur, curDist = next, d
				changed = true
			}
		}
	}
	return cur, curDist
}

// searchLayer runs a best-first search bounded to ef results on one layer,
// starting from entries. The result is sorted by ascending distance.
func (g *Graph) searchLayer(target Vector, entries []searchCandidate, ef, layer int) []searchCandidate {
	var (
		candidates = heap.Heap[searchCandidate]{}
		result     = heap.Heap[farthestFirst]{}
		visited    = make(map[PointID]struct{}, ef*2)
	)
	candidates.Init(make([]searchCandidate, 0, ef))
	result.Init(make([]farthestFirst, 0, ef+1))

	for _, e := range entries {
		if _, ok := visited[e.point.id]; ok {
			continue
		}
		visited[e.point.id] = struct{}{}
		candidates.Push(e)
		result.Push(farthestFirst(e))
		if result.Len() > ef {
			result.Pop()
		}
	}

	buf := make([]Neighbor, 0, g.maxConns(layer))
	for candidates.Len() > 0 {
		current := candidates.Pop()
		// Nothing left in the frontier can improve the kept set.
		if result.Len() >= ef && current.dist > result.Min().dist {
			break
		}

		buf = current.point.appendNeighbors(layer, buf[:0])
		for _, n := range buf {
			if _, ok := visited[n.ID]; ok {
				continue
			}
			visited[n.ID] = struct{}{}
			neighbor, ok := g.points.byID(n.ID)
			if !ok {
				continue
			}

			dist := g.distance(target, neighbor.vec)
			if result.Len() < ef || dist < result.Min().dist {
				c := searchCandidate{point: neighbor, dist: dist}
				candidates.Push(c)
				result.Push(farthestFirst(c))
				if result.Len() > ef {
					result.Pop()
				}
			}
		}
	}

	out := make([]searchCandidate, result.Len())
	for i, c := range result.Slice() {
		out[i] = searchCandidate(c)
	}
	slices.SortFunc(out, compareCandidates)
	return out
}
