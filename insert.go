package hnsw

import (
	"slices"
	"time"
)

// Insert adds vec to the graph under key. The vector is copied.
//
// Insert fails with ErrDuplicateOriginID if key is already present,
// ErrDimensionMismatch if vec does not match the graph dimension,
// ErrEmptyVector for a zero-length vec and ErrCapacityExceeded when the
// graph is full. A failed insert leaves the graph unchanged.
func (g *Graph) Insert(vec Vector, key uint64) error {
	start := time.Now()
	err := g.insert(vec, key)
	g.metrics.observeInsert(time.Since(start), err)
	return err
}

func (g *Graph) insert(vec Vector, key uint64) error {
	p, err := g.allocate(vec, key)
	if err != nil {
		return err
	}
	if g.entry.install(p) {
		g.log.logBootstrap(p)
		g.metrics.setPoints(g.Len())
		return nil
	}

	links := g.forwardLinks(p)
	g.publish(p, links)
	for layer, cs := range links {
		for _, c := range cs {
			g.applyReverse(c.point, layer, []searchCandidate{{point: p, dist: c.dist}})
		}
	}
	g.anchorLinks(p, links)
	g.promote(p)
	g.metrics.setPoints(g.Len())
	return nil
}

// allocate validates vec, draws a level and registers a new point. The
// point has no edges and is unreachable until published.
func (g *Graph) allocate(vec Vector, key uint64) (*Point, error) {
	if err := g.checkDims(vec); err != nil {
		return nil, err
	}
	return g.points.newPoint(slices.Clone(vec), key, g.randomLevel())
}

// forwardLinks computes the neighbors p should link to at each of its
// layers. Layers above the current entry point get no links.
func (g *Graph) forwardLinks(p *Point) [][]searchCandidate {
	links := make([][]searchCandidate, p.Layer()+1)

	ep := g.entry.load()
	cur, dist := ep, g.distance(p.vec, ep.vec)
	for layer := ep.Layer(); layer > p.Layer(); layer-- {
		cur, dist = g.greedyClosest(p.vec, cur, dist, layer)
	}

	entries := []searchCandidate{{point: cur, dist: dist}}
	for layer := min(p.Layer(), ep.Layer()); layer >= 0; layer-- {
		found := g.searchLayer(p.vec, entries, g.efConstruction, layer)
		found = slices.DeleteFunc(found, func(c searchCandidate) bool {
			return c.point == p
		})
		if len(found) > 0 {
			entries = found
		}
		links[layer], _ = g.selectNeighbors(found, g.maxConns(layer))
	}
	return links
}

// publish writes p's forward links. Reverse links are added separately,
// which is why p must not be reachable yet.
func (g *Graph) publish(p *Point, links [][]searchCandidate) {
	for layer, cs := range links {
		for _, evicted := range g.addEdges(p, layer, cs) {
			g.reconcile(p, evicted.point, layer)
		}
	}
}

// applyReverse adds the requesters in additions to target's list at the
// given layer, then restores symmetry for every pair the update touched:
// requesters that were not accepted and old neighbors that were evicted.
func (g *Graph) applyReverse(target *Point, layer int, additions []searchCandidate) {
	dropped := g.addEdges(target, layer, additions)
	g.metrics.reverseUpdates(len(additions), len(dropped))

	seen := make(map[PointID]struct{}, len(dropped)+len(additions))
	touched := make([]*Point, 0, len(dropped)+len(additions))
	for _, c := range slices.Concat(dropped, additions) {
		if _, ok := seen[c.point.id]; ok {
			continue
		}
		seen[c.point.id] = struct{}{}
		g.reconcile(target, c.point, layer)
		touched = append(touched, c.point)
	}
	for _, q := range touched {
		g.ensureLinked(q, layer, target, 0)
	}
}

// addEdges merges additions into owner's list at the given layer. When the
// merged list exceeds the degree bound it is re-pruned with
// selectNeighbors, and every candidate that did not survive is returned.
func (g *Graph) addEdges(owner *Point, layer int, additions []searchCandidate) []searchCandidate {
	list := &owner.neighborhood[layer]
	bound := g.maxConns(layer)

	list.mu.Lock()
	defer list.mu.Unlock()

	fresh := make([]searchCandidate, 0, len(additions))
	for _, c := range additions {
		if c.point == owner || list.indexOf(c.point.id) >= 0 {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(list.items)+len(fresh) <= bound {
		for _, c := range fresh {
			list.items = append(list.items, c.point.asNeighbor(c.dist))
		}
		return nil
	}

	merged := make([]searchCandidate, 0, len(list.items)+len(fresh))
	for _, n := range list.items {
		np, ok := g.points.byID(n.ID)
		if !ok {
			continue
		}
		merged = append(merged, searchCandidate{point: np, dist: n.Distance})
	}
	merged = append(merged, fresh...)
	slices.SortFunc(merged, compareCandidates)

	kept, dropped := g.selectNeighbors(merged, bound)
	list.items = list.items[:0]
	for _, c := range kept {
		list.items = append(list.items, c.point.asNeighbor(c.dist))
	}
	return dropped
}

// reconcile makes the edge between a and b at the given layer symmetric.
// An edge present on only one side is removed; both lists are held for
// the whole check.
func (g *Graph) reconcile(a, b *Point, layer int) {
	if a == b {
		return
	}
	unlock := lockPair(a, b, layer)
	defer unlock()

	la, lb := &a.neighborhood[layer], &b.neighborhood[layer]
	ab, ba := la.indexOf(b.id) >= 0, lb.indexOf(a.id) >= 0
	switch {
	case ab && !ba:
		la.remove(b.id)
	case ba && !ab:
		lb.remove(a.id)
	}
}

// maxAnchorDepth bounds the chain of evictions a single anchoring may
// cause.
const maxAnchorDepth = 3

// anchorLinks makes sure p kept at least one edge at every layer where it
// offered links, falling back to the closest of them.
func (g *Graph) anchorLinks(p *Point, links [][]searchCandidate) {
	for layer, cs := range links {
		if len(cs) > 0 && p.degree(layer) == 0 {
			g.anchor(p, layer, cs, 0)
		}
	}
}

// ensureLinked re-attaches q at the given layer if it lost its last edge,
// trying the neighbors of via, which just pruned it.
func (g *Graph) ensureLinked(q *Point, layer int, via *Point, depth int) {
	if depth > maxAnchorDepth || q.degree(layer) > 0 {
		return
	}
	var cands []searchCandidate
	for _, n := range via.Neighbors(layer) {
		np, ok := g.points.byID(n.ID)
		if !ok || np == q {
			continue
		}
		cands = append(cands, searchCandidate{point: np, dist: g.distance(q.vec, np.vec)})
	}
	slices.SortFunc(cands, compareCandidates)
	g.anchor(q, layer, cands, depth)
}

// anchor links an unconnected p to the first usable point of cands, which
// must be sorted by ascending distance to p. A full candidate evicts its
// farthest neighbor to make room; the evicted point is reconciled and, if
// that left it unconnected, anchored in turn.
func (g *Graph) anchor(p *Point, layer int, cands []searchCandidate, depth int) {
	for _, c := range cands {
		if c.point == p || c.point.Layer() < layer {
			continue
		}
		evicted, linked := g.forceLink(p, c, layer)
		if !linked {
			return
		}
		if evicted != nil {
			g.metrics.reverseUpdates(0, 1)
			g.reconcile(c.point, evicted, layer)
			g.ensureLinked(evicted, layer, c.point, depth+1)
		}
		return
	}
}

// forceLink adds the edge p-c at layer on both sides unless p gained a
// neighbor meanwhile, in which case linked is false.
func (g *Graph) forceLink(p *Point, c searchCandidate, layer int) (evicted *Point, linked bool) {
	unlock := lockPair(p, c.point, layer)
	defer unlock()

	lp, lc := &p.neighborhood[layer], &c.point.neighborhood[layer]
	if len(lp.items) > 0 {
		return nil, false
	}
	if lc.indexOf(p.id) < 0 {
		if len(lc.items) >= g.maxConns(layer) {
			far := 0
			for i, n := range lc.items {
				if n.Distance > lc.items[far].Distance {
					far = i
				}
			}
			evicted, _ = g.points.byID(lc.items[far].ID)
			lc.items = slices.Delete(lc.items, far, far+1)
		}
		lc.items = append(lc.items, p.asNeighbor(c.dist))
	}
	lp.items = append(lp.items, c.point.asNeighbor(c.dist))
	return evicted, true
}

// promote makes p the entry point if it reaches a higher layer than the
// current one.
func (g *Graph) promote(p *Point) {
	prev := g.entry.load()
	if g.entry.promote(p) {
		g.log.logPromotion(p, prev)
		g.metrics.promoted()
	}
}
