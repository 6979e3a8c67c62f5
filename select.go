package hnsw

// selectNeighbors chooses at most m edges among candidates, which must be
// sorted by ascending distance to the point the edges will belong to.
//
// A candidate is kept only if it is closer to that point than to every
// candidate kept before it. With keepPruned, rejected candidates fill any
// room left, closest first. dropped holds every candidate not kept.
func (g *Graph) selectNeighbors(candidates []searchCandidate, m int) (kept, dropped []searchCandidate) {
	if len(candidates) <= 1 && m >= 1 {
		return candidates, nil
	}

	kept = make([]searchCandidate, 0, m)
	var rejected []searchCandidate
	for i, c := range candidates {
		if len(kept) >= m {
			dropped = append(dropped, candidates[i:]...)
			break
		}

		good := true
		for _, k := range kept {
			if g.distance(c.point.vec, k.point.vec) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			rejected = append(rejected, c)
		}
	}

	if g.keepPruned {
		n := min(m-len(kept), len(rejected))
		kept = append(kept, rejected[:n]...)
		rejected = rejected[n:]
	}
	// Rejected candidates all precede the tail cut off by the bound.
	dropped = append(rejected, dropped...)
	return kept, dropped
}
