package hnsw

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// maxRoundSize caps the number of points inserted by a single round of
// ParallelInsert.
const maxRoundSize = 1 << 14

// reverseRequest asks target to link back to cand.point at layer.
type reverseRequest struct {
	target *Point
	layer  int
	cand   searchCandidate
}

type reverseKey struct {
	target *Point
	layer  int
}

// reverseShard queues the reverse requests of targets whose sequence
// number maps to it. A shard is drained by a single goroutine, so every
// target is updated by one owner per round.
type reverseShard struct {
	mu   sync.Mutex
	reqs []reverseRequest
}

func (s *reverseShard) push(r reverseRequest) {
	s.mu.Lock()
	s.reqs = append(s.reqs, r)
	s.mu.Unlock()
}

// ParallelInsert is ParallelInsertContext with a background context.
func (g *Graph) ParallelInsert(items []Node) error {
	return g.ParallelInsertContext(context.Background(), items)
}

// ParallelInsertContext inserts items using up to Config.Workers
// goroutines and returns once every item has been inserted or rejected.
//
// The first insertable item is inserted alone to establish the entry
// point. The rest are inserted in rounds no larger than the graph at the
// start of the round. Within a round, forward links are computed and
// published in parallel; reverse links are then grouped by target and
// applied by one goroutine per shard of targets.
//
// Items rejected for their own reasons (duplicate key, bad dimension, full
// graph) do not stop the batch; they are reported together as a
// *BatchError. ctx is checked between rounds. A wrapped
// ErrInvariantViolation means a worker failed and the graph must not be
// trusted.
func (g *Graph) ParallelInsertContext(ctx context.Context, items []Node) error {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()
	errs := make([]error, len(items))

	next := 0
	for next < len(items) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("parallel insert interrupted after %d of %d items: %w", next, len(items), err)
		}
		it := items[next]
		errs[next] = g.Insert(it.Value, it.Key)
		next++
		if errs[next-1] == nil {
			break
		}
	}

	for round := 0; next < len(items); round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("parallel insert interrupted after %d of %d items: %w", next, len(items), err)
		}
		end := min(next+g.roundSize(), len(items))
		if err := g.insertRound(round, items[next:end], errs[next:end]); err != nil {
			return err
		}
		next = end
	}
	g.metrics.setPoints(g.Len())

	batchErr := &BatchError{}
	for i, err := range errs {
		if err != nil {
			batchErr.Items = append(batchErr.Items, ItemError{Index: i, Key: items[i].Key, Err: err})
		}
	}
	g.log.logBatchInsert(len(items), len(batchErr.Items), time.Since(start))
	if len(batchErr.Items) > 0 {
		return batchErr
	}
	return nil
}

// roundSize bounds a round by the current graph size, so each round at
// most doubles the graph.
func (g *Graph) roundSize() int {
	return min(max(g.Len(), 1), maxRoundSize)
}

// insertRound inserts one round of items. errs receives per-item
// failures; the returned error is only set when a worker failed.
func (g *Graph) insertRound(round int, items []Node, errs []error) error {
	start := time.Now()
	inserted := make([]*Point, len(items))
	offered := make([][][]searchCandidate, len(items))
	shards := make([]reverseShard, g.workers)

	var link errgroup.Group
	link.SetLimit(g.workers)
	for i, it := range items {
		link.Go(func() (err error) {
			defer recoverInvariant(&err)
			began := time.Now()
			p, aerr := g.allocate(it.Value, it.Key)
			if aerr != nil {
				errs[i] = aerr
				g.metrics.observeInsert(0, aerr)
				return nil
			}
			links := g.forwardLinks(p)
			g.publish(p, links)
			for layer, cs := range links {
				for _, c := range cs {
					shards[int(c.point.seq)%len(shards)].push(reverseRequest{
						target: c.point,
						layer:  layer,
						cand:   searchCandidate{point: p, dist: c.dist},
					})
				}
			}
			inserted[i], offered[i] = p, links
			g.metrics.observeInsert(time.Since(began), nil)
			return nil
		})
	}
	if err := link.Wait(); err != nil {
		return err
	}

	requests := 0
	for i := range shards {
		requests += len(shards[i].reqs)
	}

	var apply errgroup.Group
	apply.SetLimit(g.workers)
	for i := range shards {
		apply.Go(func() (err error) {
			defer recoverInvariant(&err)
			g.drainShard(shards[i].reqs)
			return nil
		})
	}
	if err := apply.Wait(); err != nil {
		return err
	}

	for i, p := range inserted {
		if p != nil {
			g.anchorLinks(p, offered[i])
			g.promote(p)
		}
	}
	g.log.logRound(round, len(items), requests, time.Since(start))
	return nil
}

// drainShard applies the requests of one shard, merged per target and
// layer, in a deterministic order.
func (g *Graph) drainShard(reqs []reverseRequest) {
	grouped := make(map[reverseKey][]searchCandidate)
	for _, r := range reqs {
		k := reverseKey{target: r.target, layer: r.layer}
		grouped[k] = append(grouped[k], r.cand)
	}

	keys := maps.Keys(grouped)
	slices.SortFunc(keys, func(a, b reverseKey) int {
		if c := cmp.Compare(a.target.seq, b.target.seq); c != 0 {
			return c
		}
		return cmp.Compare(a.layer, b.layer)
	})
	for _, k := range keys {
		adds := grouped[k]
		slices.SortFunc(adds, compareCandidates)
		g.applyReverse(k.target, k.layer, adds)
	}
}

// recoverInvariant turns a worker panic into an error wrapping
// ErrInvariantViolation.
func recoverInvariant(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: worker panic: %v", ErrInvariantViolation, r)
	}
}
