package hnsw

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

const (
	// Layers store points in fixed-size segments so growth never copies or
	// moves points that readers may hold.
	segmentBits = 12
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1

	originShardCount = 64
)

type segment [segmentSize]atomic.Pointer[Point]

// layer holds the points whose assigned layer is this layer's index.
type layer struct {
	next     atomic.Uint32
	segments atomic.Pointer[[]*segment]
	growMu   sync.Mutex
}

func newLayer(capacity int) *layer {
	n := max(1, (capacity+segmentSize-1)/segmentSize)
	segs := make([]*segment, n)
	for i := range segs {
		segs[i] = new(segment)
	}
	l := &layer{}
	l.segments.Store(&segs)
	return l
}

// allocate reserves the next dense slot of the layer.
func (l *layer) allocate() uint32 {
	return l.next.Add(1) - 1
}

func (l *layer) get(slot uint32) *Point {
	segs := *l.segments.Load()
	i := int(slot >> segmentBits)
	if i >= len(segs) {
		return nil
	}
	return segs[i][slot&segmentMask].Load()
}

func (l *layer) store(slot uint32, p *Point) {
	i := int(slot >> segmentBits)
	segs := *l.segments.Load()
	if i >= len(segs) {
		l.growMu.Lock()
		segs = *l.segments.Load()
		if i >= len(segs) {
			grown := make([]*segment, len(segs), i+1)
			copy(grown, segs)
			for len(grown) <= i {
				grown = append(grown, new(segment))
			}
			l.segments.Store(&grown)
			segs = grown
		}
		l.growMu.Unlock()
	}
	segs[i][slot&segmentMask].Store(p)
}

func (l *layer) size() int {
	if l == nil {
		return 0
	}
	return int(l.next.Load())
}

type originShard struct {
	mu     sync.RWMutex
	points map[uint64]*Point
}

// pointIndexation owns every point of the graph. It assigns internal ids
// and is the only authority mapping keys to points.
type pointIndexation struct {
	layers []*layer
	shards [originShardCount]originShard

	count       atomic.Int64
	seq         atomic.Uint32
	maxElements int
	maxConns    func(layer int) int
}

func newPointIndexation(maxLayer, expectedCapacity, maxElements int, maxConns func(int) int) *pointIndexation {
	ix := &pointIndexation{
		layers:      make([]*layer, maxLayer),
		maxElements: maxElements,
		maxConns:    maxConns,
	}
	// Layer l holds roughly a (1/M)^l fraction of the points; only the base
	// layer is presized.
	for l := range ix.layers {
		capacity := 0
		if l == 0 {
			capacity = expectedCapacity
		}
		ix.layers[l] = newLayer(capacity)
	}
	perShard := expectedCapacity / originShardCount
	for i := range ix.shards {
		ix.shards[i].points = make(map[uint64]*Point, perShard)
	}
	return ix
}

func (ix *pointIndexation) shard(key uint64) *originShard {
	// Fibonacci hashing spreads sequential keys over the shards.
	return &ix.shards[(key*0x9E3779B97F4A7C15)>>58]
}

// reserve claims room for one more point, honoring maxElements.
func (ix *pointIndexation) reserve() bool {
	for {
		c := ix.count.Load()
		if ix.maxElements > 0 && c >= int64(ix.maxElements) {
			return false
		}
		if ix.count.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

// newPoint allocates a point at the next slot of the given layer. No slot
// is consumed when the key is a duplicate or the graph is full.
func (ix *pointIndexation) newPoint(vec Vector, key uint64, level int) (*Point, error) {
	sh := ix.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.points[key]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateOriginID, key)
	}
	if !ix.reserve() {
		return nil, fmt.Errorf("%w: limit is %d points", ErrCapacityExceeded, ix.maxElements)
	}

	lay := ix.layers[level]
	slot := lay.allocate()
	p := newPoint(key, PointID{Layer: uint8(level), Slot: slot}, ix.seq.Add(1)-1, vec, ix.maxConns)
	lay.store(slot, p)
	sh.points[key] = p
	return p, nil
}

func (ix *pointIndexation) byKey(key uint64) (*Point, bool) {
	sh := ix.shard(key)
	sh.mu.RLock()
	p, ok := sh.points[key]
	sh.mu.RUnlock()
	return p, ok
}

func (ix *pointIndexation) byID(id PointID) (*Point, bool) {
	if int(id.Layer) >= len(ix.layers) {
		return nil, false
	}
	p := ix.layers[id.Layer].get(id.Slot)
	return p, p != nil
}

// all yields every point, layer by layer. Points added while iterating may
// or may not be observed.
func (ix *pointIndexation) all() iter.Seq[*Point] {
	return func(yield func(*Point) bool) {
		for _, lay := range ix.layers {
			n := uint32(lay.size())
			for slot := uint32(0); slot < n; slot++ {
				p := lay.get(slot)
				if p == nil {
					// Slot allocated, point not yet stored.
					continue
				}
				if !yield(p) {
					return
				}
			}
		}
	}
}

// highestOccupiedLayer returns the highest layer holding a point, or -1
// for an empty graph.
func (ix *pointIndexation) highestOccupiedLayer() int {
	for l := len(ix.layers) - 1; l >= 0; l-- {
		if ix.layers[l].size() > 0 {
			return l
		}
	}
	return -1
}

func (ix *pointIndexation) len() int {
	return int(ix.count.Load())
}
