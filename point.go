package hnsw

import (
	"fmt"
	"slices"
	"sync"
)

// PointID is the internal identity of a point: the layer it was assigned
// to and its slot within that layer. It never changes once assigned.
type PointID struct {
	Layer uint8
	Slot  uint32
}

func (id PointID) String() string {
	return fmt.Sprintf("%d/%d", id.Layer, id.Slot)
}

// Neighbor is an edge from a point to one of its neighbors. Distance is
// measured from the owning point.
type Neighbor struct {
	ID       PointID
	Key      uint64
	Distance float32
}

// neighborList is the adjacency of one point at one layer. Each list has
// its own lock so that unrelated points, or different layers of the same
// point, can be mutated concurrently.
type neighborList struct {
	mu    sync.RWMutex
	items []Neighbor
}

// indexOf returns the position of id in the list or -1.
// The caller must hold the lock.
func (l *neighborList) indexOf(id PointID) int {
	for i, n := range l.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// remove deletes id from the list, reporting whether it was present.
// The caller must hold the write lock.
func (l *neighborList) remove(id PointID) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.items = slices.Delete(l.items, i, i+1)
	return true
}

// Point is a vector stored in the graph together with its neighbor lists
// for layers 0 through its assigned layer.
type Point struct {
	key uint64
	id  PointID
	// seq is a graph-wide dense sequence number. It orders lock
	// acquisition and indexes bitmaps.
	seq uint32
	vec Vector

	neighborhood []neighborList
}

func newPoint(key uint64, id PointID, seq uint32, vec Vector, maxConns func(layer int) int) *Point {
	p := &Point{
		key:          key,
		id:           id,
		seq:          seq,
		vec:          vec,
		neighborhood: make([]neighborList, int(id.Layer)+1),
	}
	for l := range p.neighborhood {
		p.neighborhood[l].items = make([]Neighbor, 0, maxConns(l))
	}
	return p
}

// Key returns the origin id the point was inserted with.
func (p *Point) Key() uint64 { return p.key }

// ID returns the internal identity of the point.
func (p *Point) ID() PointID { return p.id }

// Layer returns the highest layer the point participates in.
func (p *Point) Layer() int { return int(p.id.Layer) }

// Vector returns the point's vector. It must not be modified.
func (p *Point) Vector() Vector { return p.vec }

// Neighbors returns a copy of the point's neighbors at the given layer,
// or nil if the point does not reach that layer.
func (p *Point) Neighbors(layer int) []Neighbor {
	if layer < 0 || layer >= len(p.neighborhood) {
		return nil
	}
	return p.appendNeighbors(layer, nil)
}

// Neighborhood returns a copy of the neighbor lists of every layer of
// the point, indexed by layer.
func (p *Point) Neighborhood() [][]Neighbor {
	out := make([][]Neighbor, len(p.neighborhood))
	for l := range p.neighborhood {
		out[l] = p.appendNeighbors(l, nil)
	}
	return out
}

// HasNeighbor reports whether id is a neighbor of the point at the given
// layer.
func (p *Point) HasNeighbor(layer int, id PointID) bool {
	if layer < 0 || layer >= len(p.neighborhood) {
		return false
	}
	l := &p.neighborhood[layer]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.indexOf(id) >= 0
}

// degree is the number of neighbors at the given layer.
func (p *Point) degree(layer int) int {
	l := &p.neighborhood[layer]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (p *Point) appendNeighbors(layer int, buf []Neighbor) []Neighbor {
	l := &p.neighborhood[layer]
	l.mu.RLock()
	buf = append(buf, l.items...)
	l.mu.RUnlock()
	return buf
}

// asNeighbor returns the edge pointing at p from a point d away.
func (p *Point) asNeighbor(d float32) Neighbor {
	return Neighbor{ID: p.id, Key: p.key, Distance: d}
}

// lockPair write-locks the lists of a and b at the given layer in
// sequence order and returns the matching unlock.
func lockPair(a, b *Point, layer int) func() {
	first, second := a, b
	if second.seq < first.seq {
		first, second = second, first
	}
	first.neighborhood[layer].mu.Lock()
	second.neighborhood[layer].mu.Lock()
	return func() {
		second.neighborhood[layer].mu.Unlock()
		first.neighborhood[layer].mu.Unlock()
	}
}
