package hnsw

import (
	"sync"
	"sync/atomic"
)

// entryPoint is the registry of the point every search starts from: the
// first point seen at the highest layer.
type entryPoint struct {
	p atomic.Pointer[Point]

	// bootstrap serializes installation of the very first entry point.
	// It is only taken while the registry is empty.
	bootstrap sync.Mutex
}

func (e *entryPoint) load() *Point {
	return e.p.Load()
}

// install makes p the entry point if the registry is still empty. It
// reports whether p was installed.
func (e *entryPoint) install(p *Point) bool {
	if e.p.Load() != nil {
		return false
	}
	e.bootstrap.Lock()
	defer e.bootstrap.Unlock()
	return e.p.CompareAndSwap(nil, p)
}

// promote replaces the entry point with p if p's layer is strictly greater
// than the current one. Ties keep the earlier point.
func (e *entryPoint) promote(p *Point) bool {
	for {
		cur := e.p.Load()
		if cur != nil && cur.Layer() >= p.Layer() {
			return false
		}
		if e.p.CompareAndSwap(cur, p) {
			return true
		}
	}
}
