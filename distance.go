package hnsw

import (
	"reflect"
	"sync"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

// DistanceFunc is a function that computes the distance between two vectors.
//
// The graph calls it from many goroutines at once, so it must be free of
// side effects. It must also be deterministic, symmetric and non-negative,
// and it is only ever called with two vectors of the same length.
type DistanceFunc func(a, b []float32) float32

// CosineDistance computes the cosine distance between two vectors.
func CosineDistance(a, b []float32) float32 {
	d := 1 - vek32.CosineSimilarity(a, b)
	// Rounding may push identical vectors slightly below zero.
	if d < 0 {
		return 0
	}
	return d
}

// EuclideanDistance computes the Euclidean distance between two vectors.
func EuclideanDistance(a, b []float32) float32 {
	return vek32.Distance(a, b)
}

// SquaredEuclideanDistance computes the squared Euclidean distance. It
// ranks neighbors identically to EuclideanDistance without the square root.
func SquaredEuclideanDistance(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

// DotDistance computes 1 - a·b. It is only a valid distance for
// L2-normalized vectors, for which it lies in [0, 2].
func DotDistance(a, b []float32) float32 {
	d := 1 - vek32.Dot(a, b)
	if d < 0 {
		return 0
	}
	return d
}

// ManhattanDistance computes the L1 distance between two vectors.
func ManhattanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += math32.Abs(a[i] - b[i])
	}
	return sum
}

// HammingDistance counts the positions at which a and b differ.
func HammingDistance(a, b []float32) float32 {
	var n float32
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

var (
	distanceFuncsMu sync.RWMutex
	distanceFuncs   = map[string]DistanceFunc{
		"euclidean":         EuclideanDistance,
		"squared_euclidean": SquaredEuclideanDistance,
		"cosine":            CosineDistance,
		"dot":               DotDistance,
		"manhattan":         ManhattanDistance,
		"hamming":           HammingDistance,
	}
)

func distanceFuncToName(fn DistanceFunc) (string, bool) {
	distanceFuncsMu.RLock()
	defer distanceFuncsMu.RUnlock()

	fnptr := reflect.ValueOf(fn).Pointer()
	for name, f := range distanceFuncs {
		if reflect.ValueOf(f).Pointer() == fnptr {
			return name, true
		}
	}
	return "", false
}

// DistanceFuncByName returns the registered distance function with the
// given name.
func DistanceFuncByName(name string) (DistanceFunc, bool) {
	distanceFuncsMu.RLock()
	defer distanceFuncsMu.RUnlock()
	fn, ok := distanceFuncs[name]
	return fn, ok
}

// RegisterDistanceFunc registers a distance function with a name.
// Exported graphs record the name of their distance function, and Import
// refuses a stream recorded under another name.
func RegisterDistanceFunc(name string, fn DistanceFunc) {
	distanceFuncsMu.Lock()
	defer distanceFuncsMu.Unlock()
	distanceFuncs[name] = fn
}
