// Package heap provides a generic binary heap ordered by a Less method.
package heap

import "container/heap"

// Lessable is a type that can be ordered against another value of
// the same type.
type Lessable[T any] interface {
	Less(T) bool
}

type innerHeap[T Lessable[T]] struct {
	data []T
}

func (h *innerHeap[T]) Len() int           { return len(h.data) }
func (h *innerHeap[T]) Less(i, j int) bool { return h.data[i].Less(h.data[j]) }
func (h *innerHeap[T]) Swap(i, j int)      { h.data[i], h.data[j] = h.data[j], h.data[i] }

func (h *innerHeap[T]) Push(x any) {
	h.data = append(h.data, x.(T))
}

func (h *innerHeap[T]) Pop() any {
	n := len(h.data)
	x := h.data[n-1]
	h.data = h.data[:n-1]
	return x
}

// Heap is a min-heap of T. The element for which Less reports true
// against every other element is at the top.
//
// To get a max-heap, wrap T in a type whose Less is inverted.
type Heap[T Lessable[T]] struct {
	inner innerHeap[T]
}

// Init initializes the heap with the given slice, which is used as
// backing storage.
func (h *Heap[T]) Init(d []T) {
	h.inner.data = d
	heap.Init(&h.inner)
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int {
	return h.inner.Len()
}

// Push pushes the element x onto the heap.
func (h *Heap[T]) Push(x T) {
	heap.Push(&h.inner, x)
}

// Pop removes and returns the minimum element from the heap.
func (h *Heap[T]) Pop() T {
	return heap.Pop(&h.inner).(T)
}

// Min returns the minimum element without removing it.
// It panics if the heap is empty.
func (h *Heap[T]) Min() T {
	return h.inner.data[0]
}

// Reset empties the heap, keeping its storage.
func (h *Heap[T]) Reset() {
	h.inner.data = h.inner.data[:0]
}

// Slice returns the underlying storage in heap order, not sorted order.
func (h *Heap[T]) Slice() []T {
	return h.inner.data
}
