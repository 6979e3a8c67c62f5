package hnsw

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the graph's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDuplicateOriginID is returned when inserting a key that is already
	// present in the graph.
	ErrDuplicateOriginID = errors.New("duplicate origin id")

	// ErrCapacityExceeded is returned when the graph was built with
	// Config.MaxElements and that many points already exist.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrEmptyVector is returned for zero-length vectors.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrInvalidK is returned by searches asking for k <= 0 results.
	ErrInvalidK = errors.New("k must be greater than 0")

	// ErrInvariantViolation reports a structural failure while mutating
	// the graph. A batch that hits it is aborted.
	ErrInvariantViolation = errors.New("graph invariant violated")
)

func dimensionError(want, got int) error {
	return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, want, got)
}

// ItemError records why a single item of a batch was not inserted.
type ItemError struct {
	// Index is the position of the item in the batch.
	Index int
	Key   uint64
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d (key %d): %v", e.Index, e.Key, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchError is returned by ParallelInsert when some items were rejected.
// Every item not listed was inserted.
type BatchError struct {
	Items []ItemError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of batch items failed", len(e.Items))
	for i, item := range e.Items {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %v", item)
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Items))
	for i, item := range e.Items {
		errs[i] = item
	}
	return errs
}
