// Package facets provides extensions to the HNSW library for faceted search capabilities.
package facets

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/coder/hnswgraph"
	"golang.org/x/exp/maps"
)

// Facet represents a single facet (attribute) that can be attached to a vector.
type Facet interface {
	// Name returns the name of the facet.
	Name() string

	// Value returns the value of the facet.
	Value() interface{}

	// Match checks if this facet matches the given query.
	Match(query interface{}) bool
}

// FacetFilter defines a filter to be applied on facets.
type FacetFilter interface {
	// Name returns the name of the facet this filter applies to.
	Name() string

	// Matches checks if a facet value matches this filter.
	Matches(value interface{}) bool
}

// FacetedNode extends the basic HNSW Node with facets.
type FacetedNode struct {
	Node   hnsw.Node
	Facets []Facet
}

// NewFacetedNode creates a new FacetedNode with the given node and facets.
func NewFacetedNode(node hnsw.Node, facets []Facet) FacetedNode {
	return FacetedNode{
		Node:   node,
		Facets: facets,
	}
}

// GetFacet returns the facet with the given name, or nil if not found.
func (n FacetedNode) GetFacet(name string) Facet {
	for _, f := range n.Facets {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// MatchesFilter checks if this node matches the given filter.
func (n FacetedNode) MatchesFilter(filter FacetFilter) bool {
	facet := n.GetFacet(filter.Name())
	if facet == nil {
		return false
	}
	return filter.Matches(facet.Value())
}

// MatchesAllFilters checks if this node matches all the given filters.
func (n FacetedNode) MatchesAllFilters(filters []FacetFilter) bool {
	for _, filter := range filters {
		if !n.MatchesFilter(filter) {
			return false
		}
	}
	return true
}

// BasicFacet is a simple implementation of the Facet interface.
type BasicFacet struct {
	name  string
	value interface{}
}

// NewBasicFacet creates a new BasicFacet with the given name and value.
func NewBasicFacet(name string, value interface{}) BasicFacet {
	return BasicFacet{name: name, value: value}
}

func (f BasicFacet) Name() string {
	return f.name
}

func (f BasicFacet) Value() interface{} {
	return f.value
}

// Match reports whether the facet value deeply equals query.
func (f BasicFacet) Match(query interface{}) bool {
	return reflect.DeepEqual(f.value, query)
}

// EqualityFilter is a filter that matches facets with equal values.
type EqualityFilter struct {
	name  string
	value interface{}
}

// NewEqualityFilter creates a new EqualityFilter with the given name and value.
func NewEqualityFilter(name string, value interface{}) EqualityFilter {
	return EqualityFilter{name: name, value: value}
}

func (f EqualityFilter) Name() string {
	return f.name
}

func (f EqualityFilter) Matches(value interface{}) bool {
	return reflect.DeepEqual(f.value, value)
}

// RangeFilter matches numeric facets within [min, max].
type RangeFilter struct {
	name string
	min  float64
	max  float64
}

// NewRangeFilter creates a new RangeFilter with the given name, min, and max values.
func NewRangeFilter(name string, min, max float64) RangeFilter {
	return RangeFilter{name: name, min: min, max: max}
}

func (f RangeFilter) Name() string {
	return f.name
}

// Matches checks if a numeric facet value is within the range. Non-numeric
// values never match.
func (f RangeFilter) Matches(value interface{}) bool {
	v, ok := toFloat64(value)
	if !ok {
		return false
	}
	return v >= f.min && v <= f.max
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	}
	return 0, false
}

// StringContainsFilter matches facets whose string form contains a
// substring, ignoring case.
type StringContainsFilter struct {
	name     string
	contains string
}

// NewStringContainsFilter creates a new StringContainsFilter with the given name and substring.
func NewStringContainsFilter(name string, contains string) StringContainsFilter {
	return StringContainsFilter{name: name, contains: strings.ToLower(contains)}
}

func (f StringContainsFilter) Name() string {
	return f.name
}

func (f StringContainsFilter) Matches(value interface{}) bool {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	return strings.Contains(strings.ToLower(s), f.contains)
}

// FacetStore stores faceted nodes by key. Implementations must be safe for
// concurrent use.
type FacetStore interface {
	// Add adds a faceted node to the store.
	Add(node FacetedNode) error

	// Get retrieves a faceted node by key.
	Get(key uint64) (FacetedNode, bool)

	// Delete removes a faceted node from the store. It is used to roll
	// back nodes the graph rejected.
	Delete(key uint64) bool

	// Filter returns all nodes that match the given filters, ordered by key.
	Filter(filters []FacetFilter) []FacetedNode
}

// MemoryFacetStore is an in-memory implementation of FacetStore.
type MemoryFacetStore struct {
	mu    sync.RWMutex
	nodes map[uint64]FacetedNode
}

// NewMemoryFacetStore creates a new in-memory facet store.
func NewMemoryFacetStore() *MemoryFacetStore {
	return &MemoryFacetStore{
		nodes: make(map[uint64]FacetedNode),
	}
}

func (s *MemoryFacetStore) Add(node FacetedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Node.Key] = node
	return nil
}

func (s *MemoryFacetStore) Get(key uint64) (FacetedNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[key]
	return node, ok
}

func (s *MemoryFacetStore) Delete(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[key]
	delete(s.nodes, key)
	return ok
}

func (s *MemoryFacetStore) Filter(filters []FacetFilter) []FacetedNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := maps.Keys(s.nodes)
	slices.Sort(keys)

	var result []FacetedNode
	for _, key := range keys {
		if node := s.nodes[key]; node.MatchesAllFilters(filters) {
			result = append(result, node)
		}
	}
	return result
}

// FacetError represents an error related to facet operations.
type FacetError struct {
	Message string
}

func (e FacetError) Error() string {
	return fmt.Sprintf("facet error: %s", e.Message)
}
