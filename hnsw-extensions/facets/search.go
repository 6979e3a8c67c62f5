package facets

import (
	"errors"
	"fmt"

	"github.com/coder/hnswgraph"
)

const defaultExpandFactor = 3

// FacetedResult is a search hit that passed every filter.
type FacetedResult struct {
	FacetedNode
	Distance float32
}

// FacetedSearch performs a search with facet filtering.
//
// It searches for the k*expandFactor nearest neighbors, keeps those whose
// facets match every filter and returns the closest k. When too few match,
// the candidate set is doubled once more before giving up.
func FacetedSearch(
	graph *hnsw.Graph,
	store FacetStore,
	query hnsw.Vector,
	filters []FacetFilter,
	k int,
	expandFactor int,
) ([]FacetedResult, error) {
	if k <= 0 {
		return nil, &FacetError{Message: "k must be greater than 0"}
	}
	if expandFactor <= 0 {
		expandFactor = defaultExpandFactor
	}

	expandedK := k * expandFactor
	candidates, err := graph.Search(query, expandedK, expandedK)
	if err != nil {
		return nil, err
	}
	results := filterCandidates(store, candidates, filters)

	if len(results) < k && len(candidates) == expandedK {
		moreK := expandedK * 2
		more, err := graph.Search(query, moreK, moreK)
		if err != nil {
			return nil, err
		}
		// Rerun over the whole set; the wider beam may reorder the head.
		results = filterCandidates(store, more, filters)
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// filterCandidates keeps the distance order of candidates.
func filterCandidates(store FacetStore, candidates []hnsw.SearchResult, filters []FacetFilter) []FacetedResult {
	var results []FacetedResult
	for _, c := range candidates {
		node, ok := store.Get(c.Key)
		if !ok || !node.MatchesAllFilters(filters) {
			continue
		}
		results = append(results, FacetedResult{FacetedNode: node, Distance: c.Distance})
	}
	return results
}

// FacetedGraph combines an HNSW graph with a facet store for faceted search.
type FacetedGraph struct {
	Graph *hnsw.Graph
	Store FacetStore
}

// NewFacetedGraph creates a new FacetedGraph with the given HNSW graph and facet store.
func NewFacetedGraph(graph *hnsw.Graph, store FacetStore) *FacetedGraph {
	return &FacetedGraph{
		Graph: graph,
		Store: store,
	}
}

// Add adds a node with facets to both the graph and the facet store.
func (fg *FacetedGraph) Add(node FacetedNode) error {
	if _, exists := fg.Graph.Lookup(node.Node.Key); exists {
		return fmt.Errorf("failed to add to graph: %w: %d", hnsw.ErrDuplicateOriginID, node.Node.Key)
	}

	if err := fg.Store.Add(node); err != nil {
		return fmt.Errorf("failed to add to facet store: %w", err)
	}

	if err := fg.Graph.Insert(node.Node.Value, node.Node.Key); err != nil {
		fg.Store.Delete(node.Node.Key)
		return fmt.Errorf("failed to add to graph: %w", err)
	}
	return nil
}

// Search performs a faceted search.
func (fg *FacetedGraph) Search(
	query hnsw.Vector,
	filters []FacetFilter,
	k int,
	expandFactor int,
) ([]FacetedResult, error) {
	return FacetedSearch(fg.Graph, fg.Store, query, filters, k, expandFactor)
}

// BatchAdd adds multiple nodes with facets using a parallel insert. Nodes
// the graph rejects are removed from the store again and reported through
// the returned *hnsw.BatchError.
func (fg *FacetedGraph) BatchAdd(nodes []FacetedNode) error {
	hnswNodes := make([]hnsw.Node, len(nodes))
	for i, node := range nodes {
		hnswNodes[i] = node.Node
		if _, exists := fg.Graph.Lookup(node.Node.Key); exists {
			continue
		}
		if err := fg.Store.Add(node); err != nil {
			return fmt.Errorf("failed to add node %d to facet store: %w", node.Node.Key, err)
		}
	}

	err := fg.Graph.ParallelInsert(hnswNodes)
	var batchErr *hnsw.BatchError
	if errors.As(err, &batchErr) {
		for _, item := range batchErr.Items {
			if _, exists := fg.Graph.Lookup(item.Key); !exists {
				fg.Store.Delete(item.Key)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to batch add to graph: %w", err)
	}
	return nil
}

// FacetAggregation counts the values of one facet.
type FacetAggregation struct {
	Name   string
	Values map[interface{}]int
}

// GetFacetAggregations counts facet values over the k*expandFactor nearest
// neighbors of query that match filters.
func (fg *FacetedGraph) GetFacetAggregations(
	query hnsw.Vector,
	filters []FacetFilter,
	facetNames []string,
	k int,
	expandFactor int,
) (map[string]FacetAggregation, error) {
	if expandFactor <= 0 {
		expandFactor = defaultExpandFactor
	}
	expandedK := k * expandFactor
	candidates, err := fg.Graph.Search(query, expandedK, expandedK)
	if err != nil {
		return nil, err
	}

	aggregations := make(map[string]FacetAggregation, len(facetNames))
	for _, name := range facetNames {
		aggregations[name] = FacetAggregation{
			Name:   name,
			Values: make(map[interface{}]int),
		}
	}

	for _, r := range filterCandidates(fg.Store, candidates, filters) {
		for _, name := range facetNames {
			if facet := r.GetFacet(name); facet != nil {
				aggregations[name].Values[facet.Value()]++
			}
		}
	}
	return aggregations, nil
}
