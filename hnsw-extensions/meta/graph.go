package meta

import (
	"errors"
	"fmt"
	"slices"

	"github.com/coder/hnswgraph"
)

// MetadataGraph combines an HNSW graph with metadata storage.
type MetadataGraph struct {
	Graph *hnsw.Graph
	Store MetadataStore
}

// NewMetadataGraph creates a new MetadataGraph with the given HNSW graph and metadata store.
func NewMetadataGraph(graph *hnsw.Graph, store MetadataStore) *MetadataGraph {
	return &MetadataGraph{
		Graph: graph,
		Store: store,
	}
}

// Add inserts node into the graph and its metadata into the store.
//
// The metadata is inserted first and claims the key: of concurrent Adds
// for one key only the one that stored its metadata may insert the
// vector. Either way the key ends up with the metadata of the vector it
// holds.
func (g *MetadataGraph) Add(node MetadataNode) error {
	key := node.Node.Key
	if err := g.Store.Insert(key, node.Metadata); err != nil {
		if errors.Is(err, ErrMetadataExists) {
			return fmt.Errorf("add %d: %w: %w", key, hnsw.ErrDuplicateOriginID, err)
		}
		return fmt.Errorf("add %d to metadata store: %w", key, err)
	}

	if err := g.Graph.Insert(node.Node.Value, key); err != nil {
		g.Store.Remove(key)
		return fmt.Errorf("add %d to graph: %w", key, err)
	}
	return nil
}

// BatchAdd adds nodes with ParallelInsert. Nodes whose key already has
// metadata, including later repeats of a key within nodes, are rejected
// as duplicates. Rejected nodes are reported through a *hnsw.BatchError
// indexed by their position in nodes, and leave no metadata behind.
func (g *MetadataGraph) BatchAdd(nodes []MetadataNode) error {
	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{Key: n.Node.Key, Metadata: n.Metadata}
	}
	stored := g.Store.InsertAll(entries)

	var (
		batch    []hnsw.Node
		position []int
		failed   []hnsw.ItemError
	)
	for i, n := range nodes {
		if !stored[i] {
			failed = append(failed, hnsw.ItemError{
				Index: i,
				Key:   n.Node.Key,
				Err:   fmt.Errorf("%w: %w", hnsw.ErrDuplicateOriginID, ErrMetadataExists),
			})
			continue
		}
		batch = append(batch, n.Node)
		position = append(position, i)
	}

	err := g.Graph.ParallelInsert(batch)
	var batchErr *hnsw.BatchError
	switch {
	case errors.As(err, &batchErr):
		rollback := make([]uint64, len(batchErr.Items))
		for i, item := range batchErr.Items {
			rollback[i] = item.Key
			item.Index = position[item.Index]
			failed = append(failed, item)
		}
		g.Store.Remove(rollback...)
	case err != nil:
		// The batch was aborted; keep metadata only for vectors that made it.
		for _, n := range batch {
			if _, ok := g.Graph.Lookup(n.Key); !ok {
				g.Store.Remove(n.Key)
			}
		}
		return fmt.Errorf("batch add to graph: %w", err)
	}

	if len(failed) == 0 {
		return nil
	}
	slices.SortFunc(failed, func(a, b hnsw.ItemError) int { return a.Index - b.Index })
	return &hnsw.BatchError{Items: failed}
}

// Get retrieves a node with its metadata.
func (g *MetadataGraph) Get(key uint64) (MetadataNode, bool) {
	// Get vector from graph
	p, ok := g.Graph.Lookup(key)
	if !ok {
		return MetadataNode{}, false
	}

	node := MetadataNode{
		Node: hnsw.MakeNode(key, p.Vector()),
	}
	if metadata, ok := g.Store.Get(key); ok {
		node.Metadata = metadata
	}
	return node, true
}

// Search performs a search and attaches metadata to results.
func (g *MetadataGraph) Search(query hnsw.Vector, k, efSearch int) ([]MetadataSearchResult, error) {
	results, err := g.Graph.Search(query, k, efSearch)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return g.attachMetadataToResults(results), nil
}

// BatchSearch performs multiple searches in a single operation and attaches metadata to results.
func (g *MetadataGraph) BatchSearch(queries []hnsw.Vector, k, efSearch int) ([][]MetadataSearchResult, error) {
	batchResults, err := g.Graph.BatchSearch(queries, k, efSearch)
	if err != nil {
		return nil, fmt.Errorf("batch search failed: %w", err)
	}

	metadataBatchResults := make([][]MetadataSearchResult, len(batchResults))
	for i, results := range batchResults {
		metadataBatchResults[i] = g.attachMetadataToResults(results)
	}
	return metadataBatchResults, nil
}

// attachMetadataToResults is a helper function to attach metadata to search results.
func (g *MetadataGraph) attachMetadataToResults(results []hnsw.SearchResult) []MetadataSearchResult {
	// Extract keys from results
	keys := make([]uint64, len(results))
	for i, result := range results {
		keys[i] = result.Key
	}

	metadatas := g.Store.GetAll(keys)

	// Attach metadata to results
	metadataResults := make([]MetadataSearchResult, len(results))
	for i, result := range results {
		metadataResults[i] = MetadataSearchResult{
			SearchResult: result,
			Metadata:     metadatas[i],
		}
	}
	return metadataResults
}
