// Package examples provides example implementations of the hnsw-extensions.
package examples

import (
	"fmt"
	"log"
	"slices"

	"github.com/coder/hnswgraph"
	"github.com/coder/hnswgraph/hnsw-extensions/facets"
	"golang.org/x/exp/maps"
)

// Product represents a product with various attributes.
type Product struct {
	ID       uint64
	Name     string
	Price    float64
	Category string
	Brand    string
	Tags     []string
	Vector   []float32 // Embedding vector
}

var products = []Product{
	{1, "Smartphone X", 999.99, "Electronics", "TechCo", []string{"smartphone", "mobile"}, []float32{0.1, 0.2, 0.3, 0.4, 0.5}},
	{2, "Laptop Pro", 1499.99, "Electronics", "TechCo", []string{"laptop", "computer"}, []float32{0.2, 0.3, 0.4, 0.5, 0.6}},
	{3, "Wireless Headphones", 299.99, "Electronics", "AudioTech", []string{"headphones", "audio"}, []float32{0.3, 0.4, 0.5, 0.6, 0.7}},
	{4, "Running Shoes", 129.99, "Footwear", "SportyBrand", []string{"shoes", "running"}, []float32{0.5, 0.6, 0.7, 0.8, 0.9}},
	{5, "Fitness Tracker", 199.99, "Electronics", "SportyTech", []string{"fitness", "wearable"}, []float32{0.4, 0.5, 0.6, 0.7, 0.8}},
}

// ProductSearch demonstrates how to use faceted search for product search.
func ProductSearch() {
	graph, err := hnsw.NewGraphWithConfig(hnsw.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create graph: %v", err)
	}
	facetedGraph := facets.NewFacetedGraph(graph, facets.NewMemoryFacetStore())

	nodes := make([]facets.FacetedNode, 0, len(products))
	for _, p := range products {
		productFacets := []facets.Facet{
			facets.NewBasicFacet("name", p.Name),
			facets.NewBasicFacet("price", p.Price),
			facets.NewBasicFacet("category", p.Category),
			facets.NewBasicFacet("brand", p.Brand),
			facets.NewBasicFacet("tags", p.Tags),
		}
		nodes = append(nodes, facets.NewFacetedNode(hnsw.MakeNode(p.ID, p.Vector), productFacets))
	}
	if err := facetedGraph.BatchAdd(nodes); err != nil {
		log.Fatalf("Failed to add products: %v", err)
	}

	queryVector := products[4].Vector

	fmt.Println("Example 1: Products similar to 'Fitness Tracker' under $300")
	results, err := facetedGraph.Search(queryVector, []facets.FacetFilter{
		facets.NewRangeFilter("price", 0, 300),
	}, 3, 2)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printResults(results)

	fmt.Println("Example 2: Electronics from TechCo")
	results, err = facetedGraph.Search(queryVector, []facets.FacetFilter{
		facets.NewEqualityFilter("category", "Electronics"),
		facets.NewEqualityFilter("brand", "TechCo"),
	}, 3, 2)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printResults(results)

	fmt.Println("Example 3: Facet aggregations")
	aggregations, err := facetedGraph.GetFacetAggregations(queryVector, nil, []string{"category", "brand"}, 5, 1)
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}
	for _, name := range []string{"category", "brand"} {
		values := aggregations[name].Values
		keys := maps.Keys(values)
		slices.SortFunc(keys, func(a, b interface{}) int {
			return values[b] - values[a]
		})
		fmt.Printf("%s:\n", name)
		for _, value := range keys {
			fmt.Printf("- %v: %d products\n", value, values[value])
		}
	}
}

func printResults(results []facets.FacetedResult) {
	for i, result := range results {
		name := result.GetFacet("name").Value()
		price := result.GetFacet("price").Value()
		fmt.Printf("%d. %v - $%.2f (distance %.4f)\n", i+1, name, price, result.Distance)
	}
	fmt.Println()
}
