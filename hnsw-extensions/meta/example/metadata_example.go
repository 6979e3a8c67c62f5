// Package example provides examples of using the metadata extension for HNSW.
package example

import (
	"fmt"
	"log"
	"time"

	"github.com/coder/hnswgraph"
	"github.com/coder/hnswgraph/hnsw-extensions/meta"
)

// ProductMetadata represents metadata for a product.
type ProductMetadata struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Tags        []string  `json:"tags"`
	InStock     bool      `json:"inStock"`
	ReleaseDate time.Time `json:"releaseDate"`
}

type product struct {
	ID       uint64
	Vector   []float32
	Metadata ProductMetadata
}

var products = []product{
	{1, []float32{1.0, 0.0, 0.0}, ProductMetadata{
		Name: "Smartphone X", Category: "Electronics", Price: 999.99,
		Tags: []string{"smartphone", "5G", "camera"}, InStock: true,
		ReleaseDate: time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC),
	}},
	{2, []float32{0.8, 0.2, 0.0}, ProductMetadata{
		Name: "Tablet Pro", Category: "Electronics", Price: 799.99,
		Tags: []string{"tablet", "stylus", "portable"}, InStock: true,
		ReleaseDate: time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC),
	}},
	{3, []float32{0.0, 1.0, 0.0}, ProductMetadata{
		Name: "Designer Jeans", Category: "Clothing", Price: 129.99,
		Tags: []string{"jeans", "denim", "fashion"}, InStock: true,
		ReleaseDate: time.Date(2023, 2, 5, 0, 0, 0, 0, time.UTC),
	}},
	{4, []float32{0.0, 0.8, 0.2}, ProductMetadata{
		Name: "Running Shoes", Category: "Footwear", Price: 89.99,
		Tags: []string{"shoes", "running", "sports"}, InStock: false,
		ReleaseDate: time.Date(2022, 11, 20, 0, 0, 0, 0, time.UTC),
	}},
	{5, []float32{0.0, 0.0, 1.0}, ProductMetadata{
		Name: "Coffee Maker", Category: "Kitchen", Price: 149.99,
		Tags: []string{"coffee", "kitchen", "appliance"}, InStock: true,
		ReleaseDate: time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC),
	}},
}

// RunMetadataExample demonstrates the use of the metadata extension.
func RunMetadataExample() {
	graph, err := hnsw.NewGraphWithConfig(hnsw.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create graph: %v", err)
	}
	metadataGraph := meta.NewMetadataGraph(graph, meta.NewMemoryMetadataStore())

	nodes := make([]meta.MetadataNode, 0, len(products))
	for _, p := range products {
		node, err := meta.NewMetadataNode(hnsw.MakeNode(p.ID, p.Vector), p.Metadata)
		if err != nil {
			log.Fatalf("Failed to create metadata node for product %d: %v", p.ID, err)
		}
		nodes = append(nodes, node)
	}
	if err := metadataGraph.BatchAdd(nodes); err != nil {
		log.Fatalf("Failed to add products: %v", err)
	}
	fmt.Printf("Added %d products to the graph with metadata\n\n", graph.Len())

	fmt.Println("Example 1: Search for products similar to Smartphone X")
	results, err := metadataGraph.Search([]float32{1.0, 0.1, 0.0}, 3, 20)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	for i, result := range results {
		var metadata ProductMetadata
		if err := result.GetMetadataAs(&metadata); err != nil {
			log.Printf("Failed to get metadata for result %d: %v", i, err)
			continue
		}
		fmt.Printf("%d. %s - $%.2f (%s)\n", i+1, metadata.Name, metadata.Price, metadata.Category)
		fmt.Printf("   Tags: %v\n", metadata.Tags)
		fmt.Printf("   In Stock: %v, Released: %s\n", metadata.InStock, metadata.ReleaseDate.Format("2006-01-02"))
		fmt.Printf("   Distance: %.4f\n", result.Distance)
	}
	fmt.Println()

	fmt.Println("Example 2: Batch search for multiple queries")
	batchResults, err := metadataGraph.BatchSearch([]hnsw.Vector{
		{1.0, 0.0, 0.0},
		{0.0, 1.0, 0.0},
	}, 2, 20)
	if err != nil {
		log.Fatalf("Batch search failed: %v", err)
	}
	for i, results := range batchResults {
		fmt.Printf("Results for query %d:\n", i+1)
		for j, result := range results {
			var metadata ProductMetadata
			if err := result.GetMetadataAs(&metadata); err != nil {
				log.Printf("Failed to get metadata for result %d: %v", j, err)
				continue
			}
			fmt.Printf("%d. %s - $%.2f (%s)\n", j+1, metadata.Name, metadata.Price, metadata.Category)
		}
	}
	fmt.Println()

	fmt.Println("Example 3: Get a specific product")
	productNode, ok := metadataGraph.Get(3)
	if !ok {
		log.Fatalf("Failed to get product 3")
	}
	var metadata ProductMetadata
	if err := productNode.GetMetadataAs(&metadata); err != nil {
		log.Fatalf("Failed to get metadata for product 3: %v", err)
	}
	fmt.Printf("Product: %s (%s), $%.2f, vector %v\n",
		metadata.Name, metadata.Category, metadata.Price, productNode.Node.Value)
}
