// Package main provides examples of using the HNSW extensions.
package main

import (
	"fmt"

	prodexample "github.com/coder/hnswgraph/hnsw-extensions/facets/examples/product_search"
	metaexample "github.com/coder/hnswgraph/hnsw-extensions/meta/example"
)

func main() {
	fmt.Println("HNSW Extensions Examples")
	fmt.Println("=======================")
	fmt.Println()

	fmt.Println("Metadata Extension Example")
	fmt.Println("-----------------------")
	metaexample.RunMetadataExample()
	fmt.Println()

	fmt.Println("Facets Product Search Example")
	fmt.Println("----------------------------")
	prodexample.ProductSearch()
	fmt.Println()

	fmt.Println("All examples completed successfully!")
}
