package main

import (
	"fmt"

	"github.com/coder/hnswgraph"
)

func main() {
	g, _ := hnsw.NewGraphWithConfig(hnsw.DefaultConfig())
	g.Insert([]float32{1, 1, 1}, 1)
	g.Insert([]float32{1, -1, 0.999}, 2)
	g.Insert([]float32{1, 0, -0.5}, 3)

	neighbors, _ := g.Search(
		[]float32{0.5, 0.5, 0.5},
		1,
		0,
	)
	p, _ := g.Lookup(neighbors[0].Key)
	fmt.Printf("best friend: %v\n", p.Vector())
}
