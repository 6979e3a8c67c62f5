package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/coder/hnswgraph"
)

func main() {
	cfg := hnsw.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g, err := hnsw.NewGraphWithConfig(cfg)
	if err != nil {
		log.Fatalf("failed to create graph: %v", err)
	}

	// Add some initial points
	for _, n := range []hnsw.Node{
		hnsw.MakeNode(1, []float32{1, 1, 1}),
		hnsw.MakeNode(2, []float32{1, -1, 0.999}),
		hnsw.MakeNode(3, []float32{1, 0, -0.5}),
	} {
		if err := g.Insert(n.Value, n.Key); err != nil {
			log.Fatalf("failed to insert %d: %v", n.Key, err)
		}
	}

	// Perform a basic search
	neighbors, err := g.Search([]float32{0.5, 0.5, 0.5}, 1, 10)
	if err != nil {
		log.Fatalf("failed to search graph: %v", err)
	}
	best, _ := g.Lookup(neighbors[0].Key)
	fmt.Printf("best friend: %v\n", best.Vector())

	// Concurrent searches and inserts
	var wg sync.WaitGroup
	numOperations := 10

	wg.Add(2 * numOperations)
	for i := 0; i < numOperations; i++ {
		go func(i int) {
			defer wg.Done()
			query := []float32{float32(i) * 0.1, float32(i) * 0.1, float32(i) * 0.1}
			results, err := g.Search(query, 1, 10)
			if err != nil {
				log.Printf("search error: %v", err)
				return
			}
			fmt.Printf("search %d found: %v\n", i, results[0].Key)
		}(i)
		go func(i int) {
			defer wg.Done()
			vector := []float32{float32(i), float32(i), float32(i)}
			if err := g.Insert(vector, uint64(10+i)); err != nil {
				log.Printf("insert error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("graph size after concurrent operations: %d\n", g.Len())

	// Batch insert, including one duplicate and one malformed vector
	batch := make([]hnsw.Node, 5)
	for i := range batch {
		vector := []float32{float32(i) * 0.5, float32(i) * 0.5, float32(i) * 0.5}
		batch[i] = hnsw.MakeNode(uint64(100+i), vector)
	}
	batch = append(batch, hnsw.MakeNode(1, []float32{0, 0, 0}), hnsw.MakeNode(200, []float32{0, 0}))

	var batchErr *hnsw.BatchError
	if err := g.ParallelInsert(batch); errors.As(err, &batchErr) {
		for _, item := range batchErr.Items {
			fmt.Printf("rejected key %d: %v\n", item.Key, item.Err)
		}
	} else if err != nil {
		log.Fatalf("failed to batch insert: %v", err)
	}

	// Batch search
	queries := []hnsw.Vector{
		{0.1, 0.1, 0.1},
		{0.2, 0.2, 0.2},
		{0.3, 0.3, 0.3},
	}
	batchResults, err := g.BatchSearch(queries, 2, 10)
	if err != nil {
		log.Fatalf("failed to batch search: %v", err)
	}
	for i, results := range batchResults {
		fmt.Printf("batch search %d results: ", i)
		for _, r := range results {
			fmt.Printf("%d (%.3f) ", r.Key, r.Distance)
		}
		fmt.Println()
	}

	analyzer := hnsw.Analyzer{Graph: g}
	if err := analyzer.CheckSymmetry(); err != nil {
		log.Fatalf("graph is not symmetric: %v", err)
	}
	fmt.Printf("height %d, topography %v\n", analyzer.Height(), analyzer.Topography())
}
