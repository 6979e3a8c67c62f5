// Command bench builds a graph from random vectors with ParallelInsert and
// measures insert throughput, search latency and recall@k against an
// exhaustive scan.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/coder/hnswgraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

var (
	benchConfigPath string
	benchVerbose    bool
	flagCfg         = defaultBenchConfig()
)

var rootCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure build speed and recall of an HNSW graph",
	Long: `Build a graph from uniformly random vectors and report recall@k
against an exhaustive scan.

Examples:
  bench --points 50000 --dims 128
  bench --config bench.yaml --workers 8
  bench --save /tmp/graph.zst --compression zstd`,
	SilenceUsage: true,
	RunE:         runBench,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&benchConfigPath, "config", "c", "", "YAML file with benchmark settings")
	f.BoolVarP(&benchVerbose, "verbose", "v", false, "log graph events")
	f.IntVar(&flagCfg.Points, "points", flagCfg.Points, "number of points to insert")
	f.IntVar(&flagCfg.Queries, "queries", flagCfg.Queries, "number of queries")
	f.IntVar(&flagCfg.Dims, "dims", flagCfg.Dims, "vector dimension")
	f.IntVar(&flagCfg.K, "k", flagCfg.K, "neighbors per query")
	f.IntVar(&flagCfg.M, "m", flagCfg.M, "max neighbors per layer")
	f.IntVar(&flagCfg.EfConstruction, "ef-construction", flagCfg.EfConstruction, "candidate list size while inserting")
	f.IntVar(&flagCfg.EfSearch, "ef-search", flagCfg.EfSearch, "candidate list size while searching")
	f.IntVar(&flagCfg.Workers, "workers", flagCfg.Workers, "insert workers (0 means GOMAXPROCS)")
	f.StringVar(&flagCfg.Distance, "distance", flagCfg.Distance, "registered distance function name")
	f.BoolVar(&flagCfg.KeepPruned, "keep-pruned", flagCfg.KeepPruned, "refill neighbor lists with pruned candidates")
	f.Int64Var(&flagCfg.Seed, "seed", flagCfg.Seed, "random seed for vectors and levels")
	f.StringVar(&flagCfg.Save, "save", flagCfg.Save, "persist the graph to this file")
	f.StringVar(&flagCfg.Compression, "compression", flagCfg.Compression, "compression of the saved graph: none, lz4 or zstd")
	f.StringVar(&flagCfg.MetricsFile, "metrics-file", flagCfg.MetricsFile, "write Prometheus metrics to this file")
}

// resolveConfig layers explicitly set flags over the config file.
func resolveConfig(cmd *cobra.Command) (benchConfig, error) {
	cfg, err := loadBenchConfig(benchConfigPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("points", func() { cfg.Points = flagCfg.Points })
	set("queries", func() { cfg.Queries = flagCfg.Queries })
	set("dims", func() { cfg.Dims = flagCfg.Dims })
	set("k", func() { cfg.K = flagCfg.K })
	set("m", func() { cfg.M = flagCfg.M })
	set("ef-construction", func() { cfg.EfConstruction = flagCfg.EfConstruction })
	set("ef-search", func() { cfg.EfSearch = flagCfg.EfSearch })
	set("workers", func() { cfg.Workers = flagCfg.Workers })
	set("distance", func() { cfg.Distance = flagCfg.Distance })
	set("keep-pruned", func() { cfg.KeepPruned = flagCfg.KeepPruned })
	set("seed", func() { cfg.Seed = flagCfg.Seed })
	set("save", func() { cfg.Save = flagCfg.Save })
	set("compression", func() { cfg.Compression = flagCfg.Compression })
	set("metrics-file", func() { cfg.MetricsFile = flagCfg.MetricsFile })
	return cfg, cfg.validate()
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	graphCfg := cfg.graphConfig()
	graphCfg.Rng = rand.New(rand.NewSource(cfg.Seed))
	graphCfg.Metrics = hnsw.NewMetrics(reg, "bench")
	if benchVerbose {
		graphCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	data := randomNodes(rng, cfg.Points, cfg.Dims)
	queries := make([]hnsw.Vector, cfg.Queries)
	for i := range queries {
		queries[i] = randomVector(rng, cfg.Dims)
	}

	g, err := buildGraph(ctx, cmd, cfg, graphCfg, data)
	if err != nil {
		return err
	}

	recall, latencies, err := measureRecall(g, cfg, data, queries)
	if err != nil {
		return err
	}
	slices.Sort(latencies)

	out := cmd.OutOrStdout()
	an := hnsw.Analyzer{Graph: g.Graph}
	q := an.QualityMetrics()
	fmt.Fprintf(out, "recall@%d: %.4f (ef=%d)\n", cfg.K, stat.Mean(recall, nil), cfg.EfSearch)
	fmt.Fprintf(out, "search latency p50=%v p99=%v\n",
		time.Duration(stat.Quantile(0.5, stat.Empirical, latencies, nil)),
		time.Duration(stat.Quantile(0.99, stat.Empirical, latencies, nil)))
	fmt.Fprintf(out, "layers=%d topography=%v avg degree=%.2f±%.2f isolated=%d reachable=%d/%d\n",
		q.GraphHeight, an.Topography(), q.AvgConnectivity, q.ConnectivityStdDev,
		q.Isolated, q.Reachable, q.NodeCount)
	if err := an.CheckSymmetry(); err != nil {
		return fmt.Errorf("graph is not symmetric: %w", err)
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// buildGraph inserts data into a fresh or saved graph. A saved graph that
// already holds every point is reused as is.
func buildGraph(ctx context.Context, cmd *cobra.Command, cfg benchConfig, graphCfg hnsw.Config, data []hnsw.Node) (*hnsw.SavedGraph, error) {
	out := cmd.OutOrStdout()

	var g *hnsw.SavedGraph
	if cfg.Save != "" {
		var err error
		g, err = hnsw.LoadSavedGraph(cfg.Save, graphCfg)
		if err != nil {
			return nil, err
		}
		g.Compression, _ = cfg.compression()
	} else {
		graph, err := hnsw.NewGraphWithConfig(graphCfg)
		if err != nil {
			return nil, err
		}
		g = &hnsw.SavedGraph{Graph: graph}
	}

	if g.Len() == len(data) {
		fmt.Fprintf(out, "reusing %d points from %s\n", g.Len(), cfg.Save)
		return g, nil
	}
	if g.Len() != 0 {
		return nil, fmt.Errorf("%s holds %d points, want 0 or %d", cfg.Save, g.Len(), len(data))
	}

	start := time.Now()
	if err := g.ParallelInsertContext(ctx, data); err != nil {
		return nil, err
	}
	took := time.Since(start)
	fmt.Fprintf(out, "inserted %d points of %d dims in %v (%.0f points/s)\n",
		len(data), cfg.Dims, took.Round(time.Millisecond), float64(len(data))/took.Seconds())

	if cfg.Save != "" {
		start = time.Now()
		if err := g.Save(); err != nil {
			return nil, err
		}
		info, err := os.Stat(cfg.Save)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "saved %s (%s, %d bytes) in %v\n",
			cfg.Save, g.Compression, info.Size(), time.Since(start).Round(time.Millisecond))
	}
	return g, nil
}

func measureRecall(g *hnsw.SavedGraph, cfg benchConfig, data []hnsw.Node, queries []hnsw.Vector) ([]float64, []float64, error) {
	distance, _ := hnsw.DistanceFuncByName(cfg.Distance)
	recall := make([]float64, len(queries))
	latencies := make([]float64, len(queries))
	for i, q := range queries {
		start := time.Now()
		results, err := g.Search(q, cfg.K, cfg.EfSearch)
		if err != nil {
			return nil, nil, fmt.Errorf("query %d: %w", i, err)
		}
		latencies[i] = float64(time.Since(start))

		want := exactNeighbors(data, q, cfg.K, distance)
		hits := 0
		for _, r := range results {
			if slices.Contains(want, r.Key) {
				hits++
			}
		}
		recall[i] = float64(hits) / float64(len(want))
	}
	return recall, latencies, nil
}

// exactNeighbors returns the keys of the k points closest to q.
func exactNeighbors(data []hnsw.Node, q hnsw.Vector, k int, distance hnsw.DistanceFunc) []uint64 {
	all := make([]hnsw.SearchResult, len(data))
	for i, n := range data {
		all[i] = hnsw.SearchResult{Key: n.Key, Distance: distance(q, n.Value)}
	}
	slices.SortFunc(all, func(a, b hnsw.SearchResult) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	keys := make([]uint64, 0, k)
	for _, r := range all[:min(k, len(all))] {
		keys = append(keys, r.Key)
	}
	return keys
}

func randomVector(rng *rand.Rand, dims int) hnsw.Vector {
	v := make(hnsw.Vector, dims)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func randomNodes(rng *rand.Rand, n, dims int) []hnsw.Node {
	nodes := make([]hnsw.Node, n)
	for i := range nodes {
		nodes[i] = hnsw.MakeNode(uint64(i), randomVector(rng, dims))
	}
	return nodes
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
