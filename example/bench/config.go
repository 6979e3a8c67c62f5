package main

import (
	"fmt"
	"os"

	"github.com/coder/hnswgraph"
	"gopkg.in/yaml.v3"
)

// benchConfig describes one benchmark run. It can be loaded from YAML and
// overridden by flags.
type benchConfig struct {
	Points         int    `yaml:"points"`
	Queries        int    `yaml:"queries"`
	Dims           int    `yaml:"dims"`
	K              int    `yaml:"k"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Workers        int    `yaml:"workers"`
	Distance       string `yaml:"distance"`
	KeepPruned     bool   `yaml:"keep_pruned"`
	Seed           int64  `yaml:"seed"`

	// Save, when set, persists the built graph to this path.
	Save        string `yaml:"save"`
	Compression string `yaml:"compression"`

	// MetricsFile, when set, receives the Prometheus text exposition of
	// the run's metrics.
	MetricsFile string `yaml:"metrics_file"`
}

func defaultBenchConfig() benchConfig {
	def := hnsw.DefaultConfig()
	return benchConfig{
		Points:         10000,
		Queries:        200,
		Dims:           64,
		K:              10,
		M:              def.M,
		EfConstruction: def.EfConstruction,
		EfSearch:       100,
		Distance:       "euclidean",
		Compression:    hnsw.CompressionZSTD.String(),
	}
}

func loadBenchConfig(path string) (benchConfig, error) {
	cfg := defaultBenchConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c benchConfig) validate() error {
	if c.Points <= 0 || c.Queries <= 0 || c.Dims <= 0 || c.K <= 0 {
		return fmt.Errorf("points, queries, dims and k must be positive")
	}
	if _, ok := hnsw.DistanceFuncByName(c.Distance); !ok {
		return fmt.Errorf("unknown distance %q", c.Distance)
	}
	if _, err := c.compression(); err != nil {
		return err
	}
	return nil
}

func (c benchConfig) compression() (hnsw.Compression, error) {
	for _, comp := range []hnsw.Compression{hnsw.CompressionNone, hnsw.CompressionLZ4, hnsw.CompressionZSTD} {
		if comp.String() == c.Compression {
			return comp, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", c.Compression)
}

func (c benchConfig) graphConfig() hnsw.Config {
	cfg := hnsw.DefaultConfig()
	cfg.M = c.M
	cfg.EfConstruction = c.EfConstruction
	cfg.ExpectedCapacity = c.Points
	cfg.Dimension = c.Dims
	cfg.Workers = c.Workers
	cfg.KeepPruned = c.KeepPruned
	cfg.Distance, _ = hnsw.DistanceFuncByName(c.Distance)
	return cfg
}
