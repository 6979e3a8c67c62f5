package hnsw

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSavedGraph(t *testing.T) {
	vecs := randomVectors(rand.New(rand.NewSource(4)), 300, 8)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "graph")

			g1, err := LoadSavedGraph(path, DefaultConfig())
			require.NoError(t, err)
			require.Equal(t, 0, g1.Len())
			g1.Compression = c

			require.NoError(t, g1.ParallelInsert(makeNodes(vecs, 0)))
			require.NoError(t, g1.Save())

			info, err := os.Stat(path)
			require.NoError(t, err)
			require.Positive(t, info.Size())

			g2, err := LoadSavedGraph(path, DefaultConfig())
			require.NoError(t, err)
			require.Equal(t, c, g2.Compression)
			requireSameGraph(t, g1.Graph, g2.Graph)
			requireWellFormed(t, g2.Graph)
		})
	}
}

func TestSavedGraph_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	g, err := LoadSavedGraph(path, DefaultConfig())
	require.NoError(t, err)
	require.Zero(t, g.Len())
}

func TestSavedGraph_UnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph")
	require.NoError(t, os.WriteFile(path, []byte{9}, 0o600))

	_, err := LoadSavedGraph(path, DefaultConfig())
	require.ErrorIs(t, err, ErrIncompatibleEncoding)
}

func TestSavedGraph_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.M = 0
	_, err := LoadSavedGraph(filepath.Join(t.TempDir(), "graph"), cfg)
	require.Error(t, err)
}
