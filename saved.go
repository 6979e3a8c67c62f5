package hnsw

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a SavedGraph file is compressed.
type Compression uint8

const (
	// CompressionNone stores the encoded graph as is.
	CompressionNone Compression = 0
	// CompressionLZ4 favors speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors ratio.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// SavedGraph is a wrapper around a graph that persists
// changes to a file upon calls to Save. It is more convenient
// but less powerful than calling Graph.Export and Graph.Import
// directly.
type SavedGraph struct {
	*Graph
	Path        string
	Compression Compression
}

// LoadSavedGraph opens a graph from a file, reads it, and returns it.
//
// If the file does not exist (i.e. this is a new graph),
// the equivalent of NewGraphWithConfig is returned.
//
// It does not hold open a file descriptor, so SavedGraph can be forgotten
// without ever calling Save.
func LoadSavedGraph(path string, cfg Config) (*SavedGraph, error) {
	g, err := NewGraphWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	saved := &SavedGraph{Graph: g, Path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return saved, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.ReadByte()
	if errors.Is(err, io.EOF) {
		return saved, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	saved.Compression = Compression(head)

	var src io.Reader
	switch saved.Compression {
	case CompressionNone:
		src = br
	case CompressionLZ4:
		src = bufio.NewReader(lz4.NewReader(br))
	case CompressionZSTD:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		src = bufio.NewReader(dec)
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrIncompatibleEncoding, head)
	}

	if err := g.Import(src); err != nil {
		return nil, fmt.Errorf("importing %s: %w", path, err)
	}
	return saved, nil
}

// Save writes the graph to the file.
func (g *SavedGraph) Save() error {
	tmp, err := renameio.TempFile("", g.Path)
	if err != nil {
		return err
	}
	defer tmp.Cleanup()

	wr := bufio.NewWriter(tmp)
	if err := wr.WriteByte(byte(g.Compression)); err != nil {
		return err
	}

	var (
		dst    io.Writer = wr
		finish func() error
	)
	switch g.Compression {
	case CompressionNone:
	case CompressionLZ4:
		zw := lz4.NewWriter(wr)
		dst, finish = zw, zw.Close
	case CompressionZSTD:
		zw, err := zstd.NewWriter(wr, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		dst, finish = zw, zw.Close
	default:
		return fmt.Errorf("unknown compression %d", g.Compression)
	}

	err = g.Export(dst)
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	if finish != nil {
		if err := finish(); err != nil {
			return fmt.Errorf("closing %s stream: %w", g.Compression, err)
		}
	}

	err = wr.Flush()
	if err != nil {
		return fmt.Errorf("flushing: %w", err)
	}

	err = tmp.CloseAtomicallyReplace()
	if err != nil {
		return fmt.Errorf("closing atomically: %w", err)
	}

	return nil
}
