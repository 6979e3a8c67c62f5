package hnsw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var byteOrder = binary.LittleEndian

// maxStringLen bounds decoded strings, which only carry distance names.
const maxStringLen = 1 << 10

type countingByteReader struct {
	io.ByteReader
	n int
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.ByteReader.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func binaryRead(r io.Reader, data interface{}) (int, error) {
	switch v := data.(type) {
	case *int:
		br, ok := r.(io.ByteReader)
		if !ok {
			return 0, fmt.Errorf("reader does not implement io.ByteReader")
		}

		cr := &countingByteReader{ByteReader: br}
		i, err := binary.ReadVarint(cr)
		if err != nil {
			return cr.n, err
		}

		*v = int(i)
		return cr.n, nil

	case *string:
		var ln int
		n, err := binaryRead(r, &ln)
		if err != nil {
			return n, err
		}
		if ln < 0 || ln > maxStringLen {
			return n, fmt.Errorf("%w: string of length %d", ErrIncompatibleEncoding, ln)
		}

		s := make([]byte, ln)
		_, err = binaryRead(r, &s)
		*v = string(s)
		return n + len(s), err

	case io.ReaderFrom:
		n, err := v.ReadFrom(r)
		return int(n), err

	default:
		return binary.Size(data), binary.Read(r, byteOrder, data)
	}
}

func binaryWrite(w io.Writer, data any) (int, error) {
	switch v := data.(type) {
	case int:
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutVarint(buf[:], int64(v))
		n, err := w.Write(buf[:n])
		return n, err
	case io.WriterTo:
		n, err := v.WriteTo(w)
		return int(n), err
	case string:
		return multiBinaryWrite(
			w,
			len(v),
			[]byte(v),
		)
	default:
		sz := binary.Size(data)
		err := binary.Write(w, byteOrder, data)
		if err != nil {
			return 0, fmt.Errorf("encoding %T: %w", data, err)
		}
		return sz, err
	}
}

func multiBinaryWrite(w io.Writer, data ...any) (int, error) {
	var written int
	for _, d := range data {
		n, err := binaryWrite(w, d)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func multiBinaryRead(r io.Reader, data ...any) (int, error) {
	var read int
	for i, d := range data {
		n, err := binaryRead(r, d)
		read += n
		if err != nil {
			return read, fmt.Errorf("reading %T at index %v: %w", d, i, err)
		}
	}
	return read, nil
}

const encodingVersion = 2

// ErrIncompatibleEncoding is returned by Import when the stream was written
// by another encoding version or for parameters the graph cannot hold.
var ErrIncompatibleEncoding = errors.New("incompatible graph encoding")

// Export writes the graph to a writer.
//
// Points are written layer by layer in slot order, each with its key, its
// vector and its neighbor keys per layer. Export must not run concurrently
// with insertions.
func (g *Graph) Export(w io.Writer) error {
	entryKey, hasEntry := uint64(0), 0
	if ep := g.entry.load(); ep != nil {
		entryKey, hasEntry = ep.key, 1
	}
	name, _ := distanceFuncToName(g.distance)

	_, err := multiBinaryWrite(
		w,
		encodingVersion,
		g.m,
		g.cfg.MaxLayer,
		g.efConstruction,
		g.Dims(),
		name,
		g.Len(),
		hasEntry,
		entryKey,
	)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	for p := range g.points.all() {
		_, err = multiBinaryWrite(w, p.key, p.Layer(), p.vec)
		if err != nil {
			return fmt.Errorf("encode point %d: %w", p.key, err)
		}
		for layer := range p.neighborhood {
			neighbors := p.Neighbors(layer)
			if _, err = binaryWrite(w, len(neighbors)); err != nil {
				return fmt.Errorf("encode number of neighbors: %w", err)
			}
			for _, n := range neighbors {
				_, err = multiBinaryWrite(w, n.Key, n.Distance)
				if err != nil {
					return fmt.Errorf("encode neighbor %d of point %d: %w", n.Key, p.key, err)
				}
			}
		}
	}

	return nil
}

type importedEdge struct {
	key  uint64
	dist float32
}

const (
	// maxImportDims bounds the vector dimension accepted from a stream.
	maxImportDims = 1 << 16
	// maxImportPrealloc caps what a stream header alone can make Import
	// allocate.
	maxImportPrealloc = 1 << 12
)

// Import reads a graph written by Export into g, which must be empty.
//
// The stored M and layer count must fit g's configuration and the stored
// dimension must match g's, if g has one. Points keep the identities
// they were exported with.
//
// Import decodes the whole stream before touching g: on any error g is
// left empty and may be imported into again.
func (g *Graph) Import(r io.Reader) error {
	if g.Len() > 0 {
		return fmt.Errorf("import into non-empty graph of %d points", g.Len())
	}
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}

	var (
		version, m, maxLayer, efConstruction, dims, count, hasEntry int
		name                                                       string
		entryKey                                                   uint64
	)
	_, err := multiBinaryRead(r, &version, &m, &maxLayer, &efConstruction, &dims, &name, &count, &hasEntry, &entryKey)
	if err != nil {
		return err
	}

	if version != encodingVersion {
		return fmt.Errorf("%w: version %d", ErrIncompatibleEncoding, version)
	}
	if m > g.m || maxLayer > g.cfg.MaxLayer {
		return fmt.Errorf("%w: M=%d with %d layers does not fit M=%d with %d layers",
			ErrIncompatibleEncoding, m, maxLayer, g.m, g.cfg.MaxLayer)
	}
	if own, ok := distanceFuncToName(g.distance); ok && name != "" && own != name {
		return fmt.Errorf("%w: stored distance %q, graph uses %q", ErrIncompatibleEncoding, name, own)
	}
	switch {
	case count < 0:
		return fmt.Errorf("%w: %d points", ErrIncompatibleEncoding, count)
	case count == 0:
		return nil
	case g.cfg.MaxElements > 0 && count > g.cfg.MaxElements:
		return fmt.Errorf("%w: %d points exceed the capacity of %d", ErrIncompatibleEncoding, count, g.cfg.MaxElements)
	case dims <= 0 || dims > maxImportDims:
		return fmt.Errorf("%w: dimension %d", ErrIncompatibleEncoding, dims)
	}
	if want := g.Dims(); want != 0 && want != dims {
		return fmt.Errorf("%w: %w", ErrIncompatibleEncoding, dimensionError(want, dims))
	}

	points := newPointIndexation(g.cfg.MaxLayer, min(count, maxImportPrealloc), g.cfg.MaxElements, g.maxConns)
	edges := make(map[*Point][][]importedEdge, min(count, maxImportPrealloc))
	for i := 0; i < count; i++ {
		var (
			key   uint64
			level int
		)
		if _, err = multiBinaryRead(r, &key, &level); err != nil {
			return fmt.Errorf("decoding point %d: %w", i, err)
		}
		if level < 0 || level >= g.cfg.MaxLayer {
			return fmt.Errorf("%w: point %d at layer %d", ErrIncompatibleEncoding, key, level)
		}
		vec := make(Vector, dims)
		if _, err = binaryRead(r, vec); err != nil {
			return fmt.Errorf("decoding vector of point %d: %w", key, err)
		}

		p, err := points.newPoint(vec, key, level)
		if err != nil {
			return fmt.Errorf("decoding point %d: %w", key, err)
		}

		lists := make([][]importedEdge, level+1)
		for layer := range lists {
			var n int
			if _, err = binaryRead(r, &n); err != nil {
				return fmt.Errorf("decoding number of neighbors for point %d: %w", key, err)
			}
			if n < 0 || n > g.maxConns(layer) {
				return fmt.Errorf("%w: point %d has %d neighbors at layer %d", ErrIncompatibleEncoding, key, n, layer)
			}
			lists[layer] = make([]importedEdge, n)
			for j := range lists[layer] {
				e := &lists[layer][j]
				if _, err = multiBinaryRead(r, &e.key, &e.dist); err != nil {
					return fmt.Errorf("decoding neighbor %d for point %d: %w", j, key, err)
				}
			}
		}
		edges[p] = lists
	}

	// Fill in neighbors now that every key resolves.
	for p, lists := range edges {
		for layer, list := range lists {
			for _, e := range list {
				n, ok := points.byKey(e.key)
				if !ok || n.Layer() < layer {
					return fmt.Errorf("%w: point %d links to unknown point %d", ErrIncompatibleEncoding, p.key, e.key)
				}
				p.neighborhood[layer].items = append(p.neighborhood[layer].items, n.asNeighbor(e.dist))
			}
		}
	}

	var ep *Point
	if hasEntry == 1 {
		var ok bool
		if ep, ok = points.byKey(entryKey); !ok {
			return fmt.Errorf("%w: unknown entry point %d", ErrIncompatibleEncoding, entryKey)
		}
	}

	if err := g.checkDims(make(Vector, dims)); err != nil {
		return fmt.Errorf("%w: %w", ErrIncompatibleEncoding, err)
	}
	g.points = points
	if ep != nil {
		g.entry.install(ep)
	}
	g.metrics.setPoints(g.Len())
	return nil
}
