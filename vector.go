package hnsw

type Vector = []float32

// Node is a keyed vector handed to the graph for insertion.
type Node struct {
	Key   uint64
	Value Vector
}

func MakeNode(key uint64, vec Vector) Node {
	return Node{Key: key, Value: vec}
}

// SearchResult is a key found by a search along with its distance to the
// query.
type SearchResult struct {
	Key      uint64
	Distance float32
}
