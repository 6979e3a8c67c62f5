// Package meta attaches JSON metadata to the points of an HNSW graph.
package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/hnswgraph"
)

// ErrMetadataExists is returned when metadata is inserted for a key that
// already has some.
var ErrMetadataExists = errors.New("metadata already exists")

// MetadataNode is a node together with its JSON metadata.
type MetadataNode struct {
	Node     hnsw.Node
	Metadata json.RawMessage
}

// NewMetadataNode pairs node with metadata. Strings, byte slices and
// json.RawMessage must already hold valid JSON; any other value is
// marshaled.
func NewMetadataNode(node hnsw.Node, metadata any) (MetadataNode, error) {
	raw, err := toJSON(metadata)
	if err != nil {
		return MetadataNode{}, fmt.Errorf("metadata of key %d: %w", node.Key, err)
	}
	return MetadataNode{Node: node, Metadata: raw}, nil
}

func toJSON(v any) (json.RawMessage, error) {
	var raw []byte
	switch m := v.(type) {
	case json.RawMessage:
		raw = m
	case []byte:
		raw = m
	case string:
		raw = []byte(m)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON")
	}
	return raw, nil
}

// GetMetadataAs unmarshals the metadata into target.
func (n MetadataNode) GetMetadataAs(target any) error {
	return json.Unmarshal(n.Metadata, target)
}

// MetadataSearchResult is a search result with the metadata of its key.
type MetadataSearchResult struct {
	hnsw.SearchResult
	Metadata json.RawMessage
}

// GetMetadataAs unmarshals the metadata into target.
func (r MetadataSearchResult) GetMetadataAs(target any) error {
	return json.Unmarshal(r.Metadata, target)
}

// Entry is the metadata of one key.
type Entry struct {
	Key      uint64
	Metadata json.RawMessage
}

// MetadataStore holds metadata by point key. Insertions never overwrite:
// the first writer of a key owns it until the key is removed. This is
// what MetadataGraph relies on to keep metadata and vectors of a key
// from different writers apart. Implementations must be safe for
// concurrent use.
type MetadataStore interface {
	// Insert stores metadata for key, or fails with ErrMetadataExists.
	Insert(key uint64, metadata json.RawMessage) error

	// InsertAll inserts every entry as Insert would, in order, and
	// reports which were stored. Of repeated keys only the first entry
	// can be stored.
	InsertAll(entries []Entry) []bool

	// Get returns the metadata of key.
	Get(key uint64) (json.RawMessage, bool)

	// GetAll returns the metadata of keys in order, nil where missing.
	GetAll(keys []uint64) []json.RawMessage

	// Remove deletes keys and returns how many were present.
	Remove(keys ...uint64) int

	// Len is the number of keys with metadata.
	Len() int
}

// MemoryMetadataStore is a MetadataStore backed by a map.
type MemoryMetadataStore struct {
	mu      sync.RWMutex
	entries map[uint64]json.RawMessage
}

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{entries: make(map[uint64]json.RawMessage)}
}

func (s *MemoryMetadataStore) Insert(key uint64, metadata json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: key %d", ErrMetadataExists, key)
	}
	s.entries[key] = metadata
	return nil
}

func (s *MemoryMetadataStore) InsertAll(entries []Entry) []bool {
	stored := make([]bool, len(entries))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		if _, ok := s.entries[e.Key]; ok {
			continue
		}
		s.entries[e.Key] = e.Metadata
		stored[i] = true
	}
	return stored
}

func (s *MemoryMetadataStore) Get(key uint64) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[key]
	return m, ok
}

func (s *MemoryMetadataStore) GetAll(keys []uint64) []json.RawMessage {
	out := make([]json.RawMessage, len(keys))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, key := range keys {
		out[i] = s.entries[key]
	}
	return out
}

func (s *MemoryMetadataStore) Remove(keys ...uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

func (s *MemoryMetadataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
