package codeindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ChunkKey identifies a chunk for vector index purposes.
func ChunkKey(filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", filePath, chunkIndex)
}

// VectorIndex is an approximate nearest-neighbor index over chunk
// embeddings, used for the semantic mode of search_code. The brute-force
// scan used by L3 recall does not scale to a whole-codebase chunk corpus,
// so the code index uses coder/hnsw instead (spec §4.6).
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	idMap  map[string]uint64
	keyMap map[uint64]string
	next   uint64
}

type vectorIndexMetadata struct {
	IDMap map[string]uint64
	Next  uint64
	Dims  int
}

// NewVectorIndex builds an empty index for embeddings of the given
// dimensionality using cosine distance.
func NewVectorIndex(dims int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Upsert adds or replaces the vector for key. Replacing an existing key
// uses lazy deletion (orphan the old graph node) to avoid coder/hnsw's
// instability when the last node is removed.
func (v *VectorIndex) Upsert(key string, embedding []float32) error {
	if len(embedding) != v.dims {
		return fmt.Errorf("vectorindex: dimension mismatch: expected %d, got %d", v.dims, len(embedding))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if old, ok := v.idMap[key]; ok {
		delete(v.keyMap, old)
		delete(v.idMap, key)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalize(vec)

	k := v.next
	v.next++
	v.graph.Add(hnsw.MakeNode(k, vec))
	v.idMap[key] = k
	v.keyMap[k] = key
	return nil
}

// Delete removes key from the index, if present.
func (v *VectorIndex) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if k, ok := v.idMap[key]; ok {
		delete(v.keyMap, k)
		delete(v.idMap, key)
	}
}

// VectorMatch is one result of a Search call.
type VectorMatch struct {
	Key        string
	Similarity float64
}

// Search returns the k nearest keys to query by cosine similarity.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	if len(query) != v.dims {
		return nil, fmt.Errorf("vectorindex: dimension mismatch: expected %d, got %d", v.dims, len(query))
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	nodes := v.graph.Search(q, k)
	out := make([]VectorMatch, 0, len(nodes))
	for _, n := range nodes {
		key, ok := v.keyMap[n.Key]
		if !ok {
			continue // orphaned by a prior Upsert/Delete
		}
		dist := v.graph.Distance(q, n.Value)
		out = append(out, VectorMatch{Key: key, Similarity: 1.0 - float64(dist)/2.0})
	}
	return out, nil
}

// Count returns the number of live (non-orphaned) vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save persists the graph and ID mappings to disk via a temp-file-then-
// rename sequence, matching the teacher's atomic-save pattern.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create index file: %w", err)
	}
	if err := v.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: rename index file: %w", err)
	}

	return v.saveMetadata(path + ".meta")
}

func (v *VectorIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create metadata file: %w", err)
	}
	meta := vectorIndexMetadata{IDMap: v.idMap, Next: v.next, Dims: v.dims}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores the graph and ID mappings from disk.
func (v *VectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("vectorindex: load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vectorindex: open index file: %w", err)
	}
	defer f.Close()

	return v.graph.Import(bufio.NewReader(f))
}

func (v *VectorIndex) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var meta vectorIndexMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return err
	}
	v.idMap = meta.IDMap
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for key, k := range meta.IDMap {
		v.keyMap[k] = key
	}
	v.next = meta.Next
	v.dims = meta.Dims
	return nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
