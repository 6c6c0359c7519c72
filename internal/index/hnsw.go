package index

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWFile is the file name of the exported graph inside an hnsw shard.
const HNSWFile = "index.hnsw"

// defaultEfSearch is the search-time candidate list size used when the
// caller does not configure one.
const defaultEfSearch = 64

// HNSWShard is a local shard backed by an exported coder/hnsw graph whose
// node keys are metadata row positions. Vectors are stored L2-normalized and
// compared with cosine distance.
type HNSWShard struct {
	// dir is the shard directory holding index.hnsw and metadata.parquet.
	dir string
	// modality is the embedding space of the shard.
	modality Modality
	// efSearch overrides the graph's search-time candidate list size.
	efSearch int

	// mu guards graph and meta; searches hold the read lock.
	mu sync.RWMutex
	// graph is the loaded HNSW graph. Nil until Load succeeds.
	graph *hnsw.Graph[uint64]
	// meta is the row-aligned metadata table.
	meta table
	// dims is the vector dimensionality of the graph.
	dims int
}

// NewHNSWShard returns an unloaded shard for dir. efSearch <= 0 selects the
// package default.
func NewHNSWShard(dir string, modality Modality, efSearch int) *HNSWShard {
	if efSearch <= 0 {
		efSearch = defaultEfSearch
	}
	return &HNSWShard{dir: dir, modality: modality, efSearch: efSearch}
}

// Name returns the shard directory base name.
func (s *HNSWShard) Name() string { return filepath.Base(s.dir) }

// Modality returns the embedding space of the shard.
func (s *HNSWShard) Modality() Modality { return s.modality }

// Load imports the graph and reads the metadata table.
func (s *HNSWShard) Load(ctx context.Context) error {
	indexPath := filepath.Join(s.dir, HNSWFile)
	metaPath := filepath.Join(s.dir, MetadataFile)
	if err := requireFile("index", indexPath); err != nil {
		return err
	}
	if err := requireFile("metadata", metaPath); err != nil {
		return err
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return fmt.Errorf("index: open %s: %w", indexPath, err)
	}
	defer f.Close()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("index: import graph %s: %w", indexPath, err)
	}
	graph.EfSearch = s.efSearch

	meta, err := ReadMetadata(metaPath)
	if err != nil {
		return err
	}
	warnOnMismatch(ctx, s.Name(), graph.Len(), len(meta))

	s.mu.Lock()
	s.graph = graph
	s.meta = meta
	s.dims = graph.Dims()
	s.mu.Unlock()
	return nil
}

// Search returns the k nearest rows to vec by cosine similarity.
func (s *HNSWShard) Search(_ context.Context, vec []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil {
		return nil, ErrNotLoaded
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []Hit{}, nil
	}
	if len(vec) != s.dims {
		return nil, &DimensionError{Expected: s.dims, Got: len(vec)}
	}
	if n := s.graph.Len(); k > n {
		k = n
	}

	query := normalize(vec)
	nodes := s.graph.Search(query, k)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		pos := int64(node.Key)
		hits = append(hits, Hit{
			Position: pos,
			Score:    1 - hnsw.CosineDistance(query, node.Value),
			Source:   s.modality,
			Shard:    s.Name(),
			Metadata: s.meta.row(pos),
		})
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}

// Count returns the number of vectors in the graph.
func (s *HNSWShard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return 0
	}
	return s.graph.Len()
}

// Dims returns the graph dimensionality.
func (s *HNSWShard) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Close drops the graph and metadata.
func (s *HNSWShard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = nil
	s.meta = nil
	return nil
}

var _ Shard = (*HNSWShard)(nil)
