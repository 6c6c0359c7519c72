package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// FlatFile is the file name of the raw vector matrix inside a flat shard.
const FlatFile = "vectors.f32"

const (
	// flatMagic identifies a flat vector file.
	flatMagic = "BIFV"
	// flatVersion is the only supported header version.
	flatVersion uint32 = 1
	// flatHeaderSize is magic + version + dims + count.
	flatHeaderSize = 16
)

// FlatShard is an exact inner-product index over a memory-mapped matrix of
// little-endian float32 rows. Rows are expected to be L2-normalized at write
// time, which makes the inner product a cosine similarity.
type FlatShard struct {
	// dir is the shard directory holding vectors.f32 and metadata.parquet.
	dir string
	// modality is the embedding space of the shard.
	modality Modality

	// mu guards the mapped region and metadata.
	mu sync.RWMutex
	// file is the open vector file backing data.
	file *os.File
	// data is the read-only mapping of the whole vector file.
	data mmap.MMap
	// meta is the row-aligned metadata table.
	meta table
	// dims is the per-row dimensionality from the header.
	dims int
	// count is the number of rows from the header.
	count int
}

// NewFlatShard returns an unloaded flat shard for dir.
func NewFlatShard(dir string, modality Modality) *FlatShard {
	return &FlatShard{dir: dir, modality: modality}
}

// Name returns the shard directory base name.
func (s *FlatShard) Name() string { return filepath.Base(s.dir) }

// Modality returns the embedding space of the shard.
func (s *FlatShard) Modality() Modality { return s.modality }

// Load maps the vector file and reads the metadata table.
func (s *FlatShard) Load(ctx context.Context) error {
	vecPath := filepath.Join(s.dir, FlatFile)
	metaPath := filepath.Join(s.dir, MetadataFile)
	if err := requireFile("index", vecPath); err != nil {
		return err
	}
	if err := requireFile("metadata", metaPath); err != nil {
		return err
	}

	f, err := os.Open(vecPath)
	if err != nil {
		return fmt.Errorf("index: open %s: %w", vecPath, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("index: mmap %s: %w", vecPath, err)
	}

	dims, count, err := parseFlatHeader(data)
	if err != nil {
		data.Unmap()
		f.Close()
		return fmt.Errorf("index: %s: %w", vecPath, err)
	}

	meta, err := ReadMetadata(metaPath)
	if err != nil {
		data.Unmap()
		f.Close()
		return err
	}
	warnOnMismatch(ctx, s.Name(), count, len(meta))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.file = f
	s.data = data
	s.meta = meta
	s.dims = dims
	s.count = count
	return nil
}

// parseFlatHeader validates the header and checks that the body holds
// exactly count rows of dims float32 values.
func parseFlatHeader(data []byte) (dims, count int, err error) {
	if len(data) < flatHeaderSize {
		return 0, 0, fmt.Errorf("truncated header: %d bytes", len(data))
	}
	if string(data[:4]) != flatMagic {
		return 0, 0, fmt.Errorf("bad magic %q", data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != flatVersion {
		return 0, 0, fmt.Errorf("unsupported version %d", v)
	}
	dims = int(binary.LittleEndian.Uint32(data[8:12]))
	count = int(binary.LittleEndian.Uint32(data[12:16]))
	if want := flatHeaderSize + dims*count*4; len(data) != want {
		return 0, 0, fmt.Errorf("size %d does not match header (%d rows x %d dims)", len(data), count, dims)
	}
	return dims, count, nil
}

// Search scans every row and returns the k rows with the highest inner
// product against the normalized query.
func (s *FlatShard) Search(_ context.Context, vec []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, ErrNotLoaded
	}
	if len(vec) != s.dims {
		return nil, &DimensionError{Expected: s.dims, Got: len(vec)}
	}
	if k <= 0 || s.count == 0 {
		return []Hit{}, nil
	}
	if k > s.count {
		k = s.count
	}

	query := normalize(vec)
	scores, positions := topK(s.data[flatHeaderSize:], s.dims, s.count, query, k)

	hits := make([]Hit, 0, len(positions))
	for i, pos := range positions {
		// The kernel pads missing slots with -1.
		if pos < 0 {
			continue
		}
		hits = append(hits, Hit{
			Position: pos,
			Score:    scores[i],
			Rank:     len(hits) + 1,
			Source:   s.modality,
			Shard:    s.Name(),
			Metadata: s.meta.row(pos),
		})
	}
	return hits, nil
}

// topK returns exactly k (score, position) slots in descending score order.
// When the matrix has fewer than k rows the tail is padded with position -1.
func topK(body []byte, dims, count int, query []float32, k int) ([]float32, []int64) {
	scores := make([]float32, k)
	positions := make([]int64, k)
	for i := range positions {
		scores[i] = float32(math.Inf(-1))
		positions[i] = -1
	}

	stride := dims * 4
	for row := 0; row < count; row++ {
		base := row * stride
		var dot float32
		for j := 0; j < dims; j++ {
			off := base + j*4
			dot += query[j] * math.Float32frombits(binary.LittleEndian.Uint32(body[off:off+4]))
		}
		if dot <= scores[k-1] && positions[k-1] >= 0 {
			continue
		}
		// Insertion keeps ties in row order.
		i := k - 1
		for i > 0 && (positions[i-1] < 0 || scores[i-1] < dot) {
			scores[i] = scores[i-1]
			positions[i] = positions[i-1]
			i--
		}
		scores[i] = dot
		positions[i] = int64(row)
	}
	return scores, positions
}

// Count returns the number of rows in the vector file.
func (s *FlatShard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dims returns the row dimensionality.
func (s *FlatShard) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Close unmaps the vector file.
func (s *FlatShard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

// release unmaps and closes the current file. Callers hold mu.
func (s *FlatShard) release() error {
	var firstErr error
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			firstErr = fmt.Errorf("index: unmap %s: %w", s.Name(), err)
		}
		s.data = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("index: close %s: %w", s.Name(), err)
		}
		s.file = nil
	}
	s.meta = nil
	return firstErr
}

var _ Shard = (*FlatShard)(nil)
