package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
	"github.com/parquet-go/parquet-go"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantUpsertBatch is the number of points sent per Upsert call.
const qdrantUpsertBatch = 256

// HNSWParams tunes graph construction.
type HNSWParams struct {
	// M is the maximum neighbours per node (default: 16).
	M int
	// EfSearch is stored with the graph and used at query time (default: 64).
	EfSearch int
}

// WriteHNSW builds a cosine HNSW graph over vectors, keyed by row position,
// and writes it to dir/index.hnsw. Vectors are normalized before insertion.
func WriteHNSW(dir string, vectors [][]float32, params HNSWParams) error {
	if err := checkRectangular(vectors); err != nil {
		return err
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if params.M > 0 {
		graph.M = params.M
	}
	graph.EfSearch = defaultEfSearch
	if params.EfSearch > 0 {
		graph.EfSearch = params.EfSearch
	}

	nodes := make([]hnsw.Node[uint64], len(vectors))
	for i, v := range vectors {
		nodes[i] = hnsw.MakeNode(uint64(i), normalize(v))
	}
	if len(nodes) > 0 {
		graph.Add(nodes...)
	}

	return writeAtomic(filepath.Join(dir, HNSWFile), func(w *bufio.Writer) error {
		if err := graph.Export(w); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		return nil
	})
}

// WriteFlat writes vectors, normalized, to dir/vectors.f32.
func WriteFlat(dir string, vectors [][]float32) error {
	if err := checkRectangular(vectors); err != nil {
		return err
	}
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}

	return writeAtomic(filepath.Join(dir, FlatFile), func(w *bufio.Writer) error {
		header := make([]byte, flatHeaderSize)
		copy(header, flatMagic)
		binary.LittleEndian.PutUint32(header[4:8], flatVersion)
		binary.LittleEndian.PutUint32(header[8:12], uint32(dims))
		binary.LittleEndian.PutUint32(header[12:16], uint32(len(vectors)))
		if _, err := w.Write(header); err != nil {
			return err
		}
		buf := make([]byte, 4)
		for _, v := range vectors {
			for _, x := range normalize(v) {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
				if _, err := w.Write(buf); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteMetadata writes rows to dir/metadata.parquet using the parquet tags of
// Row as the schema. Row i must describe vector i.
func WriteMetadata[Row any](dir string, rows []Row) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, MetadataFile)
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: write metadata %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: rename metadata %s: %w", path, err)
	}
	return nil
}

// UpsertQdrant creates cfg.Collection when missing and stores one point per
// vector with id = row position and the matching record as payload.
func UpsertQdrant(ctx context.Context, cfg QdrantConfig, vectors [][]float32, records []Record) error {
	client, err := dialQdrant(cfg.withDefaults())
	if err != nil {
		return err
	}
	defer client.Close()
	return upsertQdrant(ctx, client, cfg.Collection, vectors, records)
}

func upsertQdrant(ctx context.Context, client qdrantAPI, collection string, vectors [][]float32, records []Record) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("index: qdrant: %d vectors but %d records", len(vectors), len(records))
	}
	if err := checkRectangular(vectors); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("index: qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vectors[0])),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("index: qdrant: failed to create collection %q: %w", collection, err)
		}
	}

	wait := true
	for start := 0; start < len(vectors); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(vectors))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			payload, err := qdrant.TryValueMap(map[string]any(records[i]))
			if err != nil {
				return fmt.Errorf("index: qdrant: payload for row %d: %w", i, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: payload,
			})
		}
		if _, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("index: qdrant: upsert rows %d-%d failed: %w", start, end-1, err)
		}
	}
	return nil
}

// checkRectangular rejects ragged or zero-width vector sets.
func checkRectangular(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	if dims == 0 {
		return fmt.Errorf("index: vectors have zero dimensions")
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("index: vector %d: %w", i, &DimensionError{Expected: dims, Got: len(v)})
		}
	}
	return nil
}

// writeAtomic writes path through a temp file and renames it into place.
func writeAtomic(path string, fill func(w *bufio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("index: create directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("index: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("index: write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("index: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: rename %s: %w", path, err)
	}
	return nil
}
