package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"

	"github.com/54b3r/bookinsight/internal/logging"
)

// table is the in-memory metadata of a local shard.
type table []Record

// row returns a copy of the record at pos. Out-of-range positions degrade to
// an empty record so a partial metadata file never fails a search.
func (t table) row(pos int64) Record {
	if pos < 0 || pos >= int64(len(t)) {
		return Record{}
	}
	return t[pos].Clone()
}

// requireFile returns a *NotFoundError when path does not exist.
func requireFile(artifact, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Artifact: artifact, Path: path}
		}
		return fmt.Errorf("index: stat %s: %w", path, err)
	}
	return nil
}

// warnOnMismatch logs the degraded-data condition where the index and its
// metadata table disagree on row count. Search continues either way.
func warnOnMismatch(ctx context.Context, shard string, vectors, rows int) {
	if vectors == rows {
		return
	}
	logging.FromContext(ctx).Warn("index: vector count does not match metadata rows",
		slog.String("shard", shard),
		slog.Int("vectors", vectors),
		slog.Int("metadata_rows", rows),
	)
}

// normalize returns an L2-normalized copy of v. A zero vector is returned
// unchanged.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}
