package index

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/parquet-go/parquet-go"
)

// MetadataFile is the file name of the row-aligned metadata table inside a
// local shard directory.
const MetadataFile = "metadata.parquet"

// readBatch is the number of parquet rows decoded per ReadRows call.
const readBatch = 512

// ReadMetadata loads a parquet table into memory as one Record per row, in
// file order. Column names are taken from the top-level schema field; values
// of repeated (list) columns are collected into []any.
func ReadMetadata(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Artifact: "metadata", Path: path}
		}
		return nil, fmt.Errorf("index: open metadata %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("index: stat metadata %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("index: open parquet %s: %w", path, err)
	}

	columns := pf.Schema().Columns()
	names := make([]string, len(columns))
	repeated := make([]bool, len(columns))
	for i, p := range columns {
		if len(p) == 0 {
			continue
		}
		names[i] = p[0]
		repeated[i] = len(p) > 1
	}

	records := make([]Record, 0, pf.NumRows())
	buf := make([]parquet.Row, readBatch)
	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				records = append(records, rowToRecord(buf[i], names, repeated))
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("index: read metadata rows %s: %w", path, readErr)
			}
		}
	}

	return records, nil
}

// rowToRecord converts one decoded parquet row into a Record.
func rowToRecord(row parquet.Row, names []string, repeated []bool) Record {
	rec := make(Record, len(names))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(names) || names[col] == "" {
			continue
		}
		name := names[col]
		if repeated[col] {
			list, _ := rec[name].([]any)
			if !v.IsNull() {
				list = append(list, parquetValue(v))
			}
			rec[name] = list
			continue
		}
		if v.IsNull() {
			continue
		}
		rec[name] = parquetValue(v)
	}
	return rec
}

// parquetValue maps a parquet physical value to a plain Go value.
func parquetValue(v parquet.Value) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
