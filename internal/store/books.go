package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/54b3r/bookinsight/internal/index"
)

// maxInParams bounds the number of ids bound into one IN (...) clause.
const maxInParams = 500

// Book is one row of the books table.
type Book struct {
	UniqueID        string  `parquet:"unique_id" json:"unique_id"`
	ASIN            string  `parquet:"asin,optional" json:"asin,omitempty"`
	Title           string  `parquet:"title,optional" json:"title,omitempty"`
	Author          string  `parquet:"author,optional" json:"author,omitempty"`
	Categories      string  `parquet:"categories,optional" json:"categories,omitempty"`
	Description     string  `parquet:"description,optional" json:"description,omitempty"`
	Price           float64 `parquet:"price,optional" json:"price,omitempty"`
	Rating          float64 `parquet:"rating,optional" json:"rating,omitempty"`
	PageCount       int64   `parquet:"page_count,optional" json:"page_count,omitempty"`
	PublicationYear int64   `parquet:"publication_year,optional" json:"publication_year,omitempty"`
	ImageURL        string  `parquet:"image_url,optional" json:"image_url,omitempty"`
	Content         string  `parquet:"content,optional" json:"content,omitempty"`
}

// UpsertBooks inserts or replaces books in one transaction.
func (s *SQLiteStore) UpsertBooks(ctx context.Context, books []Book) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert books: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO books (unique_id, asin, title, author, categories, description,
                   price, rating, page_count, publication_year, image_url, content)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (unique_id) DO UPDATE SET
    asin = excluded.asin, title = excluded.title, author = excluded.author,
    categories = excluded.categories, description = excluded.description,
    price = excluded.price, rating = excluded.rating, page_count = excluded.page_count,
    publication_year = excluded.publication_year, image_url = excluded.image_url,
    content = excluded.content`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: upsert books: prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range books {
		if b.UniqueID == "" {
			return fmt.Errorf("store: upsert books: empty unique_id for %q", b.Title)
		}
		if _, err := stmt.ExecContext(ctx,
			b.UniqueID, nullString(b.ASIN), nullString(b.Title), nullString(b.Author),
			nullString(b.Categories), nullString(b.Description),
			b.Price, b.Rating, b.PageCount, b.PublicationYear,
			nullString(b.ImageURL), nullString(b.Content),
		); err != nil {
			return fmt.Errorf("store: upsert book %s: %w", b.UniqueID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert books: commit: %w", err)
	}
	return nil
}

// CountBooks returns the number of rows in the books table.
func (s *SQLiteStore) CountBooks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count books: %w", err)
	}
	return n, nil
}

// GetByIDs returns the book records for ids, in the order of ids. Ids with
// no matching row are omitted. Each record carries every column of the
// books table; NULL columns are left out.
func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []string) ([]index.Record, error) {
	byID := make(map[string]index.Record, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, `SELECT * FROM books WHERE unique_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("store: get by ids: %w", err)
		}
		records, err := scanRecords(rows, 0)
		if err != nil {
			return nil, fmt.Errorf("store: get by ids: %w", err)
		}
		for _, r := range records {
			byID[r.String("unique_id")] = r
		}
	}

	out := make([]index.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// scanRecords reads rows into records keyed by column name, stopping after
// limit rows when limit > 0. It closes rows.
func scanRecords(rows *sql.Rows, limit int) ([]index.Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []index.Record
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(index.Record, len(cols))
		for i, c := range cols {
			switch v := values[i].(type) {
			case nil:
			case []byte:
				rec[c] = string(v)
			default:
				rec[c] = v
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
