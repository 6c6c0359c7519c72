package ingestion

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/54b3r/bookinsight/internal/index"
	"github.com/54b3r/bookinsight/internal/store"
)

// columnAliases maps catalog column names seen in public book datasets to the
// canonical books-table column. Canonical names map to themselves.
var columnAliases = map[string]string{
	"unique_id":        "unique_id",
	"id":               "unique_id",
	"book_id":          "unique_id",
	"asin":             "asin",
	"title":            "title",
	"book_title":       "title",
	"name":             "title",
	"author":           "author",
	"authors":          "author",
	"book_author":      "author",
	"categories":       "categories",
	"category":         "categories",
	"genre":            "categories",
	"genres":           "categories",
	"description":      "description",
	"summary":          "description",
	"price":            "price",
	"rating":           "rating",
	"average_rating":   "rating",
	"page_count":       "page_count",
	"pages":            "page_count",
	"num_pages":        "page_count",
	"publication_year": "publication_year",
	"year":             "publication_year",
	"published_year":   "publication_year",
	"image_url":        "image_url",
	"image":            "image_url",
	"image_link":       "image_url",
	"thumbnail":        "image_url",
	"content":          "content",
	"image_caption":    "image_caption",
	"caption":          "image_caption",
	"embedding":        "embedding",
}

// CanonicalColumn returns the books-table column a catalog column maps to,
// or "" when the column is not recognised.
func CanonicalColumn(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	return columnAliases[key]
}

// Normalize rewrites rec with canonical column names. Unknown columns are
// kept as-is; when two columns map to the same name the canonical column wins
// unless it is empty. A missing unique_id is derived from asin or from title and author.
func Normalize(rec index.Record) index.Record {
	out := make(index.Record, len(rec))
	for k, v := range rec {
		name := CanonicalColumn(k)
		if name == "" {
			name = k
		}
		if existing, ok := out[name]; ok && !isEmpty(existing) && (k != name || isEmpty(v)) {
			continue
		}
		out[name] = v
	}
	if out.String("unique_id") == "" {
		if asin := out.String("asin"); asin != "" {
			out["unique_id"] = asin
		} else {
			out["unique_id"] = bookID(out.String("title"), out.String("author"))
		}
	}
	return out
}

// BookFromRecord converts a normalized catalog record into a books-table row.
func BookFromRecord(rec index.Record) store.Book {
	return store.Book{
		UniqueID:        rec.String("unique_id"),
		ASIN:            rec.String("asin"),
		Title:           rec.String("title"),
		Author:          rec.String("author"),
		Categories:      listString(rec["categories"]),
		Description:     rec.String("description"),
		Price:           toFloat(rec["price"]),
		Rating:          toFloat(rec["rating"]),
		PageCount:       int64(toFloat(rec["page_count"])),
		PublicationYear: int64(toFloat(rec["publication_year"])),
		ImageURL:        rec.String("image_url"),
		Content:         rec.String("content"),
	}
}

// Embedding returns the precomputed vector stored in the record's embedding
// column, or nil when there is none.
func Embedding(rec index.Record) []float32 {
	list, ok := rec["embedding"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	vec := make([]float32, len(list))
	for i, v := range list {
		vec[i] = float32(toFloat(v))
	}
	return vec
}

// bookID generates a deterministic id from title and author.
func bookID(title, author string) string {
	h := sha256.Sum256([]byte(strings.ToLower(title) + "\x00" + strings.ToLower(author)))
	return fmt.Sprintf("%x", h[:8])
}

// listString renders list-valued columns as a comma-separated string.
func listString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
