package ingestion

import (
	"testing"

	"github.com/54b3r/bookinsight/internal/index"
)

func TestCanonicalColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "title", want: "title"},
		{in: "Book Title", want: "title"},
		{in: "authors", want: "author"},
		{in: "genres", want: "categories"},
		{in: "num_pages", want: "page_count"},
		{in: "image_link", want: "image_url"},
		{in: "caption", want: "image_caption"},
		{in: "isbn13", want: ""},
	}
	for _, tc := range tests {
		if got := CanonicalColumn(tc.in); got != tc.want {
			t.Errorf("CanonicalColumn(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("canonical column wins over alias", func(t *testing.T) {
		t.Parallel()
		rec := Normalize(index.Record{"title": "Dune", "book_title": "DUNE!", "isbn13": "978"})
		if rec.String("title") != "Dune" {
			t.Errorf("title: got %q", rec.String("title"))
		}
		if rec.String("isbn13") != "978" {
			t.Error("unknown columns must be kept")
		}
	})

	t.Run("empty canonical column falls back to alias", func(t *testing.T) {
		t.Parallel()
		rec := Normalize(index.Record{"title": "", "book_title": "Emma"})
		if rec.String("title") != "Emma" {
			t.Errorf("title: got %q", rec.String("title"))
		}
	})

	t.Run("unique_id from asin", func(t *testing.T) {
		t.Parallel()
		if got := Normalize(index.Record{"asin": "B00X"}).String("unique_id"); got != "B00X" {
			t.Errorf("unique_id: got %q", got)
		}
	})

	t.Run("unique_id derived from title and author is stable", func(t *testing.T) {
		t.Parallel()
		a := Normalize(index.Record{"title": "Dune", "author": "Frank Herbert"}).String("unique_id")
		b := Normalize(index.Record{"title": "DUNE", "author": "frank herbert"}).String("unique_id")
		if a == "" || a != b {
			t.Errorf("expected stable non-empty id, got %q and %q", a, b)
		}
	})
}

func TestBookFromRecord(t *testing.T) {
	t.Parallel()

	b := BookFromRecord(Normalize(index.Record{
		"asin": "B1", "title": "Dune", "genres": []any{"SF", "Classic"},
		"price": "12.50", "rating": 4.5, "pages": int64(412), "year": int64(1965),
	}))
	if b.UniqueID != "B1" || b.Categories != "SF, Classic" {
		t.Errorf("unexpected book: %+v", b)
	}
	if b.Price != 12.5 || b.Rating != 4.5 || b.PageCount != 412 || b.PublicationYear != 1965 {
		t.Errorf("numeric fields not converted: %+v", b)
	}
}

func TestEmbedding(t *testing.T) {
	t.Parallel()

	if Embedding(index.Record{}) != nil {
		t.Error("expected nil without an embedding column")
	}
	v := Embedding(index.Record{"embedding": []any{1.0, 0.5, int64(2)}})
	if len(v) != 3 || v[0] != 1 || v[1] != 0.5 || v[2] != 2 {
		t.Errorf("unexpected vector: %v", v)
	}
}
