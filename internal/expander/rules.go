package expander

import (
	"context"
	"errors"
	"strings"
)

// Rules is a template-based Paraphraser for when no language model is
// available. Templates yield the query with "children" replaced by "kids",
// with "fantasy" replaced by "adventure", "a story about <q>" and
// "<q> book for young readers", in that order.
type Rules struct{}

// Paraphrase returns up to n template variants. Templates that leave the
// query unchanged are dropped by the Expander's dedup.
func (Rules) Paraphrase(_ context.Context, query string, n int) ([]string, error) {
	variants := []string{
		strings.ReplaceAll(query, "children", "kids"),
		strings.ReplaceAll(query, "fantasy", "adventure"),
		"a story about " + query,
		query + " book for young readers",
	}
	if n < len(variants) {
		variants = variants[:n]
	}
	return variants, nil
}

// Fallback tries Primary and uses Secondary when Primary fails or produces
// nothing.
type Fallback struct {
	// Primary is tried first.
	Primary Paraphraser
	// Secondary is used when Primary yields no paraphrase.
	Secondary Paraphraser
}

// Paraphrase implements Paraphraser.
func (f Fallback) Paraphrase(ctx context.Context, query string, n int) ([]string, error) {
	var primaryErr error
	if f.Primary != nil {
		out, err := f.Primary.Paraphrase(ctx, query, n)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		primaryErr = err
	}
	if f.Secondary == nil {
		if primaryErr == nil {
			primaryErr = errors.New("expander: no paraphrases produced")
		}
		return nil, primaryErr
	}
	return f.Secondary.Paraphrase(ctx, query, n)
}
