package encoder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultStaticDimensions is the vector size of a StaticEncoder built with
// dims <= 0.
const DefaultStaticDimensions = 384

const (
	wordWeight  = 0.7
	gramWeight  = 0.3
	gramSize    = 3
	signBitMask = 1 << 31
)

// englishStopWords are dropped before hashing.
var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "to": {}, "in": {},
	"for": {}, "on": {}, "with": {}, "about": {}, "is": {}, "are": {},
	"by": {}, "at": {}, "or": {}, "from": {}, "that": {}, "this": {},
}

// StaticEncoder produces deterministic embeddings by feature hashing word
// tokens and character trigrams. It needs no network or model download and
// is used for offline runs and tests.
type StaticEncoder struct {
	dims int
}

// NewStaticEncoder returns a StaticEncoder producing dims-sized vectors.
func NewStaticEncoder(dims int) *StaticEncoder {
	if dims <= 0 {
		dims = DefaultStaticDimensions
	}
	return &StaticEncoder{dims: dims}
}

// Dimensions returns the output vector size.
func (e *StaticEncoder) Dimensions() int { return e.dims }

// Encode hashes each text into a normalized vector. Empty text yields a zero
// vector.
func (e *StaticEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = Normalize(e.vector(text))
	}
	return out, nil
}

func (e *StaticEncoder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, stop := englishStopWords[w]; stop {
			continue
		}
		e.add(v, w, wordWeight)
	}
	joined := []rune(strings.Join(words, " "))
	for i := 0; i+gramSize <= len(joined); i++ {
		e.add(v, string(joined[i:i+gramSize]), gramWeight)
	}
	return v
}

// add hashes feature into v. The top hash bit picks the sign so collisions
// tend to cancel rather than accumulate.
func (e *StaticEncoder) add(v []float32, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum&^signBitMask) % e.dims
	if sum&signBitMask != 0 {
		weight = -weight
	}
	v[idx] += weight
}
