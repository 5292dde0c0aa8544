package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// TestEmbedder generates deterministic bag-of-words embeddings for tests.
// Each lowercased word is hashed into one of VectorSize buckets and the
// vector is normalized, so texts sharing words score higher than texts that
// do not. Text without words maps to bucket 0.
type TestEmbedder struct {
	VectorSize int
}

// NewTestEmbedder returns a TestEmbedder producing vectors of size dim.
func NewTestEmbedder(dim int) *TestEmbedder {
	return &TestEmbedder{VectorSize: dim}
}

// EmbedDocuments embeds each text.
func (e *TestEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (e *TestEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *TestEmbedder) embed(text string) []float32 {
	dim := e.VectorSize
	if dim <= 0 {
		dim = 16
	}
	vec := make([]float32, dim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		vec[0] = 1
		return vec
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
