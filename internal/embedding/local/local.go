// Package local provides a deterministic, dependency-free embedding
// provider for development and tests. It is explicitly not fit for
// production semantic search: it hashes text into a vector rather than
// modeling meaning, so two unrelated sentences sharing vocabulary will
// score as similar. Swap in internal/embedding/openai for real recall
// quality.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/corvid-labs/personamemory/internal/embedding"
)

// Embedder deterministically maps text to a unit-ish vector of the
// configured dimension by hashing each lower-cased whitespace token into a
// signed bucket.
// Same text always produces the same vector, which is what tests need.
type Embedder struct {
	*embedding.BaseProvider
	dim int
}

// New returns an Embedder producing vectors of the given dimension.
func New(dim int) *Embedder {
	e := &Embedder{dim: dim}
	e.BaseProvider = &embedding.BaseProvider{
		EmbedFn: e.embed,
		DimFn:   func() int { return dim },
	}
	return e
}

func (e *Embedder) embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmptyText
	}

	vec := make([]float32, e.dim)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		sign := float32(1)
		if (sum>>1)%2 == 0 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	mag = math.Sqrt(mag)
	if mag > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / mag)
		}
	}
	return vec, nil
}
