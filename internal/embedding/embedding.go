// Package embedding defines the text-to-vector boundary spec.md §4.5's
// addMemory and retrieveRelevantMemories call through, and the two
// implementations this repo ships: a deterministic local embedder for
// development and tests, and an OpenAI-backed one for production use.
//
// Grounded on the teacher's Embedder interface in pkg/sqvect/embedder.go:
// the same Embed/EmbedBatch/Dim shape, the same BaseEmbedder
// embed-one-at-a-time-via-goroutines default for EmbedBatch.
package embedding

import (
	"context"
	"errors"
)

// Provider converts text into vectors for storage and query.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

var (
	// ErrEmptyText is returned when an empty string is handed to Embed.
	ErrEmptyText = errors.New("embedding: empty text provided")
	// ErrProviderFailed wraps an underlying provider failure.
	ErrProviderFailed = errors.New("embedding: provider call failed")
)

// BaseProvider gives an embedFn a default concurrent EmbedBatch, exactly as
// the teacher's BaseEmbedder does.
type BaseProvider struct {
	EmbedFn func(ctx context.Context, text string) ([]float32, error)
	DimFn   func() int
}

func (b *BaseProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.EmbedFn(ctx, text)
}

// EmbedBatch fires one goroutine per text and preserves input order in the
// result slice, matching the teacher's BaseEmbedder.EmbedBatch.
func (b *BaseProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	type result struct {
		idx int
		vec []float32
		err error
	}

	results := make([][]float32, len(texts))
	ch := make(chan result, len(texts))

	for i, text := range texts {
		go func(idx int, t string) {
			vec, err := b.EmbedFn(ctx, t)
			ch <- result{idx: idx, vec: vec, err: err}
		}(i, text)
	}

	for range texts {
		r := <-ch
		if r.err != nil {
			return nil, r.err
		}
		results[r.idx] = r.vec
	}
	return results, nil
}

func (b *BaseProvider) Dim() int { return b.DimFn() }
