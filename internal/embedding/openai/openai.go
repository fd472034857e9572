// Package openai adapts github.com/sashabaranov/go-openai's embeddings
// endpoint to the embedding.Provider interface, for production deployments
// of the persona memory engine.
package openai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/corvid-labs/personamemory/internal/embedding"
	"github.com/corvid-labs/personamemory/internal/errs"
)

// Embedder wraps an openai.Client configured with a specific model and
// output dimensionality.
type Embedder struct {
	*embedding.BaseProvider
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// New returns an Embedder that calls OpenAI's embeddings API with apiKey.
func New(apiKey, model string, dim int) *Embedder {
	e := &Embedder{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
		dim:    dim,
	}
	e.BaseProvider = &embedding.BaseProvider{
		EmbedFn: e.embed,
		DimFn:   func() int { return dim },
	}
	return e
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embedding.ErrEmptyText
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, errs.Wrap("openai.Embed", errs.ErrDependency)
	}
	if len(resp.Data) == 0 {
		return nil, errs.Wrap("openai.Embed", embedding.ErrProviderFailed)
	}
	return resp.Data[0].Embedding, nil
}
