package retrieval

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

// Embedder computes a semantic vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiEmbedder embeds text with the Gemini embedding endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(client *genai.Client, model string) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, errors.New("gemini client is nil")
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("embed content: empty embedding")
	}
	return res.Embeddings[0].Values, nil
}

// EmbeddingFunc adapts e to the chromem collection signature so documents
// added without a precomputed vector are embedded the same way as queries.
func EmbeddingFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}
