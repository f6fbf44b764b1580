package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// AugmentationHeader introduces the retrieved passages in the system prompt.
const AugmentationHeader = "\n\nRELEVANT DOCUMENTATION:\n"

// ================ Config ================
type Config struct {
	Enabled        bool   `envconfig:"RAG_ENABLED" default:"true"`
	TopK           int    `envconfig:"RAG_TOP_K" default:"3"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dir            string `envconfig:"VECTORSTORE_DIR" default:"data/vectorstore"`
	Collection     string `envconfig:"VECTORSTORE_COLLECTION" default:"agents-docs"`
}

// Searcher is the similarity query the Augmenter needs.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Passage, error)
}

// Augmenter turns a user message into a documentation block for the system
// prompt.
type Augmenter struct {
	embedder Embedder
	index    Searcher
	topK     int
}

func NewAugmenter(embedder Embedder, index Searcher, topK int) *Augmenter {
	if topK <= 0 {
		topK = 3
	}
	return &Augmenter{embedder: embedder, index: index, topK: topK}
}

// Augment embeds message, fetches the nearest passages and joins them under
// AugmentationHeader. It returns "" when nothing matched.
func (a *Augmenter) Augment(ctx context.Context, message string) (string, error) {
	vec, err := a.embedder.Embed(ctx, message)
	if err != nil {
		return "", fmt.Errorf("embed message: %w", err)
	}
	passages, err := a.index.Query(ctx, vec, a.topK)
	if err != nil {
		return "", err
	}
	return FormatPassages(passages), nil
}

// FormatPassages builds the augmentation block, or "" for no passages.
func FormatPassages(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return AugmentationHeader + strings.Join(texts, "\n\n")
}
