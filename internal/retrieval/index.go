package retrieval

import (
	"context"
	"fmt"
	"os"

	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	chromem "github.com/philippgille/chromem-go"
)

// Passage is one documentation chunk returned by a similarity query.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float32
}

// Index is the read side of the similarity index over documentation
// passages, backed by a chromem-go collection. The collection is filled by
// the external ingestion job; passage text is read from the "text" metadata
// key and falls back to the document content.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection
}

// OpenIndex opens (or creates) the collection. An empty dir keeps the index
// in memory.
func OpenIndex(dir, collection string, embed chromem.EmbeddingFunc) (*Index, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create vectorstore dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vectorstore: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", collection, err)
	}
	return &Index{db: db, col: col}, nil
}

// Count returns the number of indexed passages.
func (i *Index) Count() int {
	return i.col.Count()
}

// Query returns up to topK passages nearest to vector, most similar first.
func (i *Index) Query(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	count := i.col.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var results []chromem.Result
	var err error
	// chromem may still reject nResults near the document count; step down.
	for k := topK; k > 0; k-- {
		results, err = i.col.QueryEmbedding(ctx, vector, k, nil, nil)
		if err == nil {
			break
		}
		logx.Debug().Err(err).Int("k", k).Msg("vector query rejected, retrying with fewer results")
	}
	if err != nil {
		return nil, fmt.Errorf("query vectorstore: %w", err)
	}

	out := make([]Passage, 0, len(results))
	for _, r := range results {
		text := r.Metadata["text"]
		if text == "" {
			text = r.Content
		}
		out = append(out, Passage{ID: r.ID, Text: text, Metadata: r.Metadata, Score: r.Similarity})
	}
	return out, nil
}
