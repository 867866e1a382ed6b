package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const corpusCollection = "corpus"

// VectorIndex is a semantic retriever backed by an in-process chromem-go
// collection with an OpenAI-compatible embedding endpoint.
type VectorIndex struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

func NewVectorIndex(apiKey, baseURL, model string) (*VectorIndex, error) {
	if strings.TrimSpace(model) == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}

	var embed chromem.EmbeddingFunc
	if strings.TrimSpace(baseURL) != "" {
		embed = chromem.NewEmbeddingFuncOpenAICompat(strings.TrimRight(baseURL, "/"), apiKey, model, nil)
	} else {
		embed = chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(corpusCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	return &VectorIndex{db: db, collection: collection}, nil
}

func (x *VectorIndex) Index(ctx context.Context, docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		err := x.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("index document %q: %w", doc.ID, err)
		}
	}
	return nil
}

func (x *VectorIndex) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	count := x.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := x.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]Document, 0, len(results))
	for _, r := range results {
		out = append(out, Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata})
	}
	return out, nil
}
