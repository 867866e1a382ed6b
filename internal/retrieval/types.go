package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Document is one retrievable unit of corpus content.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever returns the documents most relevant to a query, ranked
// best-first, at most topK of them, possibly none. Ranking internals are
// opaque to callers.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}

// Indexer is implemented by retrievers that own their corpus and accept new
// documents at runtime.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Config controls retriever construction.
type Config struct {
	Provider string

	// Embedding settings for the vector backend.
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
}

// NewRetriever builds the configured retriever backend.
func NewRetriever(cfg Config) (Retriever, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "bm25"
	}

	switch mode {
	case "bm25":
		return NewBM25Index(), nil
	case "vector":
		if strings.TrimSpace(cfg.EmbeddingAPIKey) == "" {
			return nil, errors.New("EMBEDDING_API_KEY is required for the vector retriever")
		}
		return NewVectorIndex(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("unsupported retriever provider %q", cfg.Provider)
	}
}
