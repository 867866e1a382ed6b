package retrieval

import (
	"context"
	"testing"
)

func seedIndex(t *testing.T) *BM25Index {
	t.Helper()
	idx := NewBM25Index()
	docs := []Document{
		{ID: "1", Content: "Paris is the capital of France."},
		{ID: "2", Content: "Berlin is the capital of Germany."},
		{ID: "3", Content: "The Eiffel Tower stands in Paris, France."},
		{ID: "4", Content: "Go is a statically typed programming language."},
	}
	if err := idx.Index(context.Background(), docs); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	return idx
}

func TestRetrieveRanksRelevantDocumentsFirst(t *testing.T) {
	idx := seedIndex(t)

	got, err := idx.Retrieve(context.Background(), "capital of France", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Retrieve() returned %d documents, want 2", len(got))
	}
	if got[0].ID != "1" {
		t.Fatalf("top document = %q, want document 1 (capital of France)", got[0].ID)
	}
}

func TestRetrieveHonorsTopK(t *testing.T) {
	idx := seedIndex(t)

	got, err := idx.Retrieve(context.Background(), "capital", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d documents, want 1", len(got))
	}
}

func TestRetrieveNoMatchesReturnsEmpty(t *testing.T) {
	idx := seedIndex(t)

	got, err := idx.Retrieve(context.Background(), "quantum entanglement", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Retrieve() returned %d documents, want 0", len(got))
	}
}

func TestRetrieveEmptyIndexReturnsEmpty(t *testing.T) {
	idx := NewBM25Index()

	got, err := idx.Retrieve(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Retrieve() on empty index returned %d documents, want 0", len(got))
	}
}

func TestIndexReplacesExistingDocument(t *testing.T) {
	idx := NewBM25Index()
	ctx := context.Background()

	if err := idx.Index(ctx, []Document{{ID: "1", Content: "old topic: sailing"}}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if err := idx.Index(ctx, []Document{{ID: "1", Content: "new topic: astronomy"}}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	if idx.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after re-index", idx.Count())
	}

	got, err := idx.Retrieve(ctx, "sailing", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Retrieve() found the replaced content, want none")
	}

	got, err = idx.Retrieve(ctx, "astronomy", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d documents for new content, want 1", len(got))
	}
}

func TestNewRetrieverModeSelection(t *testing.T) {
	if _, err := NewRetriever(Config{Provider: "bm25"}); err != nil {
		t.Fatalf("NewRetriever(bm25) error = %v", err)
	}
	if _, err := NewRetriever(Config{}); err != nil {
		t.Fatalf("NewRetriever(default) error = %v", err)
	}
	if _, err := NewRetriever(Config{Provider: "vector"}); err == nil {
		t.Fatalf("NewRetriever(vector) without embedding key: error = nil, want error")
	}
	if _, err := NewRetriever(Config{Provider: "nope"}); err == nil {
		t.Fatalf("NewRetriever(nope) error = nil, want error")
	}
}
