package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// BM25 constants, standard Okapi values.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

type indexedDoc struct {
	doc       Document
	termFreqs map[string]int
	length    int
}

// BM25Index is an in-memory lexical retriever ranked with Okapi BM25.
type BM25Index struct {
	mu       sync.RWMutex
	docs     []indexedDoc
	docFreqs map[string]int
	totalLen int
	byDocID  map[string]int
}

func NewBM25Index() *BM25Index {
	return &BM25Index{
		docFreqs: make(map[string]int),
		byDocID:  make(map[string]int),
	}
}

// Index adds documents to the corpus. Re-indexing an existing document ID
// replaces its content.
func (x *BM25Index) Index(_ context.Context, docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		terms := tokenize(doc.Content)
		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}

		if pos, ok := x.byDocID[doc.ID]; ok {
			x.removeStats(x.docs[pos])
			x.docs[pos] = indexedDoc{doc: doc, termFreqs: freqs, length: len(terms)}
		} else {
			x.byDocID[doc.ID] = len(x.docs)
			x.docs = append(x.docs, indexedDoc{doc: doc, termFreqs: freqs, length: len(terms)})
		}
		for term := range freqs {
			x.docFreqs[term]++
		}
		x.totalLen += len(terms)
	}
	return nil
}

func (x *BM25Index) removeStats(old indexedDoc) {
	for term := range old.termFreqs {
		if x.docFreqs[term] > 1 {
			x.docFreqs[term]--
		} else {
			delete(x.docFreqs, term)
		}
	}
	x.totalLen -= old.length
}

// Count returns the number of indexed documents.
func (x *BM25Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

func (x *BM25Index) Retrieve(_ context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.docs) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	avgLen := float64(x.totalLen) / float64(len(x.docs))
	if avgLen == 0 {
		avgLen = 1
	}

	type scored struct {
		pos   int
		score float64
	}
	results := make([]scored, 0, len(x.docs))

	for pos, d := range x.docs {
		var score float64
		for _, term := range queryTerms {
			tf := d.termFreqs[term]
			if tf == 0 {
				continue
			}
			df := x.docFreqs[term]
			idf := math.Log(1 + (float64(len(x.docs))-float64(df)+0.5)/(float64(df)+0.5))
			norm := float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen))
			score += idf * norm
		}
		if score > 0 {
			results = append(results, scored{pos: pos, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]Document, 0, len(results))
	for _, r := range results {
		out = append(out, x.docs[r.pos].doc)
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
