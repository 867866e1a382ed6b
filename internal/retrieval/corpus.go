package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	corpusChunkSize    = 1200
	corpusChunkOverlap = 150
)

var corpusExtensions = map[string]struct{}{
	".txt": {},
	".md":  {},
}

// CorpusLoader reads text files from a directory, splits them into chunks and
// feeds them to an Indexer.
type CorpusLoader struct {
	dir      string
	indexer  Indexer
	splitter textsplitter.RecursiveCharacter
}

func NewCorpusLoader(dir string, indexer Indexer) *CorpusLoader {
	return &CorpusLoader{
		dir:     dir,
		indexer: indexer,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(corpusChunkSize),
			textsplitter.WithChunkOverlap(corpusChunkOverlap),
		),
	}
}

// Load walks the corpus directory and indexes every supported file. It
// returns the number of chunks indexed.
func (l *CorpusLoader) Load(ctx context.Context) (int, error) {
	if strings.TrimSpace(l.dir) == "" {
		return 0, nil
	}

	var docs []Document
	err := filepath.WalkDir(l.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if _, ok := corpusExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		chunks, err := l.loadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, chunks...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk corpus dir %q: %w", l.dir, err)
	}

	if len(docs) == 0 {
		return 0, nil
	}
	if err := l.indexer.Index(ctx, docs); err != nil {
		return 0, fmt.Errorf("index corpus: %w", err)
	}
	return len(docs), nil
}

func (l *CorpusLoader) loadFile(path string) ([]Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file %q: %w", path, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}

	chunks, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split corpus file %q: %w", path, err)
	}

	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	docs := make([]Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, Document{
			ID:      fmt.Sprintf("%s#%d", rel, i),
			Content: chunk,
			Metadata: map[string]string{
				"source": rel,
			},
		})
	}
	return docs, nil
}
