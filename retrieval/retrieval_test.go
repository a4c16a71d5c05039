package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/brunobiangulo/docqa/bm25"
	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/vectorstore"
)

// fakeEmbedBackend returns a fixed vector per input so dense search
// results are deterministic without a real embedding provider.
type fakeEmbedBackend struct {
	vec []float32
}

func (f *fakeEmbedBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeDocs struct {
	docs map[string]DocumentInfo
}

func (f *fakeDocs) Get(ctx context.Context, documentID string) (DocumentInfo, error) {
	return f.docs[documentID], nil
}

func (f *fakeDocs) DistinctHierarchies(ctx context.Context, documentID string) ([]string, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *vectorstore.Memory, *bm25.Index) {
	t.Helper()
	vs := vectorstore.NewMemory()
	idx := bm25.NewIndex()
	embedder := embedding.New(&fakeEmbedBackend{vec: []float32{1, 0, 0}}, 10)
	docs := &fakeDocs{docs: map[string]DocumentInfo{}}
	return New(vs, idx, embedder, nil, docs, Config{}), vs, idx
}

func TestEngine_SmallDocumentShortcut(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.docs = &fakeDocs{docs: map[string]DocumentInfo{
		"doc-1": {ID: "doc-1", Filename: "short.md", ChunkCount: 3, FullText: "the entire short document"},
	}}

	out, err := engine.Search(context.Background(), "anything", []string{"doc-1"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if out.Context != "the entire short document" {
		t.Fatalf("expected full text as context, got %q", out.Context)
	}
	if len(out.Citations) != 1 || out.Citations[0].ChunkID != "full-document" {
		t.Fatalf("expected single synthetic citation, got %+v", out.Citations)
	}
}

func TestEngine_SearchFusesDenseAndBM25(t *testing.T) {
	engine, vs, idx := newTestEngine(t)
	engine.docs = &fakeDocs{docs: map[string]DocumentInfo{
		"doc-1": {ID: "doc-1", Filename: "manual.md", ChunkCount: 50},
	}}

	vs.Insert([]vectorstore.Record{
		{ID: "c1", DocumentID: "doc-1", Content: "voltage regulator output stage", Embedding: []float32{1, 0, 0},
			Metadata: map[string]string{"filename": "manual.md", "startPage": "2"}},
		{ID: "c2", DocumentID: "doc-1", Content: "unrelated installation steps", Embedding: []float32{0, 1, 0},
			Metadata: map[string]string{"filename": "manual.md", "startPage": "9"}},
	})
	idx.IndexDocument("doc-1", []bm25.Chunk{
		{ID: "c1", Content: "voltage regulator output stage",
			Metadata: map[string]string{"documentId": "doc-1", "filename": "manual.md", "startPage": "2"}},
		{ID: "c2", Content: "unrelated installation steps",
			Metadata: map[string]string{"documentId": "doc-1", "filename": "manual.md", "startPage": "9"}},
	})

	out, err := engine.Search(context.Background(), "voltage regulator", []string{"doc-1"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out.Citations) == 0 {
		t.Fatalf("expected at least one citation")
	}
	if out.Citations[0].ChunkID != "c1" {
		t.Fatalf("expected c1 ranked first, got %+v", out.Citations)
	}
	if strings.Contains(out.Context, "【文档：") {
		t.Fatalf("single-document search should not prefix chunks with a document name")
	}
}

func TestEngine_SearchMultiDocumentPrefixesContext(t *testing.T) {
	engine, vs, idx := newTestEngine(t)
	engine.docs = &fakeDocs{docs: map[string]DocumentInfo{
		"doc-1": {ID: "doc-1", Filename: "a.md", ChunkCount: 50},
		"doc-2": {ID: "doc-2", Filename: "b.md", ChunkCount: 50},
	}}

	vs.Insert([]vectorstore.Record{
		{ID: "c1", DocumentID: "doc-1", Content: "power supply specs", Embedding: []float32{1, 0, 0},
			Metadata: map[string]string{"filename": "a.md"}},
		{ID: "c2", DocumentID: "doc-2", Content: "power supply wiring", Embedding: []float32{0.9, 0.1, 0},
			Metadata: map[string]string{"filename": "b.md"}},
	})
	idx.IndexDocument("doc-1", []bm25.Chunk{
		{ID: "c1", Content: "power supply specs", Metadata: map[string]string{"documentId": "doc-1", "filename": "a.md"}},
	})
	idx.IndexDocument("doc-2", []bm25.Chunk{
		{ID: "c2", Content: "power supply wiring", Metadata: map[string]string{"documentId": "doc-2", "filename": "b.md"}},
	})

	out, err := engine.Search(context.Background(), "power supply", []string{"doc-1", "doc-2"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(out.Context, "【文档：a.md】") && !strings.Contains(out.Context, "【文档：b.md】") {
		t.Fatalf("expected document-name prefix in multi-document context, got %q", out.Context)
	}
	if len(out.Citations) > maxCitations {
		t.Fatalf("expected at most %d citations, got %d", maxCitations, len(out.Citations))
	}
}

func TestEngine_SearchEmptyCorpusReturnsNoCitations(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.docs = &fakeDocs{docs: map[string]DocumentInfo{}}

	out, err := engine.Search(context.Background(), "anything", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out.Citations) != 0 {
		t.Fatalf("expected no citations, got %+v", out.Citations)
	}
}

func TestShouldFallback(t *testing.T) {
	tests := []struct {
		name    string
		results []vectorstore.Result
		topK    int
		want    bool
	}{
		{"empty", nil, 10, true},
		{"too few", []vectorstore.Result{{Score: 0.9}}, 10, true},
		{"low score", []vectorstore.Result{{Score: 0.1}, {Score: 0.05}, {Score: 0.01}}, 4, true},
		{"sufficient", []vectorstore.Result{{Score: 0.9}, {Score: 0.8}, {Score: 0.7}}, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldFallback(tt.results, tt.topK, defaultSimilarityThreshold); got != tt.want {
				t.Fatalf("shouldFallback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("expected truncation to 5 chars, got %q", got)
	}
	if got := truncate("文档内容摘要", 3); got != "文档内" {
		t.Fatalf("expected rune-based truncation of CJK text, got %q", got)
	}
}
