package bm25

import "testing"

func TestSearch_RanksByTermRelevance(t *testing.T) {
	ix := NewIndex()
	ix.IndexDocument("doc1", []Chunk{
		{ID: "c1", Content: "the quick brown fox jumps over the lazy dog"},
		{ID: "c2", Content: "a completely unrelated sentence about cooking"},
		{ID: "c3", Content: "quick quick quick fox fox"},
	})

	results := ix.Search("doc1", "quick fox", 10)
	if len(results) == 0 {
		t.Fatalf("expected results, got none")
	}
	if results[0].ChunkID != "c3" {
		t.Fatalf("expected c3 (highest term frequency) ranked first, got %s", results[0].ChunkID)
	}
}

func TestSearch_UnrelatedQueryScoresZero(t *testing.T) {
	ix := NewIndex()
	ix.IndexDocument("doc1", []Chunk{
		{ID: "c1", Content: "apples and oranges"},
	})
	results := ix.Search("doc1", "xyzzy plugh", 10)
	if len(results) != 0 {
		t.Fatalf("expected no results for a query with no matching terms, got %+v", results)
	}
}

func TestSearch_IndexContentIsSearchedContentIsEchoed(t *testing.T) {
	ix := NewIndex()
	ix.IndexDocument("doc1", []Chunk{
		{ID: "c1", Content: "the raw chunk body", IndexContent: "installation steps\nthe raw chunk body"},
		{ID: "c2", Content: "another chunk"},
	})

	results := ix.Search("doc1", "installation", 10)
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("expected prefix terms to be searchable, got %+v", results)
	}
	if results[0].Content != "the raw chunk body" {
		t.Fatalf("expected raw content echoed back, got %q", results[0].Content)
	}
}

func TestSearch_UnknownDocumentReturnsNil(t *testing.T) {
	ix := NewIndex()
	if got := ix.Search("missing", "query", 5); got != nil {
		t.Fatalf("expected nil for unknown document, got %+v", got)
	}
}

func TestSearchAll_MergesAndDedupes(t *testing.T) {
	ix := NewIndex()
	ix.IndexDocument("doc1", []Chunk{{ID: "c1", Content: "apple banana cherry"}})
	ix.IndexDocument("doc2", []Chunk{{ID: "c2", Content: "apple apple apple"}})

	results := ix.SearchAll("apple", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 merged results, got %d", len(results))
	}
	if results[0].ChunkID != "c2" {
		t.Fatalf("expected higher term-frequency chunk ranked first, got %s", results[0].ChunkID)
	}
}

func TestDeleteDocument_RemovesFromSearchAll(t *testing.T) {
	ix := NewIndex()
	ix.IndexDocument("doc1", []Chunk{{ID: "c1", Content: "apple banana"}})
	ix.DeleteDocument("doc1")
	if got := ix.SearchAll("apple", 10); len(got) != 0 {
		t.Fatalf("expected no results after delete, got %+v", got)
	}
}

func TestTokenFrequencies_CJKEachCharIsOwnToken(t *testing.T) {
	freq, length := tokenFrequencies("你好世界")
	if length != 4 {
		t.Fatalf("expected 4 CJK tokens, got %d", length)
	}
	for _, ch := range []string{"你", "好", "世", "界"} {
		if freq[ch] != 1 {
			t.Fatalf("expected token %q counted once, got %d", ch, freq[ch])
		}
	}
}

func TestTokenFrequencies_LettersFormRuns(t *testing.T) {
	freq, length := tokenFrequencies("Hello, World!")
	if length != 2 {
		t.Fatalf("expected 2 tokens, got %d", length)
	}
	if freq["hello"] != 1 || freq["world"] != 1 {
		t.Fatalf("expected lowercase hello/world tokens, got %+v", freq)
	}
}
