package bm25

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Chunk is one document's worth of BM25 input: an id, the content echoed
// back on a hit, and whatever metadata the caller wants alongside it.
// IndexContent, when set, is what gets tokenized instead of Content —
// ingestion indexes the context-prefixed text while hits still carry the
// raw chunk body for display.
type Chunk struct {
	ID           string
	Content      string
	IndexContent string
	Metadata     map[string]string
}

// Result is a ranked BM25 hit.
type Result struct {
	ChunkID  string
	Score    float64
	Content  string
	Metadata map[string]string
}

// docIndex is one document's inverted index: per chunk its
// term-frequency map and token length, plus the document's average
// chunk length for BM25 length normalisation.
type docIndex struct {
	mu         sync.RWMutex
	chunks     map[string]*indexedChunk
	avgLength  float64
	totalChunk int
}

type indexedChunk struct {
	content  string
	metadata map[string]string
	termFreq map[string]int
	length   int
}

// Index owns one docIndex per document, so a multi-document search runs
// each document's scoring independently before merging. Average length
// is per document, not global, which keeps one very long document from
// skewing another's normalisation — SQLite FTS5's bm25() can't express
// that, nor a tokenizer that treats each CJK codepoint as its own term,
// hence the hand-rolled index.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*docIndex
}

func NewIndex() *Index {
	return &Index{docs: make(map[string]*docIndex)}
}

// IndexDocument (re)builds the inverted index for one document's chunks,
// replacing any prior index for that document id.
func (ix *Index) IndexDocument(documentID string, chunks []Chunk) {
	di := &docIndex{chunks: make(map[string]*indexedChunk, len(chunks))}

	var total int
	for _, c := range chunks {
		indexed := c.IndexContent
		if indexed == "" {
			indexed = c.Content
		}
		tf, length := tokenFrequencies(indexed)
		di.chunks[c.ID] = &indexedChunk{
			content:  c.Content,
			metadata: c.Metadata,
			termFreq: tf,
			length:   length,
		}
		total += length
	}
	di.totalChunk = len(chunks)
	if di.totalChunk > 0 {
		di.avgLength = float64(total) / float64(di.totalChunk)
	}

	ix.mu.Lock()
	ix.docs[documentID] = di
	ix.mu.Unlock()
}

// DeleteDocument removes a document's index entirely.
func (ix *Index) DeleteDocument(documentID string) {
	ix.mu.Lock()
	delete(ix.docs, documentID)
	ix.mu.Unlock()
}

// Search scores one document's chunks against query. Chunks with score
// ≤ 0 are discarded; results are sorted descending and truncated to
// topK.
func (ix *Index) Search(documentID, query string, topK int) []Result {
	ix.mu.RLock()
	di, ok := ix.docs[documentID]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}
	return di.search(query, topK)
}

// SearchAll runs Search across every indexed document, merges results,
// dedupes by chunk id (keeping the highest score), sorts descending, and
// truncates to topK. Per-document search uses max(topK, 5) before the
// merge so small topK values don't starve the merged list.
func (ix *Index) SearchAll(query string, topK int) []Result {
	perDocK := topK
	if perDocK < 5 {
		perDocK = 5
	}

	ix.mu.RLock()
	docs := make([]*docIndex, 0, len(ix.docs))
	for _, di := range ix.docs {
		docs = append(docs, di)
	}
	ix.mu.RUnlock()

	seen := make(map[string]Result)
	for _, di := range docs {
		for _, r := range di.search(query, perDocK) {
			if existing, ok := seen[r.ChunkID]; !ok || r.Score > existing.Score {
				seen[r.ChunkID] = r
			}
		}
	}

	out := make([]Result, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (di *docIndex) search(query string, topK int) []Result {
	di.mu.RLock()
	defer di.mu.RUnlock()

	terms, _ := tokenFrequencies(query)
	if len(terms) == 0 || len(di.chunks) == 0 {
		return nil
	}

	df := make(map[string]int, len(terms))
	for term := range terms {
		for _, c := range di.chunks {
			if c.termFreq[term] > 0 {
				df[term]++
			}
		}
	}

	n := float64(len(di.chunks))
	var results []Result
	for id, c := range di.chunks {
		var score float64
		for term := range terms {
			tf := float64(c.termFreq[term])
			if tf == 0 {
				continue
			}
			dfTerm := float64(df[term])
			idf := math.Log((n-dfTerm+0.5)/(dfTerm+0.5) + 1)
			denom := tf + k1*(1-b+b*float64(c.length)/di.avgLength)
			score += idf * (tf * (k1 + 1)) / denom
		}
		if score > 0 {
			results = append(results, Result{
				ChunkID:  id,
				Score:    score,
				Content:  c.content,
				Metadata: c.metadata,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// tokenFrequencies tokenizes text: lowercase; every CJK
// codepoint (U+4E00..U+9FA5) is its own token; runs of letters/digits
// form a token; everything else delimits. Returns the term→frequency map
// and the total token count (chunk "length").
func tokenFrequencies(text string) (map[string]int, int) {
	text = strings.ToLower(text)
	freq := make(map[string]int)
	length := 0

	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		freq[cur.String()]++
		length++
		cur.Reset()
	}

	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FA5:
			flush()
			tok := string(r)
			freq[tok]++
			length++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return freq, length
}
