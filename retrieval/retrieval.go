package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docqa/bm25"
	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/vectorstore"
)

const (
	defaultTopK                   = 10
	defaultSmallDocumentThreshold = 10
	defaultSimilarityThreshold    = 0.5
	shortQueryThreshold           = 50
	fallbackScoreMultiplier       = 1.2
	maxCitations                  = 5
	excerptLength                 = 300
	smallDocExcerptLength         = 200
)

// Config carries the rag.* knobs the retrieval engine consumes: default
// result count, the chunk-count ceiling for the small-document shortcut,
// and the dense-score floor feeding the hierarchy-fallback condition.
type Config struct {
	TopK                   int
	SmallDocumentThreshold int
	SimilarityThreshold    float64
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.SmallDocumentThreshold <= 0 {
		c.SmallDocumentThreshold = defaultSmallDocumentThreshold
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
}

// DocumentInfo is what the retrieval engine needs to know about a
// document without owning its persistence — chunk count and full text
// for the small-document shortcut, filename for citation display.
type DocumentInfo struct {
	ID         string
	Filename   string
	ChunkCount int
	FullText   string
}

// DocumentSource resolves document metadata and hierarchy candidates;
// implemented by the persistence layer (store.DocumentSource).
// Kept as a narrow local interface so retrieval does not import store.
type DocumentSource interface {
	Get(ctx context.Context, documentID string) (DocumentInfo, error)
	DistinctHierarchies(ctx context.Context, documentID string) ([]string, error)
}

// Citation is one source reference attached to an answer; at most
// maxCitations are emitted per search.
type Citation struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	PageNumber   int
	Excerpt      string
	Score        float64
}

// SearchOutput is what a retrieval call returns: the assembled context
// string ready to embed in a prompt, plus citations.
type SearchOutput struct {
	Context   string
	Citations []Citation
}

// hit is one chunk after fusion, carrying whichever content/metadata was
// available from the dense or BM25 side (dense is preferred when a chunk
// appears in both).
type hit struct {
	chunkID    string
	documentID string
	content    string
	metadata   map[string]string
	score      float64
}

// Engine is the hybrid retrieval core: small-document shortcut,
// LLM-based query expansion for short single-document queries, routed
// dense search with hierarchy prefilter and fallback, BM25 search on the
// unexpanded query, and unweighted two-way RRF fusion.
type Engine struct {
	vectors  vectorstore.Store
	bm25     *bm25.Index
	embedder *embedding.Client
	router   *llm.Router
	docs     DocumentSource
	cfg      Config
}

func New(vectors vectorstore.Store, index *bm25.Index, embedder *embedding.Client, router *llm.Router, docs DocumentSource, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{vectors: vectors, bm25: index, embedder: embedder, router: router, docs: docs, cfg: cfg}
}

// Search runs the full retrieval pipeline for one query against
// documentIDs (0 = whole corpus, 1 = single-document mode with hierarchy
// routing, 2+ = multi-document mode).
func (e *Engine) Search(ctx context.Context, query string, documentIDs []string, topK int) (*SearchOutput, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	if len(documentIDs) == 1 {
		if out, ok, err := e.smallDocumentShortcut(ctx, documentIDs[0]); err != nil {
			return nil, err
		} else if ok {
			return out, nil
		}
	}

	expanded := e.expandQuery(ctx, query, documentIDs)

	var dense []vectorstore.Result
	var bm25Results []bm25.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := e.denseSearch(gctx, expanded, documentIDs, topK)
		if err != nil {
			slog.Warn("retrieval: dense search failed", "error", err)
			return nil
		}
		dense = results
		return nil
	})
	g.Go(func() error {
		bm25Results = e.bm25Search(query, documentIDs, topK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := e.fuse(dense, bm25Results, topK)
	return e.assembleOutput(fused, documentIDs), nil
}

// smallDocumentShortcut bypasses retrieval entirely for a single
// document whose chunk count is at or below the threshold and whose full
// text is present: the full text becomes the sole context, with one
// synthetic citation.
func (e *Engine) smallDocumentShortcut(ctx context.Context, documentID string) (*SearchOutput, bool, error) {
	info, err := e.docs.Get(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("resolving document %s: %w", documentID, err)
	}
	if info.ChunkCount > e.cfg.SmallDocumentThreshold || info.FullText == "" {
		return nil, false, nil
	}

	return &SearchOutput{
		Context: info.FullText,
		Citations: []Citation{{
			ChunkID:      "full-document",
			DocumentID:   documentID,
			DocumentName: info.Filename,
			Excerpt:      truncate(info.FullText, smallDocExcerptLength),
			Score:        1,
		}},
	}, true, nil
}

// expandQuery applies only to single-document searches with a short
// (≤50 char) query: ask the LLM to rephrase with synonyms, and
// concatenate (never replace) the result, preserving exact-keyword
// recall. Failure is non-fatal.
func (e *Engine) expandQuery(ctx context.Context, query string, documentIDs []string) string {
	if len(documentIDs) != 1 || len(query) > shortQueryThreshold || e.router == nil {
		return query
	}

	prompt := fmt.Sprintf("Rephrase this search query into a more complete query with synonyms, to improve recall. Query: %q\n\nReply with the rephrased query only.", query)
	resp, err := e.router.Primary().Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil {
		slog.Warn("retrieval: query expansion failed, using original query", "error", err)
		return query
	}

	expansion := strings.TrimSpace(resp.Content)
	if expansion == "" {
		return query
	}
	return query + " " + expansion
}

// denseSearch embeds the (possibly expanded) query and runs routed dense
// search: hierarchy prediction for single-document mode, a documentId
// filter always, and a fallback that drops the hierarchy filter and
// re-searches when the filtered results look too thin.
func (e *Engine) denseSearch(ctx context.Context, query string, documentIDs []string, topK int) ([]vectorstore.Result, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := vectorstore.Filter{DocumentIDs: documentIDs}

	var hasPrediction bool
	if len(documentIDs) == 1 && e.router != nil {
		hierarchies, err := e.docs.DistinctHierarchies(ctx, documentIDs[0])
		if err == nil && len(hierarchies) > 0 {
			predicted, ok := e.router.PredictHierarchy(ctx, query, hierarchies)
			if ok {
				filter.Hierarchy = predicted
				hasPrediction = true
			}
		}
	}

	results, err := e.vectors.Search(vec, topK, filter)
	if err != nil {
		return nil, err
	}

	if hasPrediction && shouldFallback(results, topK, e.cfg.SimilarityThreshold) {
		filter.Hierarchy = ""
		results, err = e.vectors.Search(vec, topK, filter)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// shouldFallback reports whether hierarchy-filtered results look too
// thin to trust: empty, fewer than max(2, topK/2), or a top score below
// threshold·1.2.
func shouldFallback(results []vectorstore.Result, topK int, threshold float64) bool {
	if len(results) == 0 {
		return true
	}
	minCount := topK / 2
	if minCount < 2 {
		minCount = 2
	}
	if len(results) < minCount {
		return true
	}
	return results[0].Score < threshold*fallbackScoreMultiplier
}

// bm25Search runs BM25 against the original (unexpanded) query, scoped
// to documentIDs when given, else the whole corpus. Multi-document
// searches run per document at max(topK, 5) then merge and dedupe.
func (e *Engine) bm25Search(query string, documentIDs []string, topK int) []bm25.Result {
	if len(documentIDs) == 0 {
		return e.bm25.SearchAll(query, topK)
	}
	if len(documentIDs) == 1 {
		return e.bm25.Search(documentIDs[0], query, topK)
	}

	perDocK := topK
	if perDocK < 5 {
		perDocK = 5
	}
	seen := make(map[string]bm25.Result)
	for _, id := range documentIDs {
		for _, r := range e.bm25.Search(id, query, perDocK) {
			if existing, ok := seen[r.ChunkID]; !ok || r.Score > existing.Score {
				seen[r.ChunkID] = r
			}
		}
	}
	out := make([]bm25.Result, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// fuse runs the two ranked lists through unweighted two-way RRF (rrf.go)
// and reassembles full hits, preferring dense content/metadata over BM25's
// when a chunk id appears in both.
func (e *Engine) fuse(dense []vectorstore.Result, bm25Results []bm25.Result, topK int) []hit {
	denseIDs := make([]rankedID, len(dense))
	byID := make(map[string]hit, len(dense)+len(bm25Results))
	for i, r := range dense {
		denseIDs[i] = rankedID{ChunkID: r.Record.ID}
		byID[r.Record.ID] = hit{
			chunkID:    r.Record.ID,
			documentID: r.Record.DocumentID,
			content:    r.Record.Content,
			metadata:   r.Record.Metadata,
			score:      r.Score,
		}
	}

	bmIDs := make([]rankedID, len(bm25Results))
	for i, r := range bm25Results {
		bmIDs[i] = rankedID{ChunkID: r.ChunkID}
		if _, exists := byID[r.ChunkID]; !exists {
			byID[r.ChunkID] = hit{
				chunkID:    r.ChunkID,
				documentID: r.Metadata["documentId"],
				content:    r.Content,
				metadata:   r.Metadata,
				score:      r.Score,
			}
		}
	}

	fused := fuseRRF(denseIDs, bmIDs, topK)
	out := make([]hit, 0, len(fused))
	for _, f := range fused {
		h, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		h.score = f.Score
		out = append(out, h)
	}
	return out
}

// assembleOutput builds the final context string and citation list:
// numbered chunks, a 【文档：<filename>】 prefix on each chunk when more
// than one document is in scope, and at most maxCitations citation
// entries with a 300-char excerpt.
func (e *Engine) assembleOutput(hits []hit, documentIDs []string) *SearchOutput {
	multiDoc := len(documentIDs) != 1

	var b strings.Builder
	for i, h := range hits {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		if multiDoc {
			b.WriteString("【文档：")
			b.WriteString(h.metadata["filename"])
			b.WriteString("】")
		}
		b.WriteString(h.content)
		b.WriteString("\n\n")
	}

	citations := make([]Citation, 0, maxCitations)
	for i, h := range hits {
		if i >= maxCitations {
			break
		}
		page := 0
		if v, err := strconv.Atoi(h.metadata["startPage"]); err == nil {
			page = v
		}
		citations = append(citations, Citation{
			ChunkID:      h.chunkID,
			DocumentID:   h.documentID,
			DocumentName: h.metadata["filename"],
			PageNumber:   page,
			Excerpt:      truncate(h.content, excerptLength),
			Score:        h.score,
		})
	}

	return &SearchOutput{Context: b.String(), Citations: citations}
}

// truncate cuts s to at most n characters, counting runes rather than
// bytes so a multi-byte CJK character is never split mid-codepoint.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
