package vectorstore

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Record is one stored embedding plus the metadata needed to filter and
// render it without a round-trip to the relational store. ID is the
// owning chunk's id; Metadata carries at least filename, chunkIndex,
// heading, hierarchy, and startPage.
type Record struct {
	ID         string
	DocumentID string
	Content    string
	Embedding  []float32
	Metadata   map[string]string
}

// Filter narrows a search to a document set (membership) and/or a
// hierarchy prefix.
type Filter struct {
	DocumentIDs []string
	Hierarchy   string
}

func (f Filter) matches(r Record) bool {
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == r.DocumentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Hierarchy != "" {
		h := r.Metadata["hierarchy"]
		if !strings.HasPrefix(h, f.Hierarchy) {
			return false
		}
	}
	return true
}

// Result is a ranked search hit.
type Result struct {
	Record Record
	Score  float64
}

// Store is the vector-store contract: insert, filtered top-K cosine
// search, and delete-by-document. Both the in-memory default (Memory,
// below) and the sqlite-vec-backed alternative (see sqlite.go) satisfy
// it with identical filter semantics and the same score-descending,
// insertion-order-tiebreak ranking.
type Store interface {
	Insert(records []Record) error
	Search(queryVec []float32, topK int, filter Filter) ([]Result, error)
	DeleteByDocumentID(documentID string) error
}

// Memory is the default in-memory brute-force cosine store: one map from
// id to record, scanned linearly per search. Fine for corpora in the
// tens of thousands of chunks; larger deployments use the sqlite-vec
// backend instead.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	order   map[string]int // insertion sequence, for stable tie-break
	seq     int
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record), order: make(map[string]int)}
}

func (m *Memory) Insert(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, exists := m.records[r.ID]; !exists {
			m.order[r.ID] = m.seq
			m.seq++
		}
		m.records[r.ID] = r
	}
	return nil
}

func (m *Memory) Search(queryVec []float32, topK int, filter Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, r := range m.records {
		if !filter.matches(r) {
			continue
		}
		score := cosineSimilarity(queryVec, r.Embedding)
		results = append(results, Result{Record: r, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return m.order[results[i].Record.ID] < m.order[results[j].Record.ID]
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) DeleteByDocumentID(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.DocumentID == documentID {
			delete(m.records, id)
			delete(m.order, id)
		}
	}
	return nil
}

// cosineSimilarity computes the cosine of the angle between a and b,
// returning 0 for mismatched or zero-magnitude vectors rather than NaN so
// a pathological record never outranks a legitimate one.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
