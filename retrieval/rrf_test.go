package retrieval

import "testing"

func TestFuseRRF_RanksAgreementHigher(t *testing.T) {
	dense := []rankedID{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	bm25 := []rankedID{{ChunkID: "b"}, {ChunkID: "a"}}

	got := fuseRRF(dense, bm25, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 fused entries, got %d", len(got))
	}
	if got[0].ChunkID != "a" && got[0].ChunkID != "b" {
		t.Fatalf("expected a or b (present in both lists) to rank first, got %s", got[0].ChunkID)
	}
	for _, r := range got {
		if r.ChunkID == "c" {
			continue
		}
	}
}

func TestFuseRRF_ExactScoresAndOrder(t *testing.T) {
	dense := []rankedID{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	bm25 := []rankedID{{ChunkID: "c"}, {ChunkID: "a"}, {ChunkID: "d"}}

	got := fuseRRF(dense, bm25, 4)
	wantOrder := []string{"a", "c", "b", "d"}
	wantScores := []float64{
		1.0/61 + 1.0/62, // a: dense rank 1, bm25 rank 2
		1.0/63 + 1.0/61, // c: dense rank 3, bm25 rank 1
		1.0 / 62,        // b: dense rank 2 only
		1.0 / 63,        // d: bm25 rank 3 only
	}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d fused entries, got %d", len(wantOrder), len(got))
	}
	for i := range got {
		if got[i].ChunkID != wantOrder[i] {
			t.Errorf("rank %d = %s, want %s", i+1, got[i].ChunkID, wantOrder[i])
		}
		if diff := got[i].Score - wantScores[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("score[%d] = %v, want %v", i, got[i].Score, wantScores[i])
		}
	}
}

func TestFuseRRF_ArgumentOrderDoesNotChangeRanking(t *testing.T) {
	l1 := []rankedID{{ChunkID: "a"}, {ChunkID: "b"}}
	l2 := []rankedID{{ChunkID: "b"}, {ChunkID: "c"}}

	fwd := fuseRRF(l1, l2, 10)
	rev := fuseRRF(l2, l1, 10)
	if len(fwd) != len(rev) {
		t.Fatalf("length mismatch: %d vs %d", len(fwd), len(rev))
	}
	for i := range fwd {
		if fwd[i].ChunkID != rev[i].ChunkID {
			t.Errorf("rank %d: %s vs %s", i+1, fwd[i].ChunkID, rev[i].ChunkID)
		}
	}
}

func TestFuseRRF_TruncatesToTopK(t *testing.T) {
	dense := []rankedID{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}, {ChunkID: "d"}}
	got := fuseRRF(dense, nil, 2)
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(got))
	}
}

func TestFuseRRF_EmptyListsReturnEmpty(t *testing.T) {
	got := fuseRRF(nil, nil, 10)
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestFuseRRF_OnlyOneListContributes(t *testing.T) {
	bm25 := []rankedID{{ChunkID: "x"}, {ChunkID: "y"}}
	got := fuseRRF(nil, bm25, 10)
	if len(got) != 2 || got[0].ChunkID != "x" {
		t.Fatalf("expected x ranked first from bm25-only list, got %+v", got)
	}
}
